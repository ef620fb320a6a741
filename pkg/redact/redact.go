/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package redact strips sensitive material from decoded events before they
// reach any sink. Events are treated as immutable; redaction returns a
// modified copy and applying it twice yields the same result as applying it
// once.
package redact

import (
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/carverauto/oisp-sensor/pkg/models"
)

// Redaction modes.
const (
	ModeFull    = "full"    // export content verbatim
	ModeSafe    = "safe"    // replace content, keep structure
	ModeMinimal = "minimal" // identifiers, types and timing only
)

// ErrUnknownMode is returned for a mode outside the supported set.
var ErrUnknownMode = fmt.Errorf("redact: unknown mode")

// placeholderRe recognizes content this engine already redacted, which keeps
// the transform idempotent.
var placeholderRe = regexp.MustCompile(`^\[REDACTED:\d+ chars\]$`)

// Engine applies the configured redaction mode. The mode is swappable at
// runtime without pausing the pipeline.
type Engine struct {
	mode atomic.Pointer[string]
}

// New creates an engine in the given mode.
func New(mode string) (*Engine, error) {
	e := &Engine{}
	if err := e.SetMode(mode); err != nil {
		return nil, err
	}

	return e, nil
}

// SetMode swaps the active mode. Safe to call while Apply runs on other
// goroutines.
func (e *Engine) SetMode(mode string) error {
	switch mode {
	case ModeFull, ModeSafe, ModeMinimal:
		e.mode.Store(&mode)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// Mode returns the active mode.
func (e *Engine) Mode() string {
	return *e.mode.Load()
}

// Apply redacts one event according to the active mode. The input is never
// mutated; full mode returns it unchanged.
func (e *Engine) Apply(ev *models.Event) *models.Event {
	switch e.Mode() {
	case ModeFull:
		return ev
	case ModeMinimal:
		return applyMinimal(ev)
	default:
		return applySafe(ev)
	}
}

func applySafe(ev *models.Event) *models.Event {
	out := clone(ev)
	changed := false

	switch {
	case out.AIRequest != nil:
		d := out.AIRequest
		d.Messages, changed = redactMessages(d.Messages)

		if d.Prompt != "" && !placeholderRe.MatchString(d.Prompt) {
			d.Prompt = placeholder(len(d.Prompt))
			changed = true
		}

		if scrubbed := ScrubSecrets(d.Endpoint); scrubbed != d.Endpoint {
			d.Endpoint = scrubbed
			changed = true
		}
	case out.AIResponse != nil:
		out.AIResponse.Messages, changed = redactMessages(out.AIResponse.Messages)
	case out.StreamChunk != nil:
		d := out.StreamChunk
		if d.DeltaContent != "" && !placeholderRe.MatchString(d.DeltaContent) {
			d.DeltaContent = placeholder(len(d.DeltaContent))
			changed = true
		}
	case out.ToolCall != nil:
		d := out.ToolCall
		if len(d.Input) > 0 {
			d.InputLength = len(d.Input)
			d.Input = nil
			changed = true
		}
	case out.ToolResult != nil:
		d := out.ToolResult
		if d.OutputPreview != "" && !placeholderRe.MatchString(d.OutputPreview) {
			d.OutputPreview = placeholder(len(d.OutputPreview))
			changed = true
		}
	case out.FileOpen != nil:
		if scrubbed := ScrubSecrets(out.FileOpen.Path); scrubbed != out.FileOpen.Path {
			out.FileOpen.Path = scrubbed
			changed = true
		}
	}

	if changed {
		out.Confidence.AddFlag(models.FlagRedacted)
	}

	return out
}

func applyMinimal(ev *models.Event) *models.Event {
	out := clone(ev)

	switch {
	case out.AIRequest != nil:
		d := out.AIRequest
		out.AIRequest = &models.AIRequestData{
			RequestID: d.RequestID,
			Provider:  d.Provider,
			Streaming: d.Streaming,
		}
	case out.AIResponse != nil:
		d := out.AIResponse
		out.AIResponse = &models.AIResponseData{
			RequestID:  d.RequestID,
			Provider:   d.Provider,
			StatusCode: d.StatusCode,
			LatencyMs:  d.LatencyMs,
		}
	case out.StreamChunk != nil:
		d := out.StreamChunk
		out.StreamChunk = &models.StreamChunkData{
			RequestID:  d.RequestID,
			ChunkIndex: d.ChunkIndex,
		}
	case out.ToolCall != nil:
		d := out.ToolCall
		out.ToolCall = &models.ToolCallData{
			CallID:    d.CallID,
			RequestID: d.RequestID,
		}
	case out.ToolResult != nil:
		d := out.ToolResult
		out.ToolResult = &models.ToolResultData{
			CallID:     d.CallID,
			Success:    d.Success,
			DurationMs: d.DurationMs,
		}
	case out.FileOpen != nil:
		out.FileOpen = &models.FileOpenData{}
	}

	out.Confidence.AddFlag(models.FlagRedacted)

	return out
}

func redactMessages(msgs []models.Message) ([]models.Message, bool) {
	if len(msgs) == 0 {
		return msgs, false
	}

	out := make([]models.Message, len(msgs))
	changed := false

	for i, m := range msgs {
		if m.Content != "" && !placeholderRe.MatchString(m.Content) {
			m.ContentLength = len(m.Content)
			m.Content = placeholder(len(m.Content))
			changed = true
		}

		out[i] = m
	}

	return out, changed
}

func placeholder(n int) string {
	return fmt.Sprintf("[REDACTED:%d chars]", n)
}

// clone copies the envelope and the active payload pointer so the original
// event is never written to.
func clone(ev *models.Event) *models.Event {
	out := *ev
	out.Confidence.Flags = append([]string(nil), ev.Confidence.Flags...)

	switch {
	case ev.AIRequest != nil:
		d := *ev.AIRequest
		out.AIRequest = &d
	case ev.AIResponse != nil:
		d := *ev.AIResponse
		out.AIResponse = &d
	case ev.StreamChunk != nil:
		d := *ev.StreamChunk
		out.StreamChunk = &d
	case ev.ToolCall != nil:
		d := *ev.ToolCall
		out.ToolCall = &d
	case ev.ToolResult != nil:
		d := *ev.ToolResult
		out.ToolResult = &d
	case ev.ProcessExec != nil:
		d := *ev.ProcessExec
		out.ProcessExec = &d
	case ev.ProcessExit != nil:
		d := *ev.ProcessExit
		out.ProcessExit = &d
	case ev.FileOpen != nil:
		d := *ev.FileOpen
		out.FileOpen = &d
	case ev.NetworkConnect != nil:
		d := *ev.NetworkConnect
		out.NetworkConnect = &d
	}

	return &out
}
