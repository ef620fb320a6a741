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

package decode

import (
	"encoding/json"

	"github.com/carverauto/oisp-sensor/pkg/models"
	"github.com/carverauto/oisp-sensor/pkg/reassembly"
	"github.com/carverauto/oisp-sensor/pkg/tracker"
)

func (d *Decoder) decodeChunk(em *tracker.Emit, frame *reassembly.SSEFrame) []*models.Event {
	meta := em.Meta

	if meta.StreamClosed {
		return nil
	}

	if frame.Done() {
		// OpenAI terminates with a [DONE] sentinel.
		return d.finishStream(em)
	}

	body := parseJSONObject([]byte(frame.Data))
	if body == nil {
		return nil
	}

	if meta.Provider == ProviderUnknown {
		meta.Provider = providerFromBody(body)
	}

	delta, finish := extractDelta(body, frame.Event)

	// Anthropic threads model and usage through dedicated event types.
	switch jsonString(body, "type") {
	case "message_start":
		if msg := parseJSONObject(body["message"]); msg != nil {
			if m := jsonString(msg, "model"); m != "" {
				meta.Model = m
			}

			if u := parseUsage(msg["usage"]); u != nil {
				meta.PromptTokens = u.PromptTokens
			}
		}

		return nil
	case "message_delta":
		if u := parseUsage(body["usage"]); u != nil {
			meta.CompletionTokens = u.CompletionTokens
		}

		if finish != "" {
			meta.FinishReason = finish
		}

		return nil
	case "message_stop":
		return d.finishStream(em)
	case "ping", "content_block_start", "content_block_stop":
		return nil
	}

	if m := jsonString(body, "model"); m != "" && meta.Model == "" {
		meta.Model = m
	}

	if u := parseUsage(body["usage"]); u != nil {
		// OpenAI sends usage on the final chunk when requested.
		meta.PromptTokens = u.PromptTokens
		meta.CompletionTokens = u.CompletionTokens
	}

	if finish != "" {
		meta.FinishReason = finish
	}

	if delta == "" && finish == "" {
		return nil
	}

	ev := d.newEvent(models.EventAIStreamChunk, em)
	ev.StreamChunk = &models.StreamChunkData{
		RequestID:    meta.RequestID,
		ChunkIndex:   meta.ChunkIndex,
		DeltaContent: delta,
		FinishReason: finish,
	}
	meta.ChunkIndex++

	degrade(ev, em, false)

	return []*models.Event{ev}
}

// finishStream synthesizes the terminal ai.response for a streamed request
// from the state accumulated across chunks.
func (d *Decoder) finishStream(em *tracker.Emit) []*models.Event {
	meta := em.Meta
	meta.StreamClosed = true

	ev := d.newEvent(models.EventAIResponse, em)
	ev.AIResponse = &models.AIResponseData{
		RequestID:    meta.RequestID,
		Provider:     meta.Provider,
		Model:        meta.Model,
		FinishReason: meta.FinishReason,
		LatencyMs:    latencyMs(em),
	}

	if meta.PromptTokens > 0 || meta.CompletionTokens > 0 {
		ev.AIResponse.Usage = &models.Usage{
			PromptTokens:     meta.PromptTokens,
			CompletionTokens: meta.CompletionTokens,
			TotalTokens:      meta.PromptTokens + meta.CompletionTokens,
		}
	}

	degrade(ev, em, false)

	return []*models.Event{ev}
}

// extractDelta pulls the incremental text and finish reason from a chunk in
// either dialect.
func extractDelta(body map[string]json.RawMessage, _ string) (delta, finish string) {
	// OpenAI: choices[0].delta.content / finish_reason.
	if rawChoices, ok := body["choices"]; ok {
		var choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason string `json:"finish_reason"`
		}

		if err := json.Unmarshal(rawChoices, &choices); err == nil && len(choices) > 0 {
			return choices[0].Delta.Content, choices[0].FinishReason
		}

		return "", ""
	}

	// Anthropic: content_block_delta carries delta.text; message_delta
	// carries delta.stop_reason.
	if rawDelta, ok := body["delta"]; ok {
		var d struct {
			Text       string `json:"text"`
			StopReason string `json:"stop_reason"`
		}

		if err := json.Unmarshal(rawDelta, &d); err == nil {
			return d.Text, d.StopReason
		}
	}

	return "", ""
}
