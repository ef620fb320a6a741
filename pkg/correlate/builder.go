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

// Package correlate groups AI events into traces. One goroutine owns the
// builder; events arrive in pipeline order and leave stamped with their
// trace id, while completed and abandoned traces are emitted as snapshots.
package correlate

import (
	"time"

	"github.com/carverauto/oisp-sensor/pkg/logger"
	"github.com/carverauto/oisp-sensor/pkg/models"
	"github.com/rs/zerolog"
)

// SnapshotFunc receives a read-only trace snapshot on every state
// transition out of Open.
type SnapshotFunc func(models.Trace)

// openTrace wraps a trace with the bookkeeping the builder needs while the
// trace is live.
type openTrace struct {
	trace        *models.Trace
	lastActivity time.Time

	// terminalAt is the time of the last terminal response, zero while
	// the interaction is still in flight. Follow-up activity clears it.
	terminalAt time.Time

	requestIDs []string
	callIDs    []string
	connKeys   []string
}

// Builder assembles traces. Not safe for concurrent use.
type Builder struct {
	cfg  models.CorrelateConfig
	log  zerolog.Logger
	emit SnapshotFunc

	open      map[string]*openTrace
	byRequest map[string]string // request_id -> trace_id
	byCall    map[string]string // call_id -> trace_id
	byConn    map[string]string // connection key -> trace_id

	orphans uint64
}

// New creates a trace builder. emit may be nil when no sink consumes
// snapshots.
func New(cfg models.CorrelateConfig, emit SnapshotFunc, log logger.Logger) *Builder {
	if emit == nil {
		emit = func(models.Trace) {}
	}

	return &Builder{
		cfg:       cfg,
		log:       log.WithComponent("correlate"),
		emit:      emit,
		open:      make(map[string]*openTrace),
		byRequest: make(map[string]string),
		byCall:    make(map[string]string),
		byConn:    make(map[string]string),
	}
}

// Orphans returns how many events could not be linked to an existing trace
// by identifier or connection.
func (b *Builder) Orphans() uint64 {
	return b.orphans
}

// OpenCount returns the number of live traces.
func (b *Builder) OpenCount() int {
	return len(b.open)
}

// Observe links one event into a trace and stamps its trace id. Events that
// do not participate in tracing pass through untouched.
func (b *Builder) Observe(ev *models.Event) {
	if !participates(ev) {
		return
	}

	ot, fresh := b.resolve(ev)

	if fresh && ev.AIRequest == nil {
		// A trace that had to be synthesized for anything but a request
		// start means the request was never observed.
		ev.Confidence.AddFlag(models.FlagOrphaned)
		b.orphans++
	}

	ev.TraceID = ot.trace.TraceID
	ot.trace.Events = append(ot.trace.Events, ev)
	ot.lastActivity = ev.TS

	b.index(ot, ev)
	b.aggregate(ot, ev)

	switch {
	case ev.AIResponse != nil:
		// A response is terminal unless the stream is still open; chunk
		// events keep arriving while it is.
		ot.terminalAt = ev.TS
	case ev.AIRequest != nil, ev.ToolCall != nil:
		// The agent loop continued; the previous response was not the
		// end of the interaction.
		ot.terminalAt = time.Time{}
	}
}

// Sweep transitions traces whose windows have expired. Call on a periodic
// tick with the current pipeline time.
func (b *Builder) Sweep(now time.Time) {
	for id, ot := range b.open {
		switch {
		case !ot.terminalAt.IsZero() && now.Sub(ot.lastActivity) >= b.cfg.CompletionWindow:
			b.close(id, ot, models.TraceCompleted, ot.lastActivity)
		case now.Sub(ot.lastActivity) >= b.cfg.AbandonTimeout:
			b.close(id, ot, models.TraceAbandoned, now)
		}
	}
}

// Drain closes every open trace at shutdown. Traces that saw a terminal
// response complete; the rest are abandoned.
func (b *Builder) Drain(now time.Time) {
	for id, ot := range b.open {
		if !ot.terminalAt.IsZero() {
			b.close(id, ot, models.TraceCompleted, ot.lastActivity)
		} else {
			b.close(id, ot, models.TraceAbandoned, now)
		}
	}
}

// resolve finds the owning trace by identifier precedence: tool call id,
// echoed request id, connection adjacency, then a fresh synthetic trace.
func (b *Builder) resolve(ev *models.Event) (*openTrace, bool) {
	if ev.ToolResult != nil && ev.ToolResult.CallID != "" {
		if ot := b.open[b.byCall[ev.ToolResult.CallID]]; ot != nil {
			return ot, false
		}
	}

	if rid := ev.RequestID(); rid != "" {
		if ot := b.open[b.byRequest[rid]]; ot != nil {
			return ot, false
		}
	}

	if ev.ConnKey != "" {
		if ot := b.open[b.byConn[ev.ConnKey]]; ot != nil {
			return ot, false
		}
	}

	ot := &openTrace{
		trace: &models.Trace{
			TraceID:   models.NewEventID(),
			State:     models.TraceOpen,
			StartedAt: ev.TS,
		},
	}
	b.open[ot.trace.TraceID] = ot

	return ot, true
}

func (b *Builder) index(ot *openTrace, ev *models.Event) {
	id := ot.trace.TraceID

	if rid := ev.RequestID(); rid != "" {
		if _, ok := b.byRequest[rid]; !ok {
			b.byRequest[rid] = id
			ot.requestIDs = append(ot.requestIDs, rid)
		}
	}

	if ev.ToolCall != nil && ev.ToolCall.CallID != "" {
		if _, ok := b.byCall[ev.ToolCall.CallID]; !ok {
			b.byCall[ev.ToolCall.CallID] = id
			ot.callIDs = append(ot.callIDs, ev.ToolCall.CallID)
		}
	}

	if ev.ConnKey != "" {
		if b.byConn[ev.ConnKey] != id {
			b.byConn[ev.ConnKey] = id
			ot.connKeys = append(ot.connKeys, ev.ConnKey)
		}
	}
}

func (b *Builder) aggregate(ot *openTrace, ev *models.Event) {
	t := ot.trace

	switch {
	case ev.AIRequest != nil:
		t.LLMCallCount++
	case ev.AIResponse != nil:
		if u := ev.AIResponse.Usage; u != nil {
			t.TotalTokens += u.TotalTokens
			t.EstimatedCostUSD += EstimateCostUSD(ev.AIResponse.Model, u)
		}
	case ev.ToolCall != nil:
		t.ToolCallCount++
	}
}

func (b *Builder) close(id string, ot *openTrace, state models.TraceState, endedAt time.Time) {
	ot.trace.State = state
	ot.trace.EndedAt = endedAt

	for _, rid := range ot.requestIDs {
		delete(b.byRequest, rid)
	}

	for _, cid := range ot.callIDs {
		delete(b.byCall, cid)
	}

	for _, ck := range ot.connKeys {
		if b.byConn[ck] == id {
			delete(b.byConn, ck)
		}
	}

	delete(b.open, id)

	b.log.Debug().
		Str("trace_id", id).
		Str("state", string(state)).
		Int("events", len(ot.trace.Events)).
		Msg("Trace closed")

	b.emit(ot.trace.Snapshot())
}

// participates reports whether an event type takes part in trace building.
func participates(ev *models.Event) bool {
	return ev.AIRequest != nil || ev.AIResponse != nil || ev.StreamChunk != nil ||
		ev.ToolCall != nil || ev.ToolResult != nil
}
