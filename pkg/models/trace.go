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

package models

import "time"

// TraceState is the completion state of a trace.
type TraceState string

const (
	TraceOpen      TraceState = "open"
	TraceCompleted TraceState = "completed"
	TraceAbandoned TraceState = "abandoned"
)

// Trace is a causally linked sequence of AI request/response/tool events
// treated as one logical interaction. It is owned and mutated only by the
// trace builder; sinks receive read-only snapshots.
type Trace struct {
	TraceID   string     `json:"trace_id"`
	State     TraceState `json:"state"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at,omitempty"`

	// Event references in monotonically non-decreasing timestamp order.
	Events []*Event `json:"events"`

	// Running aggregates.
	TotalTokens      int     `json:"total_tokens"`
	ToolCallCount    int     `json:"tool_call_count"`
	LLMCallCount     int     `json:"llm_call_count"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// Snapshot returns a shallow read-only copy for emission. Event pointers are
// shared because events are immutable after creation.
func (t *Trace) Snapshot() Trace {
	cp := *t
	cp.Events = make([]*Event, len(t.Events))
	copy(cp.Events, t.Events)

	return cp
}
