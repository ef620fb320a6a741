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

// Package export fans events out to independent sinks. Each sink has its own
// bounded queue and its own failure domain: a slow or dead sink drops its
// oldest events and never blocks the pipeline or its siblings.
package export

import (
	"context"

	"github.com/carverauto/oisp-sensor/pkg/models"
)

// Sink delivers exported events to one destination.
type Sink interface {
	// Name identifies the sink in logs and stats.
	Name() string

	// Connect establishes the destination. Called before the first write
	// and again after write failures.
	Connect(ctx context.Context) error

	// Write delivers one event. An error triggers the reconnect state
	// machine.
	Write(ctx context.Context, ev *models.Event) error

	// Close flushes and releases the destination.
	Close(ctx context.Context) error
}

// TraceSink is implemented by sinks that also consume trace snapshots.
type TraceSink interface {
	WriteTrace(ctx context.Context, trace models.Trace) error
}

// item is one queued delivery: an event or a trace snapshot.
type item struct {
	event *models.Event
	trace *models.Trace
}
