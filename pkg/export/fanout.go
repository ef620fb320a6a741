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

package export

import (
	"context"

	"github.com/carverauto/oisp-sensor/pkg/logger"
	"github.com/carverauto/oisp-sensor/pkg/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Fanout distributes events to every registered sink. Publish is wait-free
// for the caller; each sink consumes from its own queue at its own pace.
type Fanout struct {
	workers []*sinkWorker
	log     zerolog.Logger
}

// NewFanout creates an empty fanout. Register sinks with Add before Run.
func NewFanout(log logger.Logger) *Fanout {
	return &Fanout{log: log.WithComponent("export")}
}

// Add registers a sink with its queue capacity and reconnect budget.
func (f *Fanout) Add(sink Sink, queueSize, maxRetries int) {
	if queueSize <= 0 {
		queueSize = models.DefaultSinkQueueSize
	}

	if maxRetries <= 0 {
		maxRetries = models.DefaultMaxRetries
	}

	f.workers = append(f.workers, newSinkWorker(sink, queueSize, maxRetries, f.log))
}

// SinkCount returns the number of registered sinks.
func (f *Fanout) SinkCount() int {
	return len(f.workers)
}

// Run drives all sink workers until the context ends, then drains and
// closes every sink.
func (f *Fanout) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, w := range f.workers {
		g.Go(func() error {
			return w.run(gctx)
		})
	}

	return g.Wait()
}

// Publish hands one event to every sink queue. A full queue drops its
// oldest event; other sinks are unaffected.
func (f *Fanout) Publish(ev *models.Event) {
	for _, w := range f.workers {
		w.q.push(item{event: ev})
	}
}

// PublishTrace hands a trace snapshot to every sink that consumes traces.
func (f *Fanout) PublishTrace(trace models.Trace) {
	for _, w := range f.workers {
		if _, ok := w.sink.(TraceSink); ok {
			w.q.push(item{trace: &trace})
		}
	}
}

// CloseQueues stops intake; workers finish what is queued and exit.
func (f *Fanout) CloseQueues() {
	for _, w := range f.workers {
		w.q.close()
	}
}

// Stats reports per-sink health.
func (f *Fanout) Stats() []Stats {
	out := make([]Stats, 0, len(f.workers))

	for _, w := range f.workers {
		out = append(out, w.stats())
	}

	return out
}
