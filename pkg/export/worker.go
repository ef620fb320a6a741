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
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// SinkState is the connection state of one sink worker.
type SinkState int32

const (
	StateConnected SinkState = iota
	StateReconnecting
	StateDegraded
)

func (s SinkState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "degraded"
	}
}

// degradedRetryInterval throttles reconnect attempts once a sink has
// exhausted its retry budget.
const degradedRetryInterval = 30 * time.Second

// sinkWorker owns one sink: its queue, its delivery goroutine and its
// reconnect state machine.
type sinkWorker struct {
	sink       Sink
	q          *queue
	maxRetries int
	log        zerolog.Logger

	state       atomic.Int32
	attempt     atomic.Uint32
	written     atomic.Uint64
	writeErrors atomic.Uint64

	lastConnectAttempt time.Time
}

func newSinkWorker(sink Sink, queueSize, maxRetries int, log zerolog.Logger) *sinkWorker {
	return &sinkWorker{
		sink:       sink,
		q:          newQueue(queueSize),
		maxRetries: maxRetries,
		log:        log.With().Str("sink", sink.Name()).Logger(),
	}
}

// run delivers queued items until the context ends, then drains what is
// still queued and closes the sink.
func (w *sinkWorker) run(ctx context.Context) error {
	if err := w.reconnect(ctx); err != nil {
		w.log.Error().Err(err).Msg("Sink start degraded; will keep retrying")
	}

	for {
		it, ok := w.q.pop(ctx)
		if !ok {
			break
		}

		w.deliver(ctx, it)
	}

	w.drain()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.sink.Close(closeCtx); err != nil {
		w.log.Warn().Err(err).Msg("Sink close failed")
	}

	return nil
}

// drain flushes items still queued after shutdown began, bounded by a short
// deadline so a dead sink cannot stall exit.
func (w *sinkWorker) drain() {
	w.q.close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		it, ok := w.q.pop(ctx)
		if !ok {
			return
		}

		w.deliver(ctx, it)
	}
}

func (w *sinkWorker) deliver(ctx context.Context, it item) {
	if SinkState(w.state.Load()) == StateDegraded {
		if time.Since(w.lastConnectAttempt) < degradedRetryInterval {
			w.q.dropped.Add(1)
			return
		}

		if err := w.reconnect(ctx); err != nil {
			w.q.dropped.Add(1)
			return
		}
	}

	if err := w.write(ctx, it); err == nil {
		w.written.Add(1)
		return
	}

	w.writeErrors.Add(1)

	// One write failure starts the reconnect cycle, then the item gets a
	// second chance.
	if err := w.reconnect(ctx); err != nil {
		w.q.dropped.Add(1)
		return
	}

	if err := w.write(ctx, it); err != nil {
		w.writeErrors.Add(1)
		w.q.dropped.Add(1)

		return
	}

	w.written.Add(1)
}

func (w *sinkWorker) write(ctx context.Context, it item) error {
	if it.trace != nil {
		ts, ok := w.sink.(TraceSink)
		if !ok {
			return nil
		}

		return ts.WriteTrace(ctx, *it.trace)
	}

	return w.sink.Write(ctx, it.event)
}

// reconnect runs the backoff loop. On success the worker is Connected; on
// an exhausted budget it is Degraded until the throttle interval passes.
func (w *sinkWorker) reconnect(ctx context.Context) error {
	w.state.Store(int32(StateReconnecting))
	w.attempt.Store(0)
	w.lastConnectAttempt = time.Now()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		w.attempt.Add(1)

		return struct{}{}, w.sink.Connect(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(w.maxRetries)),
	)
	if err != nil {
		w.state.Store(int32(StateDegraded))
		w.log.Error().
			Err(err).
			Uint32("attempts", w.attempt.Load()).
			Msg("Sink degraded after exhausting reconnect attempts")

		return err
	}

	w.state.Store(int32(StateConnected))
	w.log.Info().Msg("Sink connected")

	return nil
}

// Stats is a point-in-time view of one sink's health.
type Stats struct {
	Name    string    `json:"name"`
	State   SinkState `json:"-"`
	StateS  string    `json:"state"`
	Queued  int       `json:"queued"`
	Written uint64    `json:"written"`
	Dropped uint64    `json:"dropped"`
	Errors  uint64    `json:"errors"`
}

func (w *sinkWorker) stats() Stats {
	state := SinkState(w.state.Load())

	return Stats{
		Name:    w.sink.Name(),
		State:   state,
		StateS:  state.String(),
		Queued:  w.q.len(),
		Written: w.written.Load(),
		Dropped: w.q.dropped.Load(),
		Errors:  w.writeErrors.Load(),
	}
}
