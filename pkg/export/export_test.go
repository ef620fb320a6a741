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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/carverauto/oisp-sensor/pkg/logger"
	"github.com/carverauto/oisp-sensor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSink records writes; optional error scripts drive the worker's
// reconnect path.
type stubSink struct {
	mu     sync.Mutex
	events []*models.Event
	traces []models.Trace

	connectErrs int // first N Connect calls fail
	writeErrs   int // first N Write calls fail

	connects int
	closed   bool
}

func (s *stubSink) Name() string { return "stub" }

func (s *stubSink) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connects++
	if s.connectErrs > 0 {
		s.connectErrs--
		return errors.New("connect refused")
	}

	return nil
}

func (s *stubSink) Write(_ context.Context, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErrs > 0 {
		s.writeErrs--
		return errors.New("write failed")
	}

	s.events = append(s.events, ev)

	return nil
}

func (s *stubSink) WriteTrace(_ context.Context, trace models.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.traces = append(s.traces, trace)

	return nil
}

func (s *stubSink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

func (s *stubSink) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.events)
}

func testEvent(i int) *models.Event {
	ev := &models.Event{Envelope: models.NewEnvelope(models.EventAIRequest)}
	ev.AIRequest = &models.AIRequestData{RequestID: fmt.Sprintf("req_%d", i)}

	return ev
}

func TestQueueDropsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	const (
		capacity = 10000
		pushed   = 15000
	)

	q := newQueue(capacity)

	for i := 0; i < pushed; i++ {
		q.push(item{event: testEvent(i)})
	}

	assert.Equal(t, capacity, q.len())
	assert.Equal(t, uint64(pushed-capacity), q.dropped.Load())

	// Survivors are exactly the newest ones, still in order.
	q.close()

	for want := pushed - capacity; ; want++ {
		it, ok := q.pop(context.Background())
		if !ok {
			assert.Equal(t, pushed, want)
			break
		}

		assert.Equal(t, fmt.Sprintf("req_%d", want), it.event.AIRequest.RequestID)
	}
}

func TestQueuePopAfterCloseDrainsThenStops(t *testing.T) {
	t.Parallel()

	q := newQueue(4)
	q.push(item{event: testEvent(0)})
	q.close()

	// Pushes after close are refused.
	q.push(item{event: testEvent(1)})
	assert.Equal(t, 1, q.len())

	it, ok := q.pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, "req_0", it.event.AIRequest.RequestID)

	_, ok = q.pop(context.Background())
	assert.False(t, ok)
}

func TestQueuePopHonorsContext(t *testing.T) {
	t.Parallel()

	q := newQueue(4)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.pop(ctx)
	assert.False(t, ok)
}

func TestFanoutSlowSinkDoesNotAffectOthers(t *testing.T) {
	t.Parallel()

	f := NewFanout(logger.NewTestLogger())
	f.Add(&stubSink{}, 100, 1)
	f.Add(&stubSink{}, 20000, 1)
	require.Equal(t, 2, f.SinkCount())

	// Neither worker is running, so queues fill as published.
	for i := 0; i < 15000; i++ {
		f.Publish(testEvent(i))
	}

	stats := f.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, 100, stats[0].Queued)
	assert.Equal(t, uint64(14900), stats[0].Dropped)
	assert.Equal(t, 15000, stats[1].Queued)
	assert.Zero(t, stats[1].Dropped, "a full peer queue must not cost this sink anything")
}

func TestWorkerDeliversAndDrainsOnClose(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	f := NewFanout(logger.NewTestLogger())
	f.Add(sink, 100, 1)

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()

	for i := 0; i < 50; i++ {
		f.Publish(testEvent(i))
	}

	f.PublishTrace(models.Trace{TraceID: "trace_1", State: models.TraceCompleted})
	f.CloseQueues()

	require.NoError(t, <-done)
	assert.Equal(t, 50, sink.eventCount())
	require.Len(t, sink.traces, 1)
	assert.Equal(t, "trace_1", sink.traces[0].TraceID)
	assert.True(t, sink.closed)

	stats := f.Stats()[0]
	assert.Equal(t, uint64(51), stats.Written)
	assert.Equal(t, StateConnected, stats.State)
}

func TestWorkerRetriesItemAfterWriteFailure(t *testing.T) {
	t.Parallel()

	sink := &stubSink{writeErrs: 1}
	f := NewFanout(logger.NewTestLogger())
	f.Add(sink, 100, 2)

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()

	f.Publish(testEvent(0))
	f.CloseQueues()

	require.NoError(t, <-done)

	// The failed write triggers a reconnect and the same item is retried,
	// so nothing is lost.
	assert.Equal(t, 1, sink.eventCount())

	stats := f.Stats()[0]
	assert.Equal(t, uint64(1), stats.Written)
	assert.Equal(t, uint64(1), stats.Errors)
	assert.Zero(t, stats.Dropped)
}

func TestWorkerDegradesWhenConnectExhausted(t *testing.T) {
	t.Parallel()

	// Connect never succeeds within the retry budget.
	sink := &stubSink{connectErrs: 100}
	f := NewFanout(logger.NewTestLogger())
	f.Add(sink, 100, 1)

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()

	for i := 0; i < 10; i++ {
		f.Publish(testEvent(i))
	}

	f.CloseQueues()
	require.NoError(t, <-done)

	assert.Zero(t, sink.eventCount())

	stats := f.Stats()[0]
	assert.Equal(t, StateDegraded, stats.State)
	assert.Equal(t, uint64(10), stats.Dropped)
	assert.True(t, sink.closed, "even a degraded sink is closed at shutdown")
}

func TestFileSinkWritesJSONL(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events", "out.jsonl")
	sink := NewFileSink(models.FileSinkConfig{Enabled: true, Path: path})

	ctx := context.Background()
	require.NoError(t, sink.Connect(ctx))

	ev := testEvent(1)
	ev.TraceID = "trace_9"
	require.NoError(t, sink.Write(ctx, ev))
	require.NoError(t, sink.WriteTrace(ctx, models.Trace{
		TraceID: "trace_9", State: models.TraceCompleted, TotalTokens: 35,
	}))
	require.NoError(t, sink.Close(ctx))

	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()

	var lines []map[string]interface{}

	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}

	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)

	assert.Equal(t, models.EventAIRequest, lines[0]["event_type"])
	assert.Equal(t, "trace_9", lines[0]["trace_id"])
	assert.Equal(t, "trace_9", lines[1]["trace_id"])
	assert.Equal(t, string(models.TraceCompleted), lines[1]["state"])
}

func TestFileSinkAppendsAcrossConnects(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.jsonl")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		sink := NewFileSink(models.FileSinkConfig{Enabled: true, Path: path})
		require.NoError(t, sink.Connect(ctx))
		require.NoError(t, sink.Write(ctx, testEvent(i)))
		require.NoError(t, sink.Close(ctx))
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}

	return n
}
