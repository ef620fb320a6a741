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

package capture

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/carverauto/oisp-sensor/pkg/logger"
	"github.com/carverauto/oisp-sensor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, src Source) []*models.RawEvent {
	t.Helper()

	out := make(chan *models.RawEvent, 256)
	done := make(chan error, 1)

	go func() {
		done <- src.Run(context.Background(), out)
		close(out)
	}()

	var events []*models.RawEvent
	for ev := range out {
		events = append(events, ev)
	}

	require.NoError(t, <-done)

	return events
}

func TestSyntheticSessionShape(t *testing.T) {
	t.Parallel()

	events := collect(t, NewSyntheticSource(1, 0))

	require.Len(t, events, 5)
	assert.Equal(t, models.RawProcExec, events[0].Kind)
	assert.Equal(t, models.RawNetConnect, events[1].Kind)
	assert.Equal(t, models.RawSslWrite, events[2].Kind)
	assert.Equal(t, models.RawSslRead, events[3].Kind)
	assert.Equal(t, models.RawProcExit, events[4].Kind)

	// All five events describe one process and carry the same backend.
	for _, ev := range events {
		assert.Equal(t, events[0].PID, ev.PID)
		assert.Equal(t, "synthetic", ev.Backend)
	}

	// Timestamps are strictly increasing within the session.
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].TimestampNs, events[i-1].TimestampNs)
	}

	assert.Contains(t, string(events[2].Payload), "POST /v1/chat/completions")
	assert.Contains(t, string(events[3].Payload), `"total_tokens":21`)
}

func TestSyntheticMultipleSessionsDistinctPIDs(t *testing.T) {
	t.Parallel()

	events := collect(t, NewSyntheticSource(3, 0))

	require.Len(t, events, 15)

	pids := make(map[uint32]bool)
	for _, ev := range events {
		pids[ev.PID] = true
	}

	assert.Len(t, pids, 3)
}

func TestSyntheticStopsOnCancel(t *testing.T) {
	t.Parallel()

	src := NewSyntheticSource(1000, time.Second)
	out := make(chan *models.RawEvent) // unbuffered so Run blocks immediately

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := src.Run(ctx, out)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayReadsJSONL(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "capture.jsonl")

	records := []*models.RawEvent{
		{Kind: models.RawProcExec, PID: 42, Comm: "node", TimestampNs: 100},
		{Kind: models.RawSslWrite, PID: 42, FD: 3, Payload: []byte("GET / HTTP/1.1\r\n\r\n"), TimestampNs: 200},
		{Kind: models.RawProcExit, PID: 42, TimestampNs: 300, Backend: "ebpf"},
	}
	writeJSONL(t, path, records)

	events := collect(t, NewReplaySource(path, false, logger.NewTestLogger()))

	require.Len(t, events, 3)
	assert.Equal(t, models.RawProcExec, events[0].Kind)
	assert.Equal(t, []byte("GET / HTTP/1.1\r\n\r\n"), events[1].Payload)

	// A record without a backend gets the replay default; explicit ones
	// pass through.
	assert.Equal(t, "replay", events[0].Backend)
	assert.Equal(t, "ebpf", events[2].Backend)
}

func TestReplaySkipsUnreadableLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "capture.jsonl")

	good, err := json.Marshal(&models.RawEvent{Kind: models.RawProcExec, PID: 1, TimestampNs: 1})
	require.NoError(t, err)

	content := "not json at all\n" + string(good) + "\n\n{\"kind\":42}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	events := collect(t, NewReplaySource(path, false, logger.NewTestLogger()))

	require.Len(t, events, 1)
	assert.Equal(t, uint32(1), events[0].PID)
}

func TestReplayMissingFile(t *testing.T) {
	t.Parallel()

	src := NewReplaySource(filepath.Join(t.TempDir(), "nope.jsonl"), false, logger.NewTestLogger())

	out := make(chan *models.RawEvent, 1)
	assert.Error(t, src.Run(context.Background(), out))
}

func writeJSONL(t *testing.T, path string, records []*models.RawEvent) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)

	enc := json.NewEncoder(f)
	for _, r := range records {
		require.NoError(t, enc.Encode(r))
	}

	require.NoError(t, f.Close())
}
