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

package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/carverauto/oisp-sensor/pkg/capture"
	"github.com/carverauto/oisp-sensor/pkg/correlate"
	"github.com/carverauto/oisp-sensor/pkg/decode"
	"github.com/carverauto/oisp-sensor/pkg/enrich"
	"github.com/carverauto/oisp-sensor/pkg/export"
	"github.com/carverauto/oisp-sensor/pkg/logger"
	"github.com/carverauto/oisp-sensor/pkg/models"
	"github.com/carverauto/oisp-sensor/pkg/redact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runSyntheticPipeline drives the full pipeline end to end: synthetic
// sessions in, JSONL records out.
func runSyntheticPipeline(t *testing.T, sessions int, redaction string) []map[string]interface{} {
	t.Helper()

	path := filepath.Join(t.TempDir(), "out.jsonl")

	cfg := models.SensorConfig{Redaction: redaction}
	cfg.Sinks.File = models.FileSinkConfig{Enabled: true, Path: path}
	require.NoError(t, cfg.Validate())

	lg := logger.NewTestLogger()
	ctx := context.Background()

	fanout := export.NewFanout(lg)
	fanout.Add(export.NewFileSink(cfg.Sinks.File), cfg.Sinks.File.QueueSize, models.DefaultMaxRetries)

	p := New(
		&cfg,
		capture.NewSyntheticSource(sessions, 0),
		enrich.New(ctx, "test", lg),
		decode.New(decode.NewRegistry(cfg.Providers), lg),
		mustEngine(t, cfg.Redaction),
		correlate.New(cfg.Correlate, fanout.PublishTrace, lg),
		fanout,
		lg,
	)

	require.NoError(t, p.Run(ctx))

	return readJSONL(t, path)
}

func mustEngine(t *testing.T, mode string) *redact.Engine {
	t.Helper()

	e, err := redact.New(mode)
	require.NoError(t, err)

	return e
}

func readJSONL(t *testing.T, path string) []map[string]interface{} {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []map[string]interface{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}

	require.NoError(t, scanner.Err())

	return records
}

func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	const sessions = 2

	records := runSyntheticPipeline(t, sessions, redact.ModeFull)

	byType := make(map[string][]map[string]interface{})

	var traces []map[string]interface{}

	for _, rec := range records {
		if et, ok := rec["event_type"].(string); ok {
			byType[et] = append(byType[et], rec)
			continue
		}

		traces = append(traces, rec)
	}

	assert.Len(t, byType[models.EventProcessExec], sessions)
	assert.Len(t, byType[models.EventNetworkConnect], sessions)
	assert.Len(t, byType[models.EventAIRequest], sessions)
	assert.Len(t, byType[models.EventAIResponse], sessions)
	assert.Len(t, byType[models.EventProcessExit], sessions)

	require.Len(t, traces, sessions)

	for _, tr := range traces {
		assert.Equal(t, string(models.TraceCompleted), tr["state"])
		assert.Equal(t, float64(21), tr["total_tokens"])
		assert.Equal(t, float64(1), tr["llm_call_count"])
	}

	// Each request/response pair shares a trace id with its trace record.
	traceIDs := make(map[string]bool)
	for _, tr := range traces {
		traceIDs[tr["trace_id"].(string)] = true
	}

	for _, req := range byType[models.EventAIRequest] {
		tid, _ := req["trace_id"].(string)
		assert.True(t, traceIDs[tid], "request must carry a known trace id")
	}

	for _, resp := range byType[models.EventAIResponse] {
		data, ok := resp["data"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "openai", data["provider"])
		assert.Equal(t, "gpt-4o-mini", data["model"])

		usage, ok := data["usage"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(21), usage["total_tokens"])
	}

	// Enrichment stamped host identity on every event.
	for _, req := range byType[models.EventAIRequest] {
		host, ok := req["host"].(map[string]interface{})
		require.True(t, ok)
		assert.NotEmpty(t, host["hostname"])
	}
}

func TestPipelineSafeRedactionEndToEnd(t *testing.T) {
	t.Parallel()

	records := runSyntheticPipeline(t, 1, redact.ModeSafe)

	var request map[string]interface{}

	for _, rec := range records {
		if rec["event_type"] == models.EventAIRequest {
			request = rec
			break
		}
	}

	require.NotNil(t, request)

	data, ok := request["data"].(map[string]interface{})
	require.True(t, ok)

	messages, ok := data["messages"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, messages)

	msg, ok := messages[0].(map[string]interface{})
	require.True(t, ok)
	assert.Regexp(t, `^\[REDACTED:\d+ chars\]$`, msg["content"])
	assert.Equal(t, "gpt-4o-mini", data["model"], "metadata survives redaction")
}

func TestShardForIsStable(t *testing.T) {
	t.Parallel()

	for pid := uint32(1); pid < 100; pid++ {
		first := shardFor(pid, 8)
		assert.Equal(t, first, shardFor(pid, 8))
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 8)
	}
}
