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
	"fmt"
	"time"

	"github.com/carverauto/oisp-sensor/pkg/models"
)

// SyntheticSource generates complete fake AI sessions: process start,
// connect, a chat completion round trip, process exit. Used for end-to-end
// smoke runs without a capture backend.
type SyntheticSource struct {
	Sessions int
	Interval time.Duration
}

// NewSyntheticSource creates a generator for n sessions spaced by interval.
func NewSyntheticSource(sessions int, interval time.Duration) *SyntheticSource {
	if sessions <= 0 {
		sessions = 1
	}

	return &SyntheticSource{Sessions: sessions, Interval: interval}
}

func (s *SyntheticSource) Name() string { return "synthetic" }

func (s *SyntheticSource) Run(ctx context.Context, out chan<- *models.RawEvent) error {
	for i := 0; i < s.Sessions; i++ {
		for _, ev := range syntheticSession(i) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if s.Interval > 0 && i < s.Sessions-1 {
			select {
			case <-time.After(s.Interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return nil
}

func syntheticSession(n int) []*models.RawEvent {
	pid := uint32(40000 + n)
	fd := int32(7)
	base := uint64(time.Now().UnixNano())

	stamp := func(offset time.Duration) uint64 {
		return base + uint64(offset)
	}

	proc := func(kind models.RawEventKind, offset time.Duration) *models.RawEvent {
		return &models.RawEvent{
			Kind:        kind,
			PID:         pid,
			PPID:        1,
			UID:         501,
			Comm:        "python3",
			Exe:         "/usr/bin/python3",
			TimestampNs: stamp(offset),
			Backend:     "synthetic",
		}
	}

	request := fmt.Sprintf(`{"model":"gpt-4o-mini","stream":false,"messages":[{"role":"user","content":"synthetic request %d"}]}`, n)
	response := fmt.Sprintf(`{"id":"chatcmpl-synthetic-%d","object":"chat.completion","model":"gpt-4o-mini",`+
		`"choices":[{"message":{"role":"assistant","content":"synthetic response %d"},"finish_reason":"stop"}],`+
		`"usage":{"prompt_tokens":12,"completion_tokens":9,"total_tokens":21}}`, n, n)

	reqWire := fmt.Sprintf("POST /v1/chat/completions HTTP/1.1\r\nHost: api.openai.com\r\n"+
		"Content-Type: application/json\r\nContent-Length: %d\r\n\r\n%s", len(request), request)
	respWire := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s",
		len(response), response)

	io := func(kind models.RawEventKind, payload string, offset time.Duration) *models.RawEvent {
		ev := proc(kind, offset)
		ev.FD = fd
		ev.Payload = []byte(payload)
		ev.RemoteHost = "api.openai.com"
		ev.RemotePort = 443

		return ev
	}

	connect := proc(models.RawNetConnect, 1*time.Millisecond)
	connect.RemoteHost = "api.openai.com"
	connect.RemotePort = 443

	exit := proc(models.RawProcExit, 40*time.Millisecond)
	exit.ExitCode = 0

	return []*models.RawEvent{
		proc(models.RawProcExec, 0),
		connect,
		io(models.RawSslWrite, reqWire, 5*time.Millisecond),
		io(models.RawSslRead, respWire, 30*time.Millisecond),
		exit,
	}
}
