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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/carverauto/oisp-sensor/pkg/logger"
	"github.com/carverauto/oisp-sensor/pkg/models"
	"github.com/rs/zerolog"
)

// maxReplayLine bounds one JSONL record; payloads are base64 inside JSON so
// 16 MiB of line covers any realistic capture.
const maxReplayLine = 16 * 1024 * 1024

// ReplaySource feeds raw events from a newline-delimited JSON capture file.
// With Realtime set it sleeps out the original inter-event gaps.
type ReplaySource struct {
	Path     string
	Realtime bool

	log zerolog.Logger
}

// NewReplaySource creates a replay source for the given capture file.
func NewReplaySource(path string, realtime bool, log logger.Logger) *ReplaySource {
	return &ReplaySource{
		Path:     path,
		Realtime: realtime,
		log:      log.WithComponent("replay"),
	}
}

func (s *ReplaySource) Name() string { return "replay" }

func (s *ReplaySource) Run(ctx context.Context, out chan<- *models.RawEvent) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("opening capture file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxReplayLine)

	var (
		lastTS uint64
		lineNo int
		count  int
	)

	for scanner.Scan() {
		lineNo++

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		ev := &models.RawEvent{}
		if err := json.Unmarshal(line, ev); err != nil {
			s.log.Warn().Err(err).Int("line", lineNo).Msg("Skipping unreadable replay record")
			continue
		}

		if ev.Backend == "" {
			ev.Backend = "replay"
		}

		if s.Realtime && lastTS > 0 && ev.TimestampNs > lastTS {
			gap := time.Duration(ev.TimestampNs - lastTS)

			select {
			case <-time.After(gap):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastTS = ev.TimestampNs

		select {
		case out <- ev:
			count++
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading capture file: %w", err)
	}

	s.log.Info().Int("events", count).Msg("Replay finished")

	return nil
}
