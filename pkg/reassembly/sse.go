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

package reassembly

import "strings"

// DoneSentinel terminates OpenAI-style SSE streams.
const DoneSentinel = "[DONE]"

// SSEFrame is one Server-Sent-Events frame.
type SSEFrame struct {
	Event string
	Data  string
	ID    string
}

// Done reports whether the frame is the stream-terminating sentinel.
func (f *SSEFrame) Done() bool {
	return f.Data == DoneSentinel
}

// parseSSEFrame parses one blank-line-delimited frame body. Returns nil when
// the frame carries no data lines (comments, keep-alives).
func parseSSEFrame(text string) *SSEFrame {
	var frame SSEFrame

	var dataLines []string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")

		switch {
		case strings.HasPrefix(line, "event:"):
			frame.Event = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
		case strings.HasPrefix(line, "id:"):
			frame.ID = strings.TrimSpace(line[len("id:"):])
		}
	}

	if len(dataLines) == 0 {
		return nil
	}

	frame.Data = strings.Join(dataLines, "\n")

	return &frame
}
