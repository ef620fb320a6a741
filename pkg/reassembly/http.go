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

// Package reassembly converts a connection's decrypted byte stream into
// discrete protocol units: HTTP messages and SSE frames.
package reassembly

import (
	"bytes"
	"strconv"
	"strings"
)

// HTTPMessage is one complete (or truncated) HTTP request or response.
type HTTPMessage struct {
	IsRequest bool

	// Request fields.
	Method string
	Path   string

	// Response fields.
	StatusCode int

	Proto   string
	Headers map[string]string
	Body    []byte

	// Truncated is set when the body exceeded the buffering cap and was
	// cut at the cap.
	Truncated bool
}

// Host returns the request Host header, or "".
func (m *HTTPMessage) Host() string {
	return m.Headers["host"]
}

// ContentType returns the content-type header, or "".
func (m *HTTPMessage) ContentType() string {
	return m.Headers["content-type"]
}

// IsEventStream reports whether the message starts an SSE stream.
func (m *HTTPMessage) IsEventStream() bool {
	ct := m.ContentType()
	return strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson")
}

var httpMethods = []string{"GET ", "POST ", "PUT ", "DELETE ", "HEAD ", "OPTIONS ", "PATCH "}

// looksLikeRequest reports whether data starts with an HTTP method.
func looksLikeRequest(data []byte) bool {
	for _, m := range httpMethods {
		if bytes.HasPrefix(data, []byte(m)) {
			return true
		}
	}

	return false
}

// looksLikeResponse reports whether data starts with an HTTP status line.
func looksLikeResponse(data []byte) bool {
	return bytes.HasPrefix(data, []byte("HTTP/"))
}

// parseHeaderBlock parses a start line plus header lines (without the
// terminating blank line). Returns nil when the block is not valid HTTP.
func parseHeaderBlock(block []byte) *HTTPMessage {
	lines := strings.Split(strings.ReplaceAll(string(block), "\r\n", "\n"), "\n")
	if len(lines) == 0 {
		return nil
	}

	msg := parseStartLine(lines[0])
	if msg == nil {
		return nil
	}

	msg.Headers = make(map[string]string, len(lines)-1)

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		msg.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	return msg
}

func parseStartLine(line string) *HTTPMessage {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return nil
	}

	if strings.HasPrefix(fields[0], "HTTP/") {
		code, err := strconv.Atoi(fields[1])
		if err != nil || code < 100 || code > 599 {
			return nil
		}

		return &HTTPMessage{StatusCode: code, Proto: fields[0]}
	}

	if !looksLikeRequest([]byte(line)) || len(fields) != 3 {
		return nil
	}

	return &HTTPMessage{
		IsRequest: true,
		Method:    fields[0],
		Path:      fields[1],
		Proto:     fields[2],
	}
}

// contentLength returns the declared content length, or -1 when absent or
// unparseable.
func (m *HTTPMessage) contentLength() int {
	v, ok := m.Headers["content-length"]
	if !ok {
		return -1
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return -1
	}

	return n
}

// isChunked reports whether the message uses chunked transfer encoding.
func (m *HTTPMessage) isChunked() bool {
	return strings.Contains(strings.ToLower(m.Headers["transfer-encoding"]), "chunked")
}
