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

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(body string) string {
	return fmt.Sprintf("POST /v1/chat/completions HTTP/1.1\r\nHost: api.openai.com\r\n"+
		"Content-Type: application/json\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
}

func TestStreamParserCompleteRequest(t *testing.T) {
	t.Parallel()

	p := NewStreamParser(0)
	body := `{"model":"gpt-4o","messages":[]}`
	p.Append([]byte(request(body)))

	unit := p.Next()
	require.NotNil(t, unit)
	require.NotNil(t, unit.HTTP)
	assert.True(t, unit.HTTP.IsRequest)
	assert.Equal(t, "POST", unit.HTTP.Method)
	assert.Equal(t, "/v1/chat/completions", unit.HTTP.Path)
	assert.Equal(t, "api.openai.com", unit.HTTP.Host())
	assert.Equal(t, body, string(unit.HTTP.Body))
	assert.False(t, unit.HTTP.Truncated)

	assert.Nil(t, p.Next())
	assert.Zero(t, p.Buffered())
}

func TestStreamParserSplitAcrossAppends(t *testing.T) {
	t.Parallel()

	p := NewStreamParser(0)
	wire := request(`{"model":"gpt-4o"}`)

	// Feed one byte at a time; only the final byte completes the message.
	for i := 0; i < len(wire)-1; i++ {
		p.Append([]byte{wire[i]})
		require.Nil(t, p.Next())
	}

	p.Append([]byte{wire[len(wire)-1]})

	unit := p.Next()
	require.NotNil(t, unit)
	require.NotNil(t, unit.HTTP)
	assert.Equal(t, `{"model":"gpt-4o"}`, string(unit.HTTP.Body))
}

func TestStreamParserPipelinedMessages(t *testing.T) {
	t.Parallel()

	p := NewStreamParser(0)
	p.Append([]byte(request(`{"a":1}`) + request(`{"b":2}`)))

	first := p.Next()
	require.NotNil(t, first)
	assert.Equal(t, `{"a":1}`, string(first.HTTP.Body))

	second := p.Next()
	require.NotNil(t, second)
	assert.Equal(t, `{"b":2}`, string(second.HTTP.Body))

	assert.Nil(t, p.Next())
}

func TestStreamParserBodyExceedsCapTruncates(t *testing.T) {
	t.Parallel()

	p := NewStreamParser(0)
	body := strings.Repeat("x", DefaultBodyCap+500)
	p.Append([]byte(request(body)))

	unit := p.Next()
	require.NotNil(t, unit)
	require.NotNil(t, unit.HTTP)
	assert.True(t, unit.HTTP.Truncated)
	assert.Len(t, unit.HTTP.Body, DefaultBodyCap)

	// The overflow drains and the next message still parses.
	assert.Nil(t, p.Next())
	p.Append([]byte(request(`{"ok":true}`)))

	next := p.Next()
	require.NotNil(t, next)
	assert.Equal(t, `{"ok":true}`, string(next.HTTP.Body))
	assert.False(t, next.HTTP.Truncated)
}

func TestStreamParserChunkedResponse(t *testing.T) {
	t.Parallel()

	p := NewStreamParser(0)
	wire := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	p.Append([]byte(wire))

	unit := p.Next()
	require.NotNil(t, unit)
	require.NotNil(t, unit.HTTP)
	assert.False(t, unit.HTTP.IsRequest)
	assert.Equal(t, 200, unit.HTTP.StatusCode)
	assert.Equal(t, "hello world", string(unit.HTTP.Body))
	assert.Nil(t, p.Next())
}

func TestStreamParserChunkedHugeChunkBounded(t *testing.T) {
	t.Parallel()

	p := NewStreamParser(0)
	p.Append([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nffffff\r\n"))
	require.Nil(t, p.Next())

	// A 16 MiB declared chunk must not pin its bytes in the buffer; data
	// past the body cap is discarded as it arrives.
	filler := strings.Repeat("y", 64*1024)
	for i := 0; i < 16; i++ {
		p.Append([]byte(filler))
		require.Nil(t, p.Next())
		assert.Zero(t, p.Buffered())
	}

	unit := p.Flush()
	require.NotNil(t, unit)
	require.NotNil(t, unit.HTTP)
	assert.True(t, unit.HTTP.Truncated)
	assert.Len(t, unit.HTTP.Body, DefaultBodyCap)
}

func TestStreamParserChunkedSplitAcrossAppends(t *testing.T) {
	t.Parallel()

	p := NewStreamParser(0)
	p.Append([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n"))
	require.Nil(t, p.Next())

	p.Append([]byte("b\r\nhello"))
	require.Nil(t, p.Next())
	p.Append([]byte(" world\r\n"))
	require.Nil(t, p.Next())
	p.Append([]byte("0\r\n\r\n"))

	unit := p.Next()
	require.NotNil(t, unit)
	require.NotNil(t, unit.HTTP)
	assert.Equal(t, "hello world", string(unit.HTTP.Body))
	assert.False(t, unit.HTTP.Truncated)
	assert.Nil(t, p.Next())
}

func TestStreamParserSSEStream(t *testing.T) {
	t.Parallel()

	p := NewStreamParser(0)
	p.Append([]byte("HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\n\r\n"))

	header := p.Next()
	require.NotNil(t, header)
	require.NotNil(t, header.HTTP)
	assert.True(t, header.HTTP.IsEventStream())

	p.Append([]byte("data: {\"n\":0}\n\ndata: {\"n\":1}\n\ndata: [DONE]\n\n"))

	for i := 0; i < 2; i++ {
		frame := p.Next()
		require.NotNil(t, frame)
		require.NotNil(t, frame.SSE)
		assert.Equal(t, fmt.Sprintf(`{"n":%d}`, i), frame.SSE.Data)
		assert.False(t, frame.SSE.Done())
	}

	done := p.Next()
	require.NotNil(t, done)
	require.NotNil(t, done.SSE)
	assert.True(t, done.SSE.Done())
}

func TestStreamParserSSESkipsKeepalives(t *testing.T) {
	t.Parallel()

	p := NewStreamParser(0)
	p.Append([]byte("HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\n\r\n"))
	require.NotNil(t, p.Next())

	p.Append([]byte(": keepalive\n\nevent: ping\n\ndata: real\n\n"))

	frame := p.Next()
	require.NotNil(t, frame)
	require.NotNil(t, frame.SSE)
	assert.Equal(t, "real", frame.SSE.Data)
}

func TestStreamParserMalformedConsumesBytes(t *testing.T) {
	t.Parallel()

	p := NewStreamParser(0)
	p.Append([]byte("this is not http at all"))

	unit := p.Next()
	require.NotNil(t, unit)
	assert.True(t, unit.Malformed)
	assert.Zero(t, p.Buffered())

	// The parser recovers for subsequent valid traffic.
	p.Append([]byte(request(`{"ok":1}`)))

	next := p.Next()
	require.NotNil(t, next)
	require.NotNil(t, next.HTTP)
	assert.Equal(t, `{"ok":1}`, string(next.HTTP.Body))
}

func TestStreamParserFlushPartialBody(t *testing.T) {
	t.Parallel()

	p := NewStreamParser(0)
	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"trunc`
	wire := fmt.Sprintf("POST /v1/chat/completions HTTP/1.1\r\nHost: api.openai.com\r\n"+
		"Content-Length: %d\r\n\r\n%s", len(body)+50, body)
	p.Append([]byte(wire))

	require.Nil(t, p.Next())

	unit := p.Flush()
	require.NotNil(t, unit)
	require.NotNil(t, unit.HTTP)
	assert.Equal(t, body, string(unit.HTTP.Body))
	assert.Zero(t, p.Buffered())
}

func TestStreamParserFlushEmpty(t *testing.T) {
	t.Parallel()

	p := NewStreamParser(0)
	assert.Nil(t, p.Flush())
}

func TestStreamParserResponseWithContentLength(t *testing.T) {
	t.Parallel()

	p := NewStreamParser(0)
	body := `{"usage":{"prompt_tokens":25,"completion_tokens":10,"total_tokens":35}}`
	p.Append([]byte(fmt.Sprintf(
		"HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s",
		len(body), body)))

	unit := p.Next()
	require.NotNil(t, unit)
	require.NotNil(t, unit.HTTP)
	assert.Equal(t, 200, unit.HTTP.StatusCode)
	assert.Equal(t, body, string(unit.HTTP.Body))
}

func TestParseChunkSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want int
		ok   bool
	}{
		{"5", 5, true},
		{"1a", 26, true},
		{"FF", 255, true},
		{"5;ext=1", 5, true},
		{"5\r", 5, true},
		{"", 0, false},
		{"zz", 0, false},
		{"123456789", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseChunkSize([]byte(tt.line))
		assert.Equal(t, tt.ok, ok, "line %q", tt.line)

		if tt.ok {
			assert.Equal(t, tt.want, got, "line %q", tt.line)
		}
	}
}
