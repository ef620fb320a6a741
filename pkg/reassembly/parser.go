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

import "bytes"

// DefaultBodyCap bounds how many body bytes are buffered for a single
// message before it is emitted truncated.
const DefaultBodyCap = 4096

// headerCap bounds the header block; a stream that never produces a blank
// line within this window is treated as malformed.
const headerCap = 16 * 1024

// sseFrameCap bounds a single SSE frame.
const sseFrameCap = 16 * 1024

type parseMode int

const (
	modeHeaders parseMode = iota
	modeBody
	modeUnbounded
	modeChunked
	modeSSE
	modeDrain
)

// Unit is one reassembled protocol unit popped from a StreamParser. Exactly
// one of HTTP/SSE is set unless Malformed.
type Unit struct {
	HTTP      *HTTPMessage
	SSE       *SSEFrame
	Malformed bool

	// Consumed counts stream bytes removed from the buffer when this unit
	// was produced.
	Consumed int
}

// StreamParser incrementally extracts HTTP messages and SSE frames from one
// direction of a connection's byte stream. It is not safe for concurrent
// use; each direction of each connection owns one parser, driven by a single
// shard goroutine.
type StreamParser struct {
	buf     bytes.Buffer
	mode    parseMode
	bodyCap int

	// Message being assembled while in a body mode.
	pending     *HTTPMessage
	pendingSize int // bytes consumed for pending so far (header block)
	remaining   int // body bytes still expected (modeBody)

	// Chunked sub-state: -1 means a chunk-size line is expected.
	chunkRemaining int

	// Drain sub-state: bytes still to discard, -1 means until close.
	drainRemaining int
}

// NewStreamParser returns a parser with the given body cap; zero or negative
// uses DefaultBodyCap.
func NewStreamParser(bodyCap int) *StreamParser {
	if bodyCap <= 0 {
		bodyCap = DefaultBodyCap
	}

	return &StreamParser{bodyCap: bodyCap, chunkRemaining: -1}
}

// Append adds captured bytes to the buffer. Order of appends must match
// capture order.
func (p *StreamParser) Append(b []byte) {
	p.buf.Write(b)
}

// Buffered returns the number of unconsumed bytes held.
func (p *StreamParser) Buffered() int {
	return p.buf.Len()
}

// Next pops the next complete unit, or nil when more bytes are needed.
// Callers loop until nil.
func (p *StreamParser) Next() *Unit {
	for {
		switch p.mode {
		case modeHeaders:
			return p.nextHeaders()
		case modeBody:
			return p.nextBody()
		case modeUnbounded:
			return p.nextUnbounded()
		case modeChunked:
			return p.nextChunked()
		case modeSSE:
			return p.nextSSE()
		case modeDrain:
			if !p.drain() {
				return nil
			}
			// Drain finished; fall through to header parsing.
		}
	}
}

func (p *StreamParser) nextHeaders() *Unit {
	data := p.buf.Bytes()
	if len(data) == 0 {
		return nil
	}

	end, sepLen := findBlankLine(data)
	if end < 0 {
		// No blank line yet. Give up early on streams that cannot be
		// HTTP, and on absurdly long header blocks.
		if len(data) >= 8 && !looksLikeRequest(data) && !looksLikeResponse(data) {
			return p.malformed(len(data))
		}

		if len(data) > headerCap {
			return p.malformed(len(data))
		}

		return nil
	}

	msg := parseHeaderBlock(data[:end])
	if msg == nil {
		return p.malformed(end + sepLen)
	}

	headerLen := end + sepLen
	p.buf.Next(headerLen)
	p.pending = msg
	p.pendingSize = headerLen

	switch {
	case msg.IsRequest && msg.isChunked():
		p.mode = modeChunked
		p.chunkRemaining = -1
	case msg.IsRequest:
		if cl := msg.contentLength(); cl > 0 {
			p.mode = modeBody
			p.remaining = cl
		} else {
			return p.emitPending()
		}
	case msg.IsEventStream():
		// The response headers are a unit of their own; frames follow.
		unit := p.emitPending()
		p.mode = modeSSE

		return unit
	case msg.isChunked():
		p.mode = modeChunked
		p.chunkRemaining = -1
	default:
		if cl := msg.contentLength(); cl >= 0 {
			if cl == 0 {
				return p.emitPending()
			}

			p.mode = modeBody
			p.remaining = cl
		} else {
			// Read-until-close body; bounded by the body cap.
			p.mode = modeUnbounded
		}
	}

	return p.Next()
}

func (p *StreamParser) nextBody() *Unit {
	if p.remaining > p.bodyCap {
		// Body exceeds the cap: emit the first cap bytes truncated and
		// drain the rest without buffering it.
		if p.buf.Len() < p.bodyCap {
			return nil
		}

		body := make([]byte, p.bodyCap)
		copy(body, p.buf.Next(p.bodyCap))
		p.pending.Body = body
		p.pending.Truncated = true
		p.mode = modeDrain
		p.drainRemaining = p.remaining - p.bodyCap
		p.pendingSize += p.bodyCap

		return p.emitPending()
	}

	if p.buf.Len() < p.remaining {
		return nil
	}

	body := make([]byte, p.remaining)
	copy(body, p.buf.Next(p.remaining))
	p.pending.Body = body
	p.pendingSize += p.remaining

	return p.emitPending()
}

func (p *StreamParser) nextUnbounded() *Unit {
	if p.buf.Len() < p.bodyCap {
		return nil
	}

	body := make([]byte, p.bodyCap)
	copy(body, p.buf.Next(p.bodyCap))
	p.pending.Body = body
	p.pending.Truncated = true
	p.pendingSize += p.bodyCap
	p.mode = modeDrain
	p.drainRemaining = -1

	return p.emitPending()
}

func (p *StreamParser) nextChunked() *Unit {
	for {
		data := p.buf.Bytes()

		if p.chunkRemaining < 0 {
			// Expect a chunk-size line.
			nl := bytes.IndexByte(data, '\n')
			if nl < 0 {
				return nil
			}

			size, ok := parseChunkSize(data[:nl])
			if !ok {
				consumed := p.pendingSize + nl + 1
				p.reset()

				return &Unit{Malformed: true, Consumed: consumed}
			}

			p.buf.Next(nl + 1)
			p.pendingSize += nl + 1

			if size == 0 {
				// Consume the trailing blank line if present.
				rest := p.buf.Bytes()
				if end, sepLen := findBlankLine(rest); end == 0 {
					p.buf.Next(sepLen)
					p.pendingSize += sepLen
				} else if len(rest) >= 2 && rest[0] == '\r' && rest[1] == '\n' {
					p.buf.Next(2)
					p.pendingSize += 2
				}

				return p.emitPending()
			}

			p.chunkRemaining = size

			continue
		}

		// Consume chunk data as it arrives so a huge declared chunk never
		// pins its bytes in the buffer; past the body cap the bytes are
		// discarded and the message marked truncated.
		if p.chunkRemaining > 0 {
			n := len(data)
			if n > p.chunkRemaining {
				n = p.chunkRemaining
			}

			if n == 0 {
				return nil
			}

			chunk := p.buf.Next(n)

			if len(p.pending.Body) < p.bodyCap {
				room := p.bodyCap - len(p.pending.Body)
				if room < len(chunk) {
					chunk = chunk[:room]
					p.pending.Truncated = true
				}

				p.pending.Body = append(p.pending.Body, chunk...)
			} else {
				p.pending.Truncated = true
			}

			p.pendingSize += n
			p.chunkRemaining -= n

			continue
		}

		// Chunk data done; the trailing CRLF follows.
		if len(data) < 2 {
			return nil
		}

		p.buf.Next(2)
		p.pendingSize += 2
		p.chunkRemaining = -1
	}
}

func (p *StreamParser) nextSSE() *Unit {
	for {
		data := p.buf.Bytes()

		end, sepLen := findBlankLine(data)
		if end < 0 {
			if len(data) > sseFrameCap {
				return p.malformed(len(data))
			}

			return nil
		}

		frameText := string(data[:end])
		p.buf.Next(end + sepLen)

		frame := parseSSEFrame(frameText)
		if frame == nil {
			continue
		}

		return &Unit{SSE: frame, Consumed: end + sepLen}
	}
}

// drain discards bytes; returns true once draining is finished.
func (p *StreamParser) drain() bool {
	if p.drainRemaining < 0 {
		p.buf.Reset()
		return false
	}

	n := p.buf.Len()
	if n < p.drainRemaining {
		p.buf.Next(n)
		p.drainRemaining -= n

		return false
	}

	p.buf.Next(p.drainRemaining)
	p.drainRemaining = 0
	p.mode = modeHeaders

	return true
}

// Flush emits whatever is pending as a partial unit. Called when the
// connection closes or the state is evicted; the caller tags the result as a
// partial flush.
func (p *StreamParser) Flush() *Unit {
	switch p.mode {
	case modeBody, modeUnbounded, modeChunked:
		msg := p.pending
		consumed := p.pendingSize

		if p.mode != modeChunked && p.buf.Len() > 0 {
			take := p.buf.Len()
			if take > p.bodyCap {
				take = p.bodyCap
				msg.Truncated = true
			}

			body := make([]byte, take)
			copy(body, p.buf.Next(take))
			msg.Body = append(msg.Body, body...)
			consumed += take
		}

		p.reset()

		return &Unit{HTTP: msg, Consumed: consumed}
	case modeSSE:
		if p.buf.Len() == 0 {
			return nil
		}

		text := p.buf.String()
		consumed := p.buf.Len()
		p.reset()

		if frame := parseSSEFrame(text); frame != nil {
			return &Unit{SSE: frame, Consumed: consumed}
		}

		return nil
	default:
		p.reset()
		return nil
	}
}

func (p *StreamParser) emitPending() *Unit {
	// pendingSize already includes every byte consumed for this message:
	// header block, body bytes, and chunked framing overhead.
	unit := &Unit{HTTP: p.pending, Consumed: p.pendingSize}

	if p.mode != modeDrain && p.mode != modeSSE {
		p.mode = modeHeaders
	}

	p.pending = nil
	p.pendingSize = 0
	p.remaining = 0
	p.chunkRemaining = -1

	return unit
}

func (p *StreamParser) malformed(consume int) *Unit {
	p.buf.Next(consume)
	p.reset()

	return &Unit{Malformed: true, Consumed: consume}
}

func (p *StreamParser) reset() {
	p.mode = modeHeaders
	p.pending = nil
	p.pendingSize = 0
	p.remaining = 0
	p.chunkRemaining = -1
	p.drainRemaining = 0
}

// findBlankLine locates the first header/frame delimiter, returning the
// offset of the delimiter and its length, or (-1, 0).
func findBlankLine(data []byte) (pos, sepLen int) {
	crlf := bytes.Index(data, []byte("\r\n\r\n"))
	lf := bytes.Index(data, []byte("\n\n"))

	switch {
	case crlf < 0 && lf < 0:
		return -1, 0
	case crlf < 0:
		return lf, 2
	case lf < 0 || crlf <= lf:
		return crlf, 4
	default:
		return lf, 2
	}
}

// parseChunkSize parses a hex chunk-size line, ignoring extensions.
func parseChunkSize(line []byte) (int, bool) {
	line = bytes.TrimRight(line, "\r")

	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}

	line = bytes.TrimSpace(line)
	if len(line) == 0 || len(line) > 8 {
		return 0, false
	}

	size := 0

	for _, c := range line {
		var d int

		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c >= 'a' && c <= 'f':
			d = int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = int(c-'A') + 10
		default:
			return 0, false
		}

		size = size<<4 | d
	}

	return size, true
}
