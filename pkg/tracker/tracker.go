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

// Package tracker maintains per-connection reassembly state. A Tracker
// instance is single-owner: one shard goroutine drives it, so no internal
// locking is needed and byte order within a connection is preserved by
// construction.
package tracker

import (
	"time"

	"github.com/carverauto/oisp-sensor/pkg/logger"
	"github.com/carverauto/oisp-sensor/pkg/models"
	"github.com/carverauto/oisp-sensor/pkg/reassembly"
	"github.com/rs/zerolog"
)

// Direction of a reassembled unit relative to the traced process.
type Direction int

const (
	DirOutbound Direction = iota // process → provider (requests)
	DirInbound                   // provider → process (responses)
)

// ConnMeta is decode-level context persisted across units of one
// connection. The tracker owns the memory; the decoder reads and updates
// the fields between units.
type ConnMeta struct {
	Provider      string
	RemoteHost    string
	RemotePort    uint16
	RequestID     string
	Model         string
	LastRequestAt time.Time
	Streaming     bool

	// Streaming accumulation state.
	ChunkIndex       int
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	StreamClosed     bool
}

// connState holds everything buffered for one live connection.
type connState struct {
	key      models.ConnectionKey
	proc     models.ProcessInfo
	backend  string
	outbound *reassembly.StreamParser
	inbound  *reassembly.StreamParser
	meta     ConnMeta
	lastSeen time.Time
	seq      uint64 // creation order, used for oldest-first eviction
}

// Emit is one output of ingestion: either a directly mapped event for
// non-I/O kinds, or a reassembled unit with its connection context.
type Emit struct {
	// Event is set for directly mapped non-I/O events.
	Event *models.Event

	// Unit is set for reassembled protocol units.
	Unit *reassembly.Unit
	Dir  Direction
	Key  models.ConnectionKey
	Proc models.ProcessInfo
	Meta *ConnMeta
	TS   time.Time

	// Partial marks units produced by a close/evict/idle flush rather
	// than normal parsing.
	Partial bool

	Backend string
}

// Tracker is one shard of connection state. Capacity is bounded; the oldest
// state is evicted (and flushed) rather than growing without limit.
type Tracker struct {
	conns       map[models.ConnectionKey]*connState
	maxConns    int
	idleTimeout time.Duration
	nextSeq     uint64
	bodyCap     int
	log         zerolog.Logger

	// Emissions produced by capacity eviction inside open(); drained at
	// the start of the next Ingest/Sweep so callers never lose them.
	flushQueue []Emit

	evictions uint64
}

// New creates a tracker shard.
func New(cfg *models.TrackerConfig, log logger.Logger) *Tracker {
	return &Tracker{
		conns:       make(map[models.ConnectionKey]*connState),
		maxConns:    cfg.MaxConnections,
		idleTimeout: cfg.IdleTimeout,
		bodyCap:     models.DefaultBodyCap,
		log:         log.WithComponent("tracker"),
	}
}

// Evictions returns how many states were evicted for capacity.
func (t *Tracker) Evictions() uint64 {
	return t.evictions
}

// Live returns the number of tracked connections.
func (t *Tracker) Live() int {
	return len(t.conns)
}

// Ingest processes one raw capture event and returns the resulting
// emissions in order.
func (t *Tracker) Ingest(ev *models.RawEvent) []Emit {
	ts := eventTime(ev)
	out := t.takeQueue()

	if !ev.Kind.IsIO() {
		if ev.Kind == models.RawProcExit {
			out = append(out, t.closeProcess(ev.PID, ts)...)
		}

		if direct := mapDirect(ev, ts); direct != nil {
			out = append(out, Emit{Event: direct})
		}

		return out
	}

	key := models.KeyFor(ev)

	state, ok := t.conns[key]
	if !ok {
		state = t.open(key, ev)
		// open may have evicted a connection to make room.
		out = append(out, t.takeQueue()...)
	}

	state.lastSeen = ts

	parser := state.inbound
	dir := DirInbound

	if ev.Kind == models.RawSslWrite {
		parser = state.outbound
		dir = DirOutbound
	}

	parser.Append(ev.Payload)

	for {
		unit := parser.Next()
		if unit == nil {
			break
		}

		out = append(out, Emit{
			Unit:    unit,
			Dir:     dir,
			Key:     key,
			Proc:    state.proc,
			Meta:    &state.meta,
			TS:      ts,
			Backend: state.backend,
		})
	}

	return out
}

// Sweep flushes connections idle past the timeout. Called on a periodic
// tick, not per-event.
func (t *Tracker) Sweep(now time.Time) []Emit {
	out := t.takeQueue()

	for key, state := range t.conns {
		if now.Sub(state.lastSeen) >= t.idleTimeout {
			out = append(out, t.flush(state, now)...)
			delete(t.conns, key)
		}
	}

	return out
}

// Drain flushes every live connection. Used at shutdown so nothing buffered
// is silently lost.
func (t *Tracker) Drain(now time.Time) []Emit {
	out := t.takeQueue()

	for key, state := range t.conns {
		out = append(out, t.flush(state, now)...)
		delete(t.conns, key)
	}

	return out
}

func (t *Tracker) open(key models.ConnectionKey, ev *models.RawEvent) *connState {
	if len(t.conns) >= t.maxConns {
		t.evictOldest(eventTime(ev))
	}

	t.nextSeq++

	state := &connState{
		key: key,
		proc: models.ProcessInfo{
			PID:  ev.PID,
			PPID: ev.PPID,
			UID:  ev.UID,
			GID:  ev.GID,
			Name: ev.Comm,
			Exe:  ev.Exe,
		},
		backend:  ev.Backend,
		outbound: reassembly.NewStreamParser(t.bodyCap),
		inbound:  reassembly.NewStreamParser(t.bodyCap),
		meta: ConnMeta{
			RemoteHost: ev.RemoteHost,
			RemotePort: ev.RemotePort,
		},
		seq: t.nextSeq,
	}

	t.conns[key] = state

	return state
}

func (t *Tracker) evictOldest(now time.Time) {
	var oldest *connState

	for _, state := range t.conns {
		if oldest == nil || state.seq < oldest.seq {
			oldest = state
		}
	}

	if oldest == nil {
		return
	}

	t.evictions++
	t.log.Debug().
		Str("key", oldest.key.String()).
		Msg("Evicting oldest connection state at capacity")

	t.flushQueue = append(t.flushQueue, t.flush(oldest, now)...)
	delete(t.conns, oldest.key)
}

func (t *Tracker) takeQueue() []Emit {
	out := t.flushQueue
	t.flushQueue = nil

	return out
}

func (t *Tracker) closeProcess(pid uint32, now time.Time) []Emit {
	var out []Emit

	for key, state := range t.conns {
		if key.PID != pid {
			continue
		}

		out = append(out, t.flush(state, now)...)
		delete(t.conns, key)
	}

	return out
}

// flush drains both directions of a state as partial, low-confidence units.
func (t *Tracker) flush(state *connState, now time.Time) []Emit {
	var out []Emit

	// Outbound first so a partial request reaches correlation before the
	// partial response on the same connection.
	sides := []struct {
		dir    Direction
		parser *reassembly.StreamParser
	}{
		{DirOutbound, state.outbound},
		{DirInbound, state.inbound},
	}

	for _, side := range sides {
		dir, parser := side.dir, side.parser
		// Pop anything already complete first, then the partial tail.
		for {
			unit := parser.Next()
			if unit == nil {
				break
			}

			out = append(out, Emit{
				Unit: unit, Dir: dir, Key: state.key, Proc: state.proc,
				Meta: &state.meta, TS: now, Backend: state.backend,
			})
		}

		if unit := parser.Flush(); unit != nil {
			out = append(out, Emit{
				Unit: unit, Dir: dir, Key: state.key, Proc: state.proc,
				Meta: &state.meta, TS: now, Backend: state.backend,
				Partial: true,
			})
		}
	}

	return out
}
