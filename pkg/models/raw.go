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

// Package models defines the shared data model for the OISP sensor pipeline:
// raw capture events produced by platform backends, the exported event
// envelope, typed event payloads, and trace state.
package models

import "fmt"

// RawEventKind identifies what a capture backend observed.
type RawEventKind string

const (
	RawSslWrite   RawEventKind = "ssl_write"
	RawSslRead    RawEventKind = "ssl_read"
	RawProcExec   RawEventKind = "proc_exec"
	RawProcExit   RawEventKind = "proc_exit"
	RawProcFork   RawEventKind = "proc_fork"
	RawNetConnect RawEventKind = "net_connect"
	RawFileOpen   RawEventKind = "file_open"
)

// IsIO reports whether the kind carries payload bytes that belong to a
// connection byte stream.
func (k RawEventKind) IsIO() bool {
	return k == RawSslWrite || k == RawSslRead
}

// RawEvent is the canonical representation of one capture fact, regardless of
// which backend (eBPF, network extension, packet redirector) produced it.
// It is immutable once constructed and moves through the pipeline by value.
type RawEvent struct {
	Kind RawEventKind `json:"kind"`

	// Process identity.
	PID  uint32 `json:"pid"`
	PPID uint32 `json:"ppid,omitempty"`
	UID  uint32 `json:"uid,omitempty"`
	GID  uint32 `json:"gid,omitempty"`
	Comm string `json:"comm,omitempty"`
	Exe  string `json:"exe,omitempty"`

	// File descriptor for I/O kinds, when the backend supplies one.
	// Zero means "not available"; the connection key falls back to the
	// remote endpoint in that case.
	FD int32 `json:"fd,omitempty"`

	// Payload bytes for ssl_read/ssl_write; empty for other kinds.
	Payload []byte `json:"payload,omitempty"`

	// Exit status for proc_exit.
	ExitCode int32 `json:"exit_code,omitempty"`

	// Opened path for file_open.
	Path string `json:"path,omitempty"`

	// Remote endpoint, when known.
	RemoteHost string `json:"remote_host,omitempty"`
	RemotePort uint16 `json:"remote_port,omitempty"`

	// Monotonic capture timestamp in nanoseconds. Backends guarantee this
	// is non-decreasing within one (pid, fd) stream.
	TimestampNs uint64 `json:"timestamp_ns"`

	// Whether the backend captured full payload or metadata only.
	MetadataOnly bool `json:"metadata_only,omitempty"`

	// Producing backend name, e.g. "ebpf", "netext", "redirector".
	Backend string `json:"backend,omitempty"`
}

// ConnectionKey uniquely identifies one logical duplex stream for its
// lifetime. Backends that supply file descriptors key on (pid, fd);
// otherwise the remote endpoint stands in for the descriptor.
type ConnectionKey struct {
	PID        uint32
	FD         int32
	RemoteHost string
	RemotePort uint16
}

// KeyFor derives the connection key for an I/O event.
func KeyFor(ev *RawEvent) ConnectionKey {
	if ev.FD > 0 {
		return ConnectionKey{PID: ev.PID, FD: ev.FD}
	}

	return ConnectionKey{PID: ev.PID, RemoteHost: ev.RemoteHost, RemotePort: ev.RemotePort}
}

func (k ConnectionKey) String() string {
	if k.FD > 0 {
		return fmt.Sprintf("%d:%d", k.PID, k.FD)
	}

	return fmt.Sprintf("%d:%s:%d", k.PID, k.RemoteHost, k.RemotePort)
}
