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

package models

import (
	"time"

	"github.com/google/uuid"
)

// OISPVersion is the wire schema version stamped on every exported event.
const OISPVersion = "0.1"

// CollectorName identifies this sensor in the source descriptor.
const CollectorName = "oisp-sensor"

// Event type identifiers for the exported envelope.
const (
	EventAIRequest       = "ai.request"
	EventAIResponse      = "ai.response"
	EventAIStreamChunk   = "ai.streaming_chunk"
	EventAgentToolCall   = "agent.tool_call"
	EventAgentToolResult = "agent.tool_result"
	EventProcessExec     = "process.exec"
	EventProcessExit     = "process.exit"
	EventFileOpen        = "file.open"
	EventNetworkConnect  = "network.connect"
)

// ConfidenceLevel grades how reliable a decoded event is.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// Completeness grades how much of the original data was captured.
type Completeness string

const (
	CompletenessMetadataOnly Completeness = "metadata_only"
	CompletenessPartial      Completeness = "partial"
	CompletenessFull         Completeness = "full"
)

// Confidence flags attached by pipeline stages.
const (
	FlagTruncated   = "truncated"
	FlagUnparseable = "unparseable"
	FlagPartial     = "partial_flush"
	FlagOrphaned    = "orphaned"
	FlagRedacted    = "redacted"
)

// Confidence describes how complete and reliable a decoded event is.
type Confidence struct {
	Level        ConfidenceLevel `json:"level"`
	Completeness Completeness    `json:"completeness"`
	Flags        []string        `json:"flags,omitempty"`
}

// HostInfo describes the machine the event was captured on.
type HostInfo struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os,omitempty"`
	Platform string `json:"platform,omitempty"`
	Arch     string `json:"arch,omitempty"`
}

// ProcessInfo describes the process that generated the traffic.
type ProcessInfo struct {
	PID  uint32 `json:"pid"`
	PPID uint32 `json:"ppid,omitempty"`
	UID  uint32 `json:"uid,omitempty"`
	GID  uint32 `json:"gid,omitempty"`
	Name string `json:"name,omitempty"`
	Exe  string `json:"exe,omitempty"`
}

// SourceInfo records capture provenance.
type SourceInfo struct {
	Collector    string `json:"collector"`
	Version      string `json:"version,omitempty"`
	Backend      string `json:"backend,omitempty"`
	CapturePoint string `json:"capture_point,omitempty"`
}

// Envelope is the common wrapper for every exported event. The event_id is a
// UUIDv7 so ids sort into capture order.
type Envelope struct {
	OISPVersion string       `json:"oisp_version"`
	EventID     string       `json:"event_id"`
	EventType   string       `json:"event_type"`
	TraceID     string       `json:"trace_id,omitempty"`
	TS          time.Time    `json:"ts"`
	Host        *HostInfo    `json:"host,omitempty"`
	Process     *ProcessInfo `json:"process,omitempty"`
	Source      SourceInfo   `json:"source"`
	Confidence  Confidence   `json:"confidence"`
}

// NewEnvelope builds an envelope with a fresh time-ordered event id.
func NewEnvelope(eventType string) Envelope {
	return Envelope{
		OISPVersion: OISPVersion,
		EventID:     NewEventID(),
		EventType:   eventType,
		TS:          time.Now().UTC(),
		Source:      SourceInfo{Collector: CollectorName},
		Confidence: Confidence{
			Level:        ConfidenceHigh,
			Completeness: CompletenessFull,
		},
	}
}

// NewEventID returns a time-ordered unique identifier. UUIDv7 embeds a
// millisecond timestamp in the most significant bits, so lexicographic order
// matches generation order.
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 generation only fails if the entropy source does; fall
		// back to random rather than dropping the event.
		return uuid.New().String()
	}

	return id.String()
}

// AddFlag appends a confidence flag if it is not already present.
func (c *Confidence) AddFlag(flag string) {
	for _, f := range c.Flags {
		if f == flag {
			return
		}
	}

	c.Flags = append(c.Flags, flag)
}

// HasFlag reports whether the flag is set.
func (c *Confidence) HasFlag(flag string) bool {
	for _, f := range c.Flags {
		if f == flag {
			return true
		}
	}

	return false
}
