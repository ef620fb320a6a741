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
	"errors"
	"time"
)

var (
	ErrNATSURLRequired     = errors.New("nats url is required")
	ErrFilePathRequired    = errors.New("file sink path is required")
	ErrListenAddrRequired  = errors.New("websocket sink listen address is required")
	ErrOTLPEndpointMissing = errors.New("otlp sink endpoint is required")
	ErrUnknownRedaction    = errors.New("unknown redaction mode")
)

// Default tuning values applied by Validate methods.
const (
	DefaultIdleTimeout      = 300 * time.Second
	DefaultCompletionWindow = 30 * time.Second
	DefaultSweepInterval    = 10 * time.Second
	DefaultSinkQueueSize    = 10000
	DefaultMaxConnections   = 4096
	DefaultShardCount       = 8
	DefaultBodyCap          = 4096
	DefaultMaxRetries       = 5
)

// CaptureConfig toggles which raw event kinds the pipeline consumes.
type CaptureConfig struct {
	SSL     bool `json:"ssl"`
	Process bool `json:"process"`
	File    bool `json:"file"`
	Network bool `json:"network"`
}

// Validate treats an all-off capture config as "capture everything" so an
// empty config file produces a working sensor.
func (c *CaptureConfig) Validate() error {
	if !c.SSL && !c.Process && !c.File && !c.Network {
		c.SSL = true
		c.Process = true
		c.File = true
		c.Network = true
	}

	return nil
}

// Allows reports whether the capture config admits the given kind.
func (c *CaptureConfig) Allows(kind RawEventKind) bool {
	switch kind {
	case RawSslWrite, RawSslRead:
		return c.SSL
	case RawProcExec, RawProcExit, RawProcFork:
		return c.Process
	case RawFileOpen:
		return c.File
	case RawNetConnect:
		return c.Network
	default:
		return false
	}
}

// TrackerConfig tunes the connection tracker.
type TrackerConfig struct {
	IdleTimeout    time.Duration `json:"idle_timeout"`
	SweepInterval  time.Duration `json:"sweep_interval"`
	MaxConnections int           `json:"max_connections"`
	Shards         int           `json:"shards"`
}

// Validate applies defaults for zero fields.
func (c *TrackerConfig) Validate() error {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}

	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}

	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}

	if c.Shards <= 0 {
		c.Shards = DefaultShardCount
	}

	return nil
}

// CorrelateConfig tunes the trace builder.
type CorrelateConfig struct {
	CompletionWindow time.Duration `json:"completion_window"`
	AbandonTimeout   time.Duration `json:"abandon_timeout"`
	SweepInterval    time.Duration `json:"sweep_interval"`
}

// Validate applies defaults for zero fields.
func (c *CorrelateConfig) Validate() error {
	if c.CompletionWindow <= 0 {
		c.CompletionWindow = DefaultCompletionWindow
	}

	if c.AbandonTimeout <= 0 {
		c.AbandonTimeout = DefaultIdleTimeout
	}

	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}

	return nil
}

// FileSinkConfig configures the newline-delimited JSON file sink.
type FileSinkConfig struct {
	Enabled   bool   `json:"enabled"`
	Path      string `json:"path"`
	QueueSize int    `json:"queue_size"`
}

// Validate ensures the file sink configuration is valid.
func (c *FileSinkConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Path == "" {
		return ErrFilePathRequired
	}

	if c.QueueSize <= 0 {
		c.QueueSize = DefaultSinkQueueSize
	}

	return nil
}

// WebSocketSinkConfig configures the streaming sink that pushes events to
// connected subscribers.
type WebSocketSinkConfig struct {
	Enabled    bool   `json:"enabled"`
	ListenAddr string `json:"listen_addr"`
	QueueSize  int    `json:"queue_size"`
}

// Validate ensures the websocket sink configuration is valid.
func (c *WebSocketSinkConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:7777"
	}

	if c.QueueSize <= 0 {
		c.QueueSize = DefaultSinkQueueSize
	}

	return nil
}

// NATSSinkConfig configures the message-bus sink.
type NATSSinkConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url"`
	StreamName    string `json:"stream_name"`
	SubjectPrefix string `json:"subject_prefix"`
	Compression   bool   `json:"compression"`
	QueueSize     int    `json:"queue_size"`
	MaxRetries    int    `json:"max_retries"`
}

// Validate ensures the NATS sink configuration is valid.
func (c *NATSSinkConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.URL == "" {
		return ErrNATSURLRequired
	}

	if c.StreamName == "" {
		c.StreamName = "oisp-events"
	}

	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "oisp.events"
	}

	if c.QueueSize <= 0 {
		c.QueueSize = DefaultSinkQueueSize
	}

	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}

	return nil
}

// OTLPSinkConfig configures the telemetry-protocol sink.
type OTLPSinkConfig struct {
	Enabled      bool              `json:"enabled"`
	Endpoint     string            `json:"endpoint"`
	Headers      map[string]string `json:"headers,omitempty"`
	Insecure     bool              `json:"insecure"`
	BatchTimeout time.Duration     `json:"batch_timeout"`
	BatchSize    int               `json:"batch_size"`
	QueueSize    int               `json:"queue_size"`
}

// Validate ensures the OTLP sink configuration is valid.
func (c *OTLPSinkConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return ErrOTLPEndpointMissing
	}

	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Second
	}

	if c.BatchSize <= 0 {
		c.BatchSize = 512
	}

	if c.QueueSize <= 0 {
		c.QueueSize = DefaultSinkQueueSize
	}

	return nil
}

// SinksConfig groups all export sinks.
type SinksConfig struct {
	File      FileSinkConfig      `json:"file"`
	WebSocket WebSocketSinkConfig `json:"websocket"`
	NATS      NATSSinkConfig      `json:"nats"`
	OTLP      OTLPSinkConfig      `json:"otlp"`
}

// Validate validates every sink.
func (c *SinksConfig) Validate() error {
	if err := c.File.Validate(); err != nil {
		return err
	}

	if err := c.WebSocket.Validate(); err != nil {
		return err
	}

	if err := c.NATS.Validate(); err != nil {
		return err
	}

	return c.OTLP.Validate()
}

// SensorConfig is the full configuration surface consumed by the pipeline
// core. Capture mechanism configuration lives with the backends.
type SensorConfig struct {
	Capture   CaptureConfig     `json:"capture"`
	Tracker   TrackerConfig     `json:"tracker"`
	Correlate CorrelateConfig   `json:"correlate"`
	Redaction string            `json:"redaction_mode"`
	Providers map[string]string `json:"provider_overrides,omitempty"`
	Sinks     SinksConfig       `json:"sinks"`
}

// Validate applies defaults and checks sink configuration.
func (c *SensorConfig) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return err
	}

	if err := c.Tracker.Validate(); err != nil {
		return err
	}

	if err := c.Correlate.Validate(); err != nil {
		return err
	}

	switch c.Redaction {
	case "":
		c.Redaction = "safe"
	case "full", "safe", "minimal":
	default:
		return ErrUnknownRedaction
	}

	return c.Sinks.Validate()
}
