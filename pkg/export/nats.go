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

package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/carverauto/oisp-sensor/pkg/logger"
	"github.com/carverauto/oisp-sensor/pkg/models"
	"github.com/klauspost/compress/zstd"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSink publishes events to a JetStream stream, one subject per event
// type under the configured prefix.
type NATSSink struct {
	cfg models.NATSSinkConfig
	log zerolog.Logger

	nc  *nats.Conn
	js  jetstream.JetStream
	enc *zstd.Encoder
}

// NewNATSSink creates the sink; the connection is established on Connect.
func NewNATSSink(cfg models.NATSSinkConfig, log logger.Logger) (*NATSSink, error) {
	s := &NATSSink{
		cfg: cfg,
		log: log.WithComponent("nats-sink"),
	}

	if cfg.Compression {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		s.enc = enc
	}

	return s, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Connect(ctx context.Context) error {
	if s.nc != nil && s.nc.IsConnected() {
		return nil
	}

	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}

	nc, err := nats.Connect(s.cfg.URL,
		nats.Name("oisp-sensor"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("creating jetstream context: %w", err)
	}

	// Ensure the stream exists with the subject space this sink uses.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     s.cfg.StreamName,
		Subjects: []string{s.cfg.SubjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("ensuring stream %s: %w", s.cfg.StreamName, err)
	}

	s.nc = nc
	s.js = js
	s.log.Info().
		Str("url", s.cfg.URL).
		Str("stream", s.cfg.StreamName).
		Msg("Connected to NATS JetStream")

	return nil
}

func (s *NATSSink) Write(ctx context.Context, ev *models.Event) error {
	if s.js == nil {
		return nats.ErrConnectionClosed
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	msg := &nats.Msg{
		Subject: s.cfg.SubjectPrefix + "." + ev.EventType,
		Data:    payload,
		Header:  nats.Header{},
	}
	msg.Header.Set("Nats-Msg-Id", ev.EventID)

	if s.enc != nil {
		msg.Data = s.enc.EncodeAll(payload, nil)
		msg.Header.Set("Content-Encoding", "zstd")
	}

	if _, err := s.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	return nil
}

func (s *NATSSink) Close(_ context.Context) error {
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}

		s.nc = nil
		s.js = nil
	}

	if s.enc != nil {
		s.enc.Close()
	}

	return nil
}
