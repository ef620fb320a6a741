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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/oisp-sensor/pkg/capture"
	"github.com/carverauto/oisp-sensor/pkg/config"
	"github.com/carverauto/oisp-sensor/pkg/correlate"
	"github.com/carverauto/oisp-sensor/pkg/decode"
	"github.com/carverauto/oisp-sensor/pkg/enrich"
	"github.com/carverauto/oisp-sensor/pkg/export"
	"github.com/carverauto/oisp-sensor/pkg/logger"
	"github.com/carverauto/oisp-sensor/pkg/models"
	"github.com/carverauto/oisp-sensor/pkg/pipeline"
	"github.com/carverauto/oisp-sensor/pkg/redact"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/oisp/sensor.json", "Path to sensor config file")
	replayPath := flag.String("replay", "", "Replay raw events from a JSONL capture file and exit")
	replayRealtime := flag.Bool("replay-realtime", false, "Honor original inter-event timing during replay")
	synthetic := flag.Int("synthetic", 0, "Generate N synthetic AI sessions and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lg, err := logger.New(logger.DefaultConfig())
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}

	var cfg models.SensorConfig

	if _, statErr := os.Stat(*configPath); statErr == nil {
		loader := config.NewConfig(lg)
		if err := loader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		lg.Warn().Str("path", *configPath).Msg("Config file not found; using defaults")

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validating default config: %w", err)
		}
	}

	source, err := pickSource(*replayPath, *replayRealtime, *synthetic, lg)
	if err != nil {
		return err
	}

	enricher := enrich.New(ctx, version, lg)
	decoder := decode.New(decode.NewRegistry(cfg.Providers), lg)

	redactor, err := redact.New(cfg.Redaction)
	if err != nil {
		return fmt.Errorf("creating redaction engine: %w", err)
	}

	fanout := export.NewFanout(lg)

	if err := addSinks(fanout, &cfg.Sinks, lg); err != nil {
		return err
	}

	if fanout.SinkCount() == 0 {
		lg.Warn().Msg("No sinks enabled; events will be discarded")
	}

	builder := correlate.New(cfg.Correlate, fanout.PublishTrace, lg)

	lg.Info().
		Str("version", version).
		Str("source", source.Name()).
		Str("redaction", redactor.Mode()).
		Int("shards", cfg.Tracker.Shards).
		Int("sinks", fanout.SinkCount()).
		Msg("Starting OISP sensor")

	p := pipeline.New(&cfg, source, enricher, decoder, redactor, builder, fanout, lg)

	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}

	lg.Info().Msg("Sensor stopped")

	return nil
}

// pickSource selects the raw event source from flags. Replay wins over
// synthetic; with neither set there is nothing to consume.
func pickSource(replayPath string, realtime bool, synthetic int, lg logger.Logger) (capture.Source, error) {
	switch {
	case replayPath != "":
		return capture.NewReplaySource(replayPath, realtime, lg), nil
	case synthetic > 0:
		return capture.NewSyntheticSource(synthetic, 100*time.Millisecond), nil
	default:
		return nil, fmt.Errorf("no capture source: pass -replay or -synthetic")
	}
}

func addSinks(fanout *export.Fanout, cfg *models.SinksConfig, lg logger.Logger) error {
	if cfg.File.Enabled {
		fanout.Add(export.NewFileSink(cfg.File), cfg.File.QueueSize, models.DefaultMaxRetries)
	}

	if cfg.WebSocket.Enabled {
		fanout.Add(export.NewWebSocketSink(cfg.WebSocket, lg), cfg.WebSocket.QueueSize, models.DefaultMaxRetries)
	}

	if cfg.NATS.Enabled {
		sink, err := export.NewNATSSink(cfg.NATS, lg)
		if err != nil {
			return fmt.Errorf("creating nats sink: %w", err)
		}

		fanout.Add(sink, cfg.NATS.QueueSize, cfg.NATS.MaxRetries)
	}

	if cfg.OTLP.Enabled {
		fanout.Add(export.NewOTLPSink(cfg.OTLP), cfg.OTLP.QueueSize, models.DefaultMaxRetries)
	}

	return nil
}
