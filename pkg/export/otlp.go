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
	"errors"
	"fmt"

	"github.com/carverauto/oisp-sensor/pkg/models"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// errOTLPNotConnected is returned when Write races a failed Connect.
var errOTLPNotConnected = errors.New("otlp sink not connected")

// OTLPSink exports events as OTLP log records over gRPC. Batching is
// delegated to the SDK's batch processor.
type OTLPSink struct {
	cfg models.OTLPSinkConfig

	provider *sdklog.LoggerProvider
	logger   otellog.Logger
}

// NewOTLPSink creates the sink; the exporter is built on Connect.
func NewOTLPSink(cfg models.OTLPSinkConfig) *OTLPSink {
	return &OTLPSink{cfg: cfg}
}

func (s *OTLPSink) Name() string { return "otlp" }

func (s *OTLPSink) Connect(ctx context.Context) error {
	if s.provider != nil {
		return nil
	}

	opts := []otlploggrpc.Option{
		otlploggrpc.WithEndpoint(s.cfg.Endpoint),
	}

	if s.cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}

	if len(s.cfg.Headers) > 0 {
		opts = append(opts, otlploggrpc.WithHeaders(s.cfg.Headers))
	}

	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("creating otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(models.CollectorName),
		),
	)
	if err != nil {
		return fmt.Errorf("building resource: %w", err)
	}

	s.provider = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter,
			sdklog.WithExportInterval(s.cfg.BatchTimeout),
			sdklog.WithExportMaxBatchSize(s.cfg.BatchSize),
		)),
	)
	s.logger = s.provider.Logger(models.CollectorName)

	return nil
}

func (s *OTLPSink) Write(ctx context.Context, ev *models.Event) error {
	if s.logger == nil {
		return errOTLPNotConnected
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	var rec otellog.Record
	rec.SetTimestamp(ev.TS)
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue(string(payload)))
	rec.AddAttributes(
		otellog.String("oisp.event_type", ev.EventType),
		otellog.String("oisp.event_id", ev.EventID),
	)

	if ev.TraceID != "" {
		rec.AddAttributes(otellog.String("oisp.trace_id", ev.TraceID))
	}

	s.logger.Emit(ctx, rec)

	return nil
}

func (s *OTLPSink) Close(ctx context.Context) error {
	if s.provider == nil {
		return nil
	}

	err := s.provider.Shutdown(ctx)
	s.provider = nil
	s.logger = nil

	return err
}
