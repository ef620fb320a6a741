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

// Package pipeline wires the sensor stages together: source, per-shard
// tracking and decoding, redaction, correlation, export fan-out.
//
// Raw events shard by process id, so one process's connections always land
// on the same tracker and per-connection byte order is preserved. The
// correlator is a single goroutine downstream of all shards; sinks are
// independent consumers behind the fan-out.
package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/carverauto/oisp-sensor/pkg/capture"
	"github.com/carverauto/oisp-sensor/pkg/correlate"
	"github.com/carverauto/oisp-sensor/pkg/decode"
	"github.com/carverauto/oisp-sensor/pkg/enrich"
	"github.com/carverauto/oisp-sensor/pkg/export"
	"github.com/carverauto/oisp-sensor/pkg/logger"
	"github.com/carverauto/oisp-sensor/pkg/models"
	"github.com/carverauto/oisp-sensor/pkg/redact"
	"github.com/carverauto/oisp-sensor/pkg/tracker"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	rawBuffer   = 4096
	shardBuffer = 1024
	corrBuffer  = 4096

	statsInterval = 60 * time.Second
)

// Pipeline is the assembled sensor core.
type Pipeline struct {
	cfg      *models.SensorConfig
	rootLog  logger.Logger
	log      zerolog.Logger
	source   capture.Source
	enricher *enrich.Enricher
	decoder  *decode.Decoder
	redactor *redact.Engine
	fanout   *export.Fanout
	builder  *correlate.Builder
}

// New assembles a pipeline from its stages. The builder's snapshot callback
// must already point at the fanout's PublishTrace.
func New(
	cfg *models.SensorConfig,
	source capture.Source,
	enricher *enrich.Enricher,
	decoder *decode.Decoder,
	redactor *redact.Engine,
	builder *correlate.Builder,
	fanout *export.Fanout,
	log logger.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		rootLog:  log,
		log:      log.WithComponent("pipeline"),
		source:   source,
		enricher: enricher,
		decoder:  decoder,
		redactor: redactor,
		builder:  builder,
		fanout:   fanout,
	}
}

// Run drives the pipeline until the source is exhausted or the context
// ends, then shuts down in order: trackers flush their live connections,
// the correlator closes open traces, and the sinks drain their queues.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	rawCh := make(chan *models.RawEvent, rawBuffer)
	corrCh := make(chan *models.Event, corrBuffer)

	shards := make([]chan *models.RawEvent, p.cfg.Tracker.Shards)
	for i := range shards {
		shards[i] = make(chan *models.RawEvent, shardBuffer)
	}

	// Sinks outlive gctx: they exit when their queues are closed and
	// drained, not when the run context is canceled.
	g.Go(func() error {
		return p.fanout.Run(context.WithoutCancel(ctx))
	})

	g.Go(func() error {
		defer close(rawCh)

		err := p.source.Run(gctx, rawCh)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()

		for ev := range rawCh {
			if !p.cfg.Capture.Allows(ev.Kind) {
				continue
			}

			shards[shardFor(ev.PID, len(shards))] <- ev
		}

		return nil
	})

	var shardWG sync.WaitGroup

	for i := range shards {
		shardWG.Add(1)

		in := shards[i]

		g.Go(func() error {
			defer shardWG.Done()

			p.runShard(in, corrCh)

			return nil
		})
	}

	g.Go(func() error {
		shardWG.Wait()
		close(corrCh)

		return nil
	})

	g.Go(func() error {
		p.runCorrelator(corrCh)

		return nil
	})

	return g.Wait()
}

// runShard owns one tracker instance and pushes decoded, enriched, redacted
// events downstream. Exits when its input closes, flushing live connections
// first.
func (p *Pipeline) runShard(in <-chan *models.RawEvent, out chan<- *models.Event) {
	tr := tracker.New(&p.cfg.Tracker, p.rootLog)

	ticker := time.NewTicker(p.cfg.Tracker.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-in:
			if !ok {
				p.forward(tr.Drain(time.Now().UTC()), out)
				return
			}

			p.forward(tr.Ingest(ev), out)
		case <-ticker.C:
			p.forward(tr.Sweep(time.Now().UTC()), out)
		}
	}
}

func (p *Pipeline) forward(emits []tracker.Emit, out chan<- *models.Event) {
	for i := range emits {
		for _, ev := range p.decoder.Decode(&emits[i]) {
			p.enricher.Apply(ev)
			out <- p.redactor.Apply(ev)
		}
	}
}

// runCorrelator is the single goroutine that owns the trace builder. Every
// event is stamped with its trace id before fan-out.
func (p *Pipeline) runCorrelator(in <-chan *models.Event) {
	sweep := time.NewTicker(p.cfg.Correlate.SweepInterval)
	defer sweep.Stop()

	stats := time.NewTicker(statsInterval)
	defer stats.Stop()

	for {
		select {
		case ev, ok := <-in:
			if !ok {
				p.builder.Drain(time.Now().UTC())
				p.fanout.CloseQueues()

				return
			}

			p.builder.Observe(ev)
			p.fanout.Publish(ev)
		case <-sweep.C:
			p.builder.Sweep(time.Now().UTC())
		case <-stats.C:
			p.logStats()
		}
	}
}

func (p *Pipeline) logStats() {
	ev := p.log.Info().Int("open_traces", p.builder.OpenCount())

	for _, s := range p.fanout.Stats() {
		ev = ev.Uint64("sink_"+s.Name+"_written", s.Written).
			Uint64("sink_"+s.Name+"_dropped", s.Dropped)
	}

	ev.Msg("Pipeline stats")
}

func shardFor(pid uint32, n int) int {
	h := fnv.New32a()
	h.Write([]byte{byte(pid), byte(pid >> 8), byte(pid >> 16), byte(pid >> 24)})

	return int(h.Sum32() % uint32(n))
}
