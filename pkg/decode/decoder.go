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

// Package decode turns reassembled protocol units into typed AI events. The
// decoder never fails a connection: bytes it cannot interpret produce
// low-confidence events or nothing at all, and the stream keeps flowing.
package decode

import (
	"encoding/json"
	"strings"

	"github.com/carverauto/oisp-sensor/pkg/logger"
	"github.com/carverauto/oisp-sensor/pkg/models"
	"github.com/carverauto/oisp-sensor/pkg/reassembly"
	"github.com/carverauto/oisp-sensor/pkg/tracker"
	"github.com/rs/zerolog"
)

// ProviderOpenAICompatible marks traffic recognized only by its body shape,
// typically a self-hosted gateway speaking the OpenAI dialect.
const ProviderOpenAICompatible = "openai_compatible"

// Decoder converts tracker emissions into exported events. Instances are
// stateless between calls except for the per-connection meta the tracker
// hands in, so one decoder is shared by all shards.
type Decoder struct {
	registry *Registry
	log      zerolog.Logger
}

// New creates a decoder backed by the given provider registry.
func New(registry *Registry, log logger.Logger) *Decoder {
	return &Decoder{
		registry: registry,
		log:      log.WithComponent("decode"),
	}
}

// Decode converts one tracker emission into zero or more exported events, in
// capture order.
func (d *Decoder) Decode(em *tracker.Emit) []*models.Event {
	if em.Event != nil {
		return []*models.Event{em.Event}
	}

	unit := em.Unit
	if unit == nil {
		return nil
	}

	if unit.Malformed {
		return d.malformedEvent(em)
	}

	switch {
	case unit.HTTP != nil && unit.HTTP.IsRequest:
		return d.decodeRequest(em, unit.HTTP)
	case unit.HTTP != nil:
		return d.decodeResponse(em, unit.HTTP)
	case unit.SSE != nil:
		return d.decodeChunk(em, unit.SSE)
	default:
		return nil
	}
}

// malformedEvent keeps connection and process context for bytes the
// reassembler could not parse. Only the consumed bytes are lost; the
// connection keeps flowing.
func (d *Decoder) malformedEvent(em *tracker.Emit) []*models.Event {
	var provider, model, requestID string

	if em.Meta != nil {
		provider = em.Meta.Provider
		model = em.Meta.Model
		requestID = em.Meta.RequestID
	}

	eventType := models.EventAIResponse
	if em.Dir == tracker.DirOutbound {
		eventType = models.EventAIRequest
	}

	ev := d.newEvent(eventType, em)
	ev.Confidence.Level = models.ConfidenceLow
	ev.Confidence.Completeness = models.CompletenessMetadataOnly
	ev.Confidence.AddFlag(models.FlagUnparseable)
	degrade(ev, em, false)

	if em.Dir == tracker.DirOutbound {
		ev.AIRequest = &models.AIRequestData{Provider: provider, Model: model}
	} else {
		ev.AIResponse = &models.AIResponseData{
			RequestID: requestID,
			Provider:  provider,
			Model:     model,
		}
	}

	d.log.Debug().Str("conn", ev.ConnKey).Msg("Unparseable bytes on tracked connection")

	return []*models.Event{ev}
}

// newEvent stamps an envelope with the emission's process and capture
// provenance.
func (d *Decoder) newEvent(eventType string, em *tracker.Emit) *models.Event {
	ev := &models.Event{Envelope: models.NewEnvelope(eventType)}
	ev.TS = em.TS
	ev.ConnKey = em.Key.String()

	proc := em.Proc
	ev.Process = &proc

	ev.Source.Backend = em.Backend

	if em.Dir == tracker.DirOutbound {
		ev.Source.CapturePoint = "ssl_write"
	} else {
		ev.Source.CapturePoint = "ssl_read"
	}

	return ev
}

// degrade applies truncation and partial-flush markers to a decoded event.
func degrade(ev *models.Event, em *tracker.Emit, truncated bool) {
	if truncated {
		ev.Confidence.AddFlag(models.FlagTruncated)
		ev.Confidence.Completeness = models.CompletenessPartial

		if ev.Confidence.Level == models.ConfidenceHigh {
			ev.Confidence.Level = models.ConfidenceMedium
		}
	}

	if em.Partial {
		ev.Confidence.AddFlag(models.FlagPartial)
		ev.Confidence.Completeness = models.CompletenessPartial
		ev.Confidence.Level = models.ConfidenceLow
	}
}

// providerFor applies the detection precedence: credential headers, then the
// endpoint host table, then body shape.
func (d *Decoder) providerFor(msg *reassembly.HTTPMessage, host string, body map[string]json.RawMessage) string {
	if key := msg.Headers["x-api-key"]; key != "" {
		if p := d.registry.FromKey(key); p != ProviderUnknown {
			return p
		}
	}

	if auth := msg.Headers["authorization"]; auth != "" {
		key := strings.TrimPrefix(auth, "Bearer ")
		if p := d.registry.FromKey(key); p != ProviderUnknown {
			return p
		}
	}

	if p := d.registry.FromHost(host); p != ProviderUnknown {
		return p
	}

	if isAIShape(body) {
		return ProviderOpenAICompatible
	}

	return ProviderUnknown
}

// isAIShape reports whether a JSON body looks like an LLM completion request:
// a model field plus either messages or a prompt.
func isAIShape(body map[string]json.RawMessage) bool {
	if body == nil {
		return false
	}

	if _, ok := body["model"]; !ok {
		return false
	}

	_, hasMessages := body["messages"]
	_, hasPrompt := body["prompt"]

	return hasMessages || hasPrompt
}

func parseJSONObject(b []byte) map[string]json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}

	return m
}

func jsonString(m map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := m[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}

	return s
}

func jsonInt(m map[string]json.RawMessage, key string) int {
	var n int
	if raw, ok := m[key]; ok {
		_ = json.Unmarshal(raw, &n)
	}

	return n
}

func jsonBool(m map[string]json.RawMessage, key string) bool {
	var b bool
	if raw, ok := m[key]; ok {
		_ = json.Unmarshal(raw, &b)
	}

	return b
}
