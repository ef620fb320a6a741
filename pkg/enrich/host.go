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

// Package enrich stamps exported events with host context gathered once at
// startup.
package enrich

import (
	"context"
	"os"
	"runtime"

	"github.com/carverauto/oisp-sensor/pkg/logger"
	"github.com/carverauto/oisp-sensor/pkg/models"
	"github.com/shirou/gopsutil/v3/host"
)

// Enricher adds the host descriptor and collector version to events.
type Enricher struct {
	host    models.HostInfo
	version string
}

// New probes the host once. Probe failures degrade to hostname and runtime
// facts rather than failing startup.
func New(ctx context.Context, version string, log logger.Logger) *Enricher {
	e := &Enricher{version: version}

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Host probe failed; using runtime facts only")

		hostname, _ := os.Hostname()
		e.host = models.HostInfo{
			Hostname: hostname,
			OS:       runtime.GOOS,
			Arch:     runtime.GOARCH,
		}

		return e
	}

	e.host = models.HostInfo{
		Hostname: info.Hostname,
		OS:       info.OS,
		Platform: info.Platform,
		Arch:     info.KernelArch,
	}

	if e.host.Arch == "" {
		e.host.Arch = runtime.GOARCH
	}

	return e
}

// Apply fills the envelope fields the decoder leaves empty.
func (e *Enricher) Apply(ev *models.Event) {
	if ev.Host == nil {
		h := e.host
		ev.Host = &h
	}

	if ev.Source.Version == "" {
		ev.Source.Version = e.version
	}
}
