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

package tracker

import (
	"time"

	"github.com/carverauto/oisp-sensor/pkg/models"
)

// eventTime converts the backend's monotonic capture timestamp to wall time.
// Zero timestamps fall back to now.
func eventTime(ev *models.RawEvent) time.Time {
	if ev.TimestampNs == 0 {
		return time.Now().UTC()
	}

	return time.Unix(0, int64(ev.TimestampNs)).UTC()
}

// mapDirect converts lifecycle kinds straight into exported events. Returns
// nil for kinds that carry no exportable payload of their own (fork, I/O).
func mapDirect(ev *models.RawEvent, ts time.Time) *models.Event {
	var out *models.Event

	switch ev.Kind {
	case models.RawProcExec:
		out = &models.Event{
			Envelope:    models.NewEnvelope(models.EventProcessExec),
			ProcessExec: &models.ProcessExecData{Exe: ev.Exe, Comm: ev.Comm},
		}
	case models.RawProcExit:
		out = &models.Event{
			Envelope:    models.NewEnvelope(models.EventProcessExit),
			ProcessExit: &models.ProcessExitData{ExitCode: ev.ExitCode},
		}
	case models.RawFileOpen:
		out = &models.Event{
			Envelope: models.NewEnvelope(models.EventFileOpen),
			FileOpen: &models.FileOpenData{Path: ev.Path},
		}
	case models.RawNetConnect:
		out = &models.Event{
			Envelope: models.NewEnvelope(models.EventNetworkConnect),
			NetworkConnect: &models.NetworkConnectData{
				Dest: models.EndpointInfo{
					Domain: ev.RemoteHost,
					Port:   ev.RemotePort,
				},
				Protocol: "tcp",
				Success:  true,
			},
		}
	default:
		return nil
	}

	out.TS = ts
	out.Process = &models.ProcessInfo{
		PID:  ev.PID,
		PPID: ev.PPID,
		UID:  ev.UID,
		GID:  ev.GID,
		Name: ev.Comm,
		Exe:  ev.Exe,
	}
	out.Source.Backend = ev.Backend

	return out
}
