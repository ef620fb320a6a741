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

// Package capture defines the raw event source boundary and the sources
// that do not need a platform capture mechanism: file replay and a
// synthetic traffic generator.
package capture

import (
	"context"

	"github.com/carverauto/oisp-sensor/pkg/models"
)

// Source produces raw capture events in capture order. Run blocks until the
// source is exhausted or the context ends; it must not close out.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- *models.RawEvent) error
}
