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

package correlate

import (
	"strings"

	"github.com/carverauto/oisp-sensor/pkg/models"
)

// modelPrice is USD per million tokens. Prices drift; treat the estimate as
// an order-of-magnitude signal, not billing data.
type modelPrice struct {
	prefix string
	input  float64
	output float64
}

// Longest prefix wins, so list specific variants before their family.
var priceTable = []modelPrice{
	{"gpt-4o-mini", 0.15, 0.60},
	{"gpt-4o", 2.50, 10.00},
	{"gpt-4-turbo", 10.00, 30.00},
	{"gpt-4", 30.00, 60.00},
	{"gpt-3.5", 0.50, 1.50},
	{"o1-mini", 1.10, 4.40},
	{"o1", 15.00, 60.00},
	{"claude-3-5-haiku", 0.80, 4.00},
	{"claude-3-5-sonnet", 3.00, 15.00},
	{"claude-3-haiku", 0.25, 1.25},
	{"claude-3-opus", 15.00, 75.00},
	{"claude-sonnet", 3.00, 15.00},
	{"claude-opus", 15.00, 75.00},
	{"claude-haiku", 1.00, 5.00},
	{"gemini-1.5-flash", 0.075, 0.30},
	{"gemini-1.5-pro", 1.25, 5.00},
	{"gemini-2", 0.10, 0.40},
	{"mistral-large", 2.00, 6.00},
	{"mistral-small", 0.20, 0.60},
	{"deepseek", 0.27, 1.10},
	{"llama-3", 0.20, 0.20},
}

// EstimateCostUSD estimates the cost of one response from its model and
// token usage. Unknown models cost zero.
func EstimateCostUSD(model string, usage *models.Usage) float64 {
	if model == "" || usage == nil {
		return 0
	}

	model = strings.ToLower(model)

	var (
		best    *modelPrice
		bestLen int
	)

	for i := range priceTable {
		p := &priceTable[i]
		if strings.HasPrefix(model, p.prefix) && len(p.prefix) > bestLen {
			best = p
			bestLen = len(p.prefix)
		}
	}

	if best == nil {
		return 0
	}

	const million = 1e6

	return float64(usage.PromptTokens)*best.input/million +
		float64(usage.CompletionTokens)*best.output/million
}
