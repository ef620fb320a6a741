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

package decode

import (
	"encoding/json"

	"github.com/carverauto/oisp-sensor/pkg/models"
	"github.com/carverauto/oisp-sensor/pkg/reassembly"
	"github.com/carverauto/oisp-sensor/pkg/tracker"
)

// wireChoice is one OpenAI response choice.
type wireChoice struct {
	Message struct {
		Role      string          `json:"role"`
		Content   json.RawMessage `json:"content"`
		ToolCalls []wireToolCall  `json:"tool_calls"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// wireToolCall is one OpenAI tool call.
type wireToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

func (d *Decoder) decodeResponse(em *tracker.Emit, msg *reassembly.HTTPMessage) []*models.Event {
	meta := em.Meta

	body := parseJSONObject(msg.Body)
	if body == nil {
		if meta.Provider == ProviderUnknown {
			return nil
		}

		// AI connection but an unreadable body. Report what we know.
		ev := d.newEvent(models.EventAIResponse, em)
		ev.AIResponse = &models.AIResponseData{
			RequestID:  meta.RequestID,
			Provider:   meta.Provider,
			Model:      meta.Model,
			StatusCode: msg.StatusCode,
			LatencyMs:  latencyMs(em),
		}
		ev.Confidence.Level = models.ConfidenceLow
		ev.Confidence.Completeness = models.CompletenessMetadataOnly
		ev.Confidence.AddFlag(models.FlagUnparseable)
		degrade(ev, em, msg.Truncated)

		return []*models.Event{ev}
	}

	provider := meta.Provider
	if provider == ProviderUnknown {
		provider = providerFromBody(body)
		if provider == ProviderUnknown {
			return nil
		}
	}

	requestID := meta.RequestID
	if requestID == "" {
		// No request was seen on this connection; fall back to the
		// provider-assigned id so correlation can still match echoes.
		requestID = jsonString(body, "id")
	}

	ev := d.newEvent(models.EventAIResponse, em)

	data := &models.AIResponseData{
		RequestID:  requestID,
		Provider:   provider,
		StatusCode: msg.StatusCode,
		LatencyMs:  latencyMs(em),
	}

	if m := jsonString(body, "model"); m != "" {
		data.Model = m
	} else {
		data.Model = meta.Model
	}

	data.Usage = parseUsage(body["usage"])

	var toolCalls []*models.ToolCallData

	if rawChoices, ok := body["choices"]; ok {
		data.Messages, data.FinishReason, toolCalls = parseChoices(rawChoices)
	} else if rawContent, ok := body["content"]; ok {
		// Anthropic shape: top-level content blocks plus stop_reason.
		text, blocks := flattenContent(rawContent)
		role := jsonString(body, "role")

		if role == "" {
			role = "assistant"
		}

		data.Messages = []models.Message{{Role: role, Content: text}}
		data.FinishReason = jsonString(body, "stop_reason")

		for _, b := range blocks {
			if b.Type == "tool_use" {
				toolCalls = append(toolCalls, &models.ToolCallData{
					CallID:   b.ID,
					ToolName: b.Name,
					Input:    b.Input,
				})
			}
		}
	}

	ev.AIResponse = data
	degrade(ev, em, msg.Truncated)

	out := []*models.Event{ev}

	for _, tc := range toolCalls {
		tc.RequestID = requestID

		tev := d.newEvent(models.EventAgentToolCall, em)
		tev.ToolCall = tc
		degrade(tev, em, msg.Truncated)
		out = append(out, tev)
	}

	return out
}

func parseChoices(raw json.RawMessage) ([]models.Message, string, []*models.ToolCallData) {
	var choices []wireChoice
	if err := json.Unmarshal(raw, &choices); err != nil || len(choices) == 0 {
		return nil, "", nil
	}

	var (
		messages  []models.Message
		toolCalls []*models.ToolCallData
	)

	for _, c := range choices {
		text, _ := flattenContent(c.Message.Content)

		role := c.Message.Role
		if role == "" {
			role = "assistant"
		}

		messages = append(messages, models.Message{Role: role, Content: text})

		for _, tc := range c.Message.ToolCalls {
			args := tc.Function.Arguments

			// OpenAI double-encodes arguments as a JSON string.
			var inner string
			if err := json.Unmarshal(args, &inner); err == nil {
				args = json.RawMessage(inner)
			}

			toolCalls = append(toolCalls, &models.ToolCallData{
				CallID:   tc.ID,
				ToolName: tc.Function.Name,
				Input:    args,
			})
		}
	}

	return messages, choices[0].FinishReason, toolCalls
}

// parseUsage reads both the OpenAI and Anthropic usage shapes.
func parseUsage(raw json.RawMessage) *models.Usage {
	if len(raw) == 0 {
		return nil
	}

	var wire struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
		InputTokens      int `json:"input_tokens"`
		OutputTokens     int `json:"output_tokens"`
	}

	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil
	}

	u := &models.Usage{
		PromptTokens:     wire.PromptTokens,
		CompletionTokens: wire.CompletionTokens,
		TotalTokens:      wire.TotalTokens,
	}

	if u.PromptTokens == 0 && wire.InputTokens > 0 {
		u.PromptTokens = wire.InputTokens
	}

	if u.CompletionTokens == 0 && wire.OutputTokens > 0 {
		u.CompletionTokens = wire.OutputTokens
	}

	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}

	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return nil
	}

	return u
}

// providerFromBody fingerprints a response body when no request context
// exists: Anthropic stamps type=message, OpenAI stamps an object field.
func providerFromBody(body map[string]json.RawMessage) string {
	switch jsonString(body, "type") {
	case "message", "message_start":
		return ProviderAnthropic
	}

	switch jsonString(body, "object") {
	case "chat.completion", "chat.completion.chunk", "text_completion":
		return ProviderOpenAI
	}

	return ProviderUnknown
}

func latencyMs(em *tracker.Emit) int64 {
	if em.Meta.LastRequestAt.IsZero() {
		return 0
	}

	ms := em.TS.Sub(em.Meta.LastRequestAt).Milliseconds()
	if ms < 0 {
		return 0
	}

	return ms
}
