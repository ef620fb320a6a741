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

// wireMessage covers both dialects: OpenAI carries string content and
// optional tool fields, Anthropic carries a content block array.
type wireMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	ToolCallID string          `json:"tool_call_id"`
}

// contentBlock is one element of an Anthropic content array.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
}

func (d *Decoder) decodeRequest(em *tracker.Emit, msg *reassembly.HTTPMessage) []*models.Event {
	host := msg.Host()
	if host == "" {
		host = em.Meta.RemoteHost
	}

	body := parseJSONObject(msg.Body)
	provider := d.providerFor(msg, host, body)

	if provider == ProviderUnknown || !isAIShape(body) {
		// Not LLM traffic. Other request traffic on an AI connection
		// (model listings, health checks) is not worth an event.
		return nil
	}

	// Prefer an application-level id echoed by the client so the response
	// side can link on it; synthesize one only when nothing is echoed.
	requestID := jsonString(body, "request_id")
	if requestID == "" {
		requestID = msg.Headers["x-request-id"]
	}

	if requestID == "" {
		requestID = models.NewEventID()
	}

	em.Meta.Provider = provider
	em.Meta.RequestID = requestID
	em.Meta.Model = jsonString(body, "model")
	em.Meta.LastRequestAt = em.TS
	em.Meta.Streaming = jsonBool(body, "stream")
	em.Meta.ChunkIndex = 0
	em.Meta.FinishReason = ""
	em.Meta.PromptTokens = 0
	em.Meta.CompletionTokens = 0
	em.Meta.StreamClosed = false

	ev := d.newEvent(models.EventAIRequest, em)
	ev.AIRequest = &models.AIRequestData{
		RequestID: requestID,
		Provider:  provider,
		Model:     em.Meta.Model,
		Endpoint:  "https://" + host + msg.Path,
		Streaming: em.Meta.Streaming,
		MaxTokens: jsonInt(body, "max_tokens"),
		Prompt:    jsonString(body, "prompt"),
	}

	if provider == ProviderOpenAICompatible {
		// Body-shape detection alone is weaker evidence than a known
		// endpoint or credential prefix.
		ev.Confidence.Level = models.ConfidenceMedium
	}

	messages, results := parseRequestMessages(body["messages"])
	ev.AIRequest.Messages = messages

	degrade(ev, em, msg.Truncated)

	out := []*models.Event{ev}

	// Tool results riding in the request history are evidence of a
	// completed tool invocation.
	for _, res := range results {
		rev := d.newEvent(models.EventAgentToolResult, em)
		rev.ToolResult = res
		degrade(rev, em, msg.Truncated)
		out = append(out, rev)
	}

	return out
}

// parseRequestMessages extracts conversation turns plus any tool results
// embedded in the history.
func parseRequestMessages(raw json.RawMessage) ([]models.Message, []*models.ToolResultData) {
	if len(raw) == 0 {
		return nil, nil
	}

	var wire []wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, nil
	}

	var (
		messages []models.Message
		results  []*models.ToolResultData
	)

	for _, wm := range wire {
		text, blocks := flattenContent(wm.Content)

		if wm.Role == "tool" {
			results = append(results, &models.ToolResultData{
				CallID:        wm.ToolCallID,
				Success:       true,
				OutputPreview: text,
			})

			continue
		}

		for _, b := range blocks {
			if b.Type != "tool_result" {
				continue
			}

			preview, _ := flattenContent(b.Content)
			results = append(results, &models.ToolResultData{
				CallID:        b.ToolUseID,
				Success:       true,
				OutputPreview: preview,
			})
		}

		messages = append(messages, models.Message{Role: wm.Role, Content: text})
	}

	return messages, results
}

// flattenContent reduces either a plain string or an Anthropic content block
// array to its text, returning the blocks for callers that need structure.
func flattenContent(raw json.RawMessage) (string, []contentBlock) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", nil
	}

	var text string

	for _, b := range blocks {
		if b.Type == "text" {
			if text != "" {
				text += "\n"
			}

			text += b.Text
		}
	}

	return text, blocks
}
