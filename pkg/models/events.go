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

package models

import "encoding/json"

// Message is one turn of an AI conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	// Original content length in characters, set by redaction when the
	// content body is replaced.
	ContentLength int `json:"content_length,omitempty"`
}

// Usage carries token accounting from a provider response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AIRequestData is the payload of an ai.request event.
type AIRequestData struct {
	RequestID string    `json:"request_id"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
	Prompt    string    `json:"prompt,omitempty"`
	Streaming bool      `json:"streaming"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// AIResponseData is the payload of an ai.response event.
type AIResponseData struct {
	RequestID    string    `json:"request_id"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	StatusCode   int       `json:"status_code,omitempty"`
	Messages     []Message `json:"messages,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Usage        *Usage    `json:"usage,omitempty"`
	LatencyMs    int64     `json:"latency_ms,omitempty"`
}

// StreamChunkData is the payload of an ai.streaming_chunk event. ChunkIndex
// is strictly increasing per request_id.
type StreamChunkData struct {
	RequestID    string `json:"request_id"`
	ChunkIndex   int    `json:"chunk_index"`
	DeltaContent string `json:"delta_content,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// ToolCallData is the payload of an agent.tool_call event.
type ToolCallData struct {
	CallID    string          `json:"call_id"`
	RequestID string          `json:"request_id,omitempty"`
	ToolName  string          `json:"tool_name"`
	Input     json.RawMessage `json:"input,omitempty"`
	// Original input length in bytes, set by redaction.
	InputLength int `json:"input_length,omitempty"`
}

// ToolResultData is the payload of an agent.tool_result event.
type ToolResultData struct {
	CallID        string `json:"call_id"`
	Success       bool   `json:"success"`
	OutputPreview string `json:"output_preview,omitempty"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
}

// ProcessExecData is the payload of a process.exec event.
type ProcessExecData struct {
	Exe  string `json:"exe,omitempty"`
	Comm string `json:"comm,omitempty"`
}

// ProcessExitData is the payload of a process.exit event.
type ProcessExitData struct {
	ExitCode int32 `json:"exit_code,omitempty"`
}

// FileOpenData is the payload of a file.open event.
type FileOpenData struct {
	Path string `json:"path,omitempty"`
}

// EndpointInfo describes a network destination.
type EndpointInfo struct {
	IP     string `json:"ip,omitempty"`
	Port   uint16 `json:"port,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// NetworkConnectData is the payload of a network.connect event.
type NetworkConnectData struct {
	Dest     EndpointInfo `json:"dest"`
	Protocol string       `json:"protocol,omitempty"`
	Success  bool         `json:"success"`
}

// Event is the exported unit: an envelope plus exactly one typed payload.
// Exactly one Data field is non-nil, matching Envelope.EventType. Events are
// immutable after creation; redaction produces a modified copy.
type Event struct {
	Envelope

	// ConnKey identifies the originating connection for correlation by
	// adjacency. Not exported on the wire.
	ConnKey string `json:"-"`

	AIRequest      *AIRequestData      `json:"-"`
	AIResponse     *AIResponseData     `json:"-"`
	StreamChunk    *StreamChunkData    `json:"-"`
	ToolCall       *ToolCallData       `json:"-"`
	ToolResult     *ToolResultData     `json:"-"`
	ProcessExec    *ProcessExecData    `json:"-"`
	ProcessExit    *ProcessExitData    `json:"-"`
	FileOpen       *FileOpenData       `json:"-"`
	NetworkConnect *NetworkConnectData `json:"-"`
}

// Data returns the active payload variant as an interface value.
func (e *Event) Data() interface{} {
	switch {
	case e.AIRequest != nil:
		return e.AIRequest
	case e.AIResponse != nil:
		return e.AIResponse
	case e.StreamChunk != nil:
		return e.StreamChunk
	case e.ToolCall != nil:
		return e.ToolCall
	case e.ToolResult != nil:
		return e.ToolResult
	case e.ProcessExec != nil:
		return e.ProcessExec
	case e.ProcessExit != nil:
		return e.ProcessExit
	case e.FileOpen != nil:
		return e.FileOpen
	case e.NetworkConnect != nil:
		return e.NetworkConnect
	default:
		return nil
	}
}

// RequestID returns the request id carried by AI payload variants, or "".
func (e *Event) RequestID() string {
	switch {
	case e.AIRequest != nil:
		return e.AIRequest.RequestID
	case e.AIResponse != nil:
		return e.AIResponse.RequestID
	case e.StreamChunk != nil:
		return e.StreamChunk.RequestID
	case e.ToolCall != nil:
		return e.ToolCall.RequestID
	default:
		return ""
	}
}

// wireEvent is the JSON shape written to sinks: envelope fields flattened
// with the payload under "data".
type wireEvent struct {
	Envelope
	Data interface{} `json:"data,omitempty"`
}

// MarshalJSON renders the envelope with the active payload under "data",
// one object per event.
func (e *Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{Envelope: e.Envelope, Data: e.Data()})
}

// UnmarshalJSON restores an event from its wire form.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w struct {
		Envelope
		Data json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	e.Envelope = w.Envelope

	if len(w.Data) == 0 {
		return nil
	}

	switch w.EventType {
	case EventAIRequest:
		e.AIRequest = &AIRequestData{}
		return json.Unmarshal(w.Data, e.AIRequest)
	case EventAIResponse:
		e.AIResponse = &AIResponseData{}
		return json.Unmarshal(w.Data, e.AIResponse)
	case EventAIStreamChunk:
		e.StreamChunk = &StreamChunkData{}
		return json.Unmarshal(w.Data, e.StreamChunk)
	case EventAgentToolCall:
		e.ToolCall = &ToolCallData{}
		return json.Unmarshal(w.Data, e.ToolCall)
	case EventAgentToolResult:
		e.ToolResult = &ToolResultData{}
		return json.Unmarshal(w.Data, e.ToolResult)
	case EventProcessExec:
		e.ProcessExec = &ProcessExecData{}
		return json.Unmarshal(w.Data, e.ProcessExec)
	case EventProcessExit:
		e.ProcessExit = &ProcessExitData{}
		return json.Unmarshal(w.Data, e.ProcessExit)
	case EventFileOpen:
		e.FileOpen = &FileOpenData{}
		return json.Unmarshal(w.Data, e.FileOpen)
	case EventNetworkConnect:
		e.NetworkConnect = &NetworkConnectData{}
		return json.Unmarshal(w.Data, e.NetworkConnect)
	}

	return nil
}
