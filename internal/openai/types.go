// Package openai defines the subset of the OpenAI Chat Completions wire
// schema the proxy speaks with clients (spec.md §3 "ChatRequest", §6
// "Client HTTP surface").
package openai

import "encoding/json"

// Role values for ChatMessage.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolChoice modes (spec.md §3).
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// ContentPart is one element of a multi-part message content array:
// {"type":"text","text":...} or {"type":"image_url","image_url":{"url":...}}.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// MessageContent holds either a plain string or a part array, matching the
// OpenAI wire format where "content" is polymorphic.
type MessageContent struct {
	Text  string
	Parts []ContentPart
	IsSet bool
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.IsSet = true

		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}

	c.Parts = parts
	c.IsSet = true

	return nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}

	return json.Marshal(c.Text)
}

// Message is one entry of the "messages" array.
type Message struct {
	Role       string         `json:"role"`
	Content    MessageContent `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
}

// Tool is a function tool declaration (spec.md §3 "tools").
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is one OpenAI tool_calls entry; Arguments MUST stay a JSON string
// (spec.md §3 "ToolCall", §9 "MUST be a JSON-serialized string").
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolChoice is either a bare string ("auto"/"none"/"required") or
// {"type":"function","function":{"name":...}}.
type ToolChoice struct {
	Mode     string
	Function string
	IsSet    bool
}

func (t *ToolChoice) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Mode = s
		t.IsSet = true

		return nil
	}

	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}

	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	t.Mode = obj.Type
	t.Function = obj.Function.Name
	t.IsSet = true

	return nil
}

func (t ToolChoice) MarshalJSON() ([]byte, error) {
	if t.Function != "" {
		return json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": t.Function},
		})
	}

	if t.Mode == "" {
		return json.Marshal(ToolChoiceAuto)
	}

	return json.Marshal(t.Mode)
}

// ChatRequest is the inbound client request body (spec.md §3 "ChatRequest").
type ChatRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	Stream      bool       `json:"stream,omitempty"`
	Tools       []Tool     `json:"tools,omitempty"`
	ToolChoice  ToolChoice `json:"tool_choice,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	TopP        *float64   `json:"top_p,omitempty"`
	MaxTokens   *int       `json:"max_tokens,omitempty"`
	Stop        any        `json:"stop,omitempty"`
}

// Usage mirrors OpenAI's token accounting block (spec.md §4.4
// "Non-streaming emission").
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one entry of a non-streaming completion's "choices" array.
type Choice struct {
	Index        int          `json:"index"`
	Message      ChoiceMessage `json:"message"`
	FinishReason string       `json:"finish_reason"`
}

type ChoiceMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ChatCompletion is the non-streaming response object (spec.md §6).
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Delta is the incremental content of a streaming chunk.
type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ChunkChoice is one entry of a streaming chunk's "choices" array.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// ChatCompletionChunk is one SSE "data:" payload of a streaming response
// (spec.md §4.4 "Streaming emission").
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Error   *ErrorPayload `json:"error,omitempty"`
}

// ErrorPayload is attached to a final streaming chunk when the upstream call
// failed after the stream had already begun (spec.md §7 "Propagation
// policy").
type ErrorPayload struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// ModelsList is the response body of GET /v1/models.
type ModelsList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}
