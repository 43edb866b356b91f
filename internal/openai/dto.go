// Package openai holds the wire DTOs for the OpenAI-compatible chat
// completions surface glmproxy exposes, per spec.md §6.1. These are
// hand-rolled rather than reused from an OpenAI client SDK: every SDK in the
// example pack models a *client* calling out to a provider, never a server
// emitting its own responses — see DESIGN.md.
package openai

import "encoding/json"

// Message is one chat-completions message, request or response side.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is the OpenAI wire form of a single tool invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its stringified JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is a client-declared tool definition.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function-calling schema body of a Tool.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolChoice is either a bare string ("auto"|"required"|"none") or an object
// naming a specific function; callers should inspect Name to distinguish.
type ToolChoice struct {
	Mode string
	Name string
}

// UnmarshalJSON accepts both the bare-string and the
// {"type":"function","function":{"name":...}} object shapes.
func (c *ToolChoice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Mode = s
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
	c.Mode = obj.Type
	c.Name = obj.Function.Name
	return nil
}

// ChatCompletionRequest is the POST /v1/chat/completions request body.
type ChatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Tools         []Tool         `json:"tools,omitempty"`
	ToolChoice    *ToolChoice    `json:"tool_choice,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	EnableThinking *bool         `json:"enable_thinking,omitempty"`
	Features      map[string]any `json:"features,omitempty"`
	WebSearch     *bool          `json:"web_search,omitempty"`
	AutoWebSearch *bool          `json:"auto_web_search,omitempty"`
}

// Usage is the token accounting block of a response. The handler never sets
// it, so responses carry no usage block even when PROXY_INCLUDE_USAGE is
// enabled.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one non-streaming response choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatCompletionResponse is the POST /v1/chat/completions non-streaming
// response body.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Delta is the incremental content of a streaming chunk's choice.
type Delta struct {
	Role             string     `json:"role,omitempty"`
	Content          string     `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// ChunkChoice is one streaming chunk's choice.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// ChatCompletionChunk is one `data: {...}` SSE event body.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// Model is one entry of the GET /v1/models response.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse is the GET /v1/models / GET /models response body.
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
