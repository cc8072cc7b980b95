package llm

import (
	"encoding/json"
	"time"
)

// Message is one entry of the conversation sent to a provider.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Images     []string   `json:"images,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a tool invocation carried on an assistant message.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and its decoded arguments.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Tool describes a tool that can be provided to the model.
type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function describes a callable function including its parameters schema.
type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is one model invocation.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	Temperature float64
}

// ReplyShape tells which member of a Reply is populated.
type ReplyShape int

const (
	// ShapeMapping is a decoded JSON object as returned by a native chat API.
	ShapeMapping ReplyShape = iota + 1
	// ShapeTyped is a message already decoded into SDK structs.
	ShapeTyped
)

func (s ReplyShape) String() string {
	switch s {
	case ShapeMapping:
		return "mapping"
	case ShapeTyped:
		return "typed"
	default:
		return "unknown"
	}
}

// Reply is the model's answer for one round. Exactly one of Mapping or Typed
// is set, as indicated by Shape. Only the response normalizer looks inside.
type Reply struct {
	Shape   ReplyShape
	Mapping map[string]any
	Typed   *TypedMessage
	Usage   Usage
}

// TypedMessage is an assistant message whose tool arguments are still the
// raw JSON text the provider returned.
type TypedMessage struct {
	Content   string
	ToolCalls []TypedToolCall
}

// TypedToolCall is one tool call of a TypedMessage.
type TypedToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Usage tracks token consumption for a request/response pair.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates u into the receiver.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ModelInfo is one entry of a provider's model listing.
type ModelInfo struct {
	ID      string
	Created time.Time
	OwnedBy string
}
