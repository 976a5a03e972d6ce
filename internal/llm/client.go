// Package llm is the code-synthesis boundary: a small message model, a Client
// interface with a Gemini implementation, and a bounded-retry combinator that
// turns free-form model output into validated structured values.
package llm

import "context"

// Role of a message author
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ToolCall is a function invocation requested by the model
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult answers one ToolCall
type ToolResult struct {
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name"`
	Output string `json:"output"`
}

// Message is one turn of a conversation
type Message struct {
	Role        Role         `json:"role"`
	Text        string       `json:"text,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// UserMessage builds a plain user turn
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// Param describes one tool argument
type Param struct {
	Name        string
	Type        string // string, integer, number, boolean
	Description string
	Required    bool
}

// ToolSpec declares a function the model may call
type ToolSpec struct {
	Name        string
	Description string
	Params      []Param
}

// Request is one generation call
type Request struct {
	System   string
	Messages []Message
	// JSON asks the model for a single JSON document as output
	JSON  bool
	Tools []ToolSpec
}

// Response carries either text or tool calls
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Client generates model output
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
