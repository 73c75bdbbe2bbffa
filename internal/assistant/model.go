package assistant

import (
	"context"

	"github.com/sashabaranov/go-openai/jsonschema"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one function invocation requested by the model. Arguments is
// the raw JSON object the model produced.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Turn is one entry of the conversation sent to the model.
type Turn struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  jsonschema.Definition
}

// Completion is the model's answer to one round.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// ChatModel runs one completion round.
type ChatModel interface {
	Complete(ctx context.Context, turns []Turn, tools []Tool) (Completion, error)
}
