package types

import (
	"context"
)

// ToolDefinition describes one tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ModelResponse is the result of one model call.
type ModelResponse struct {
	Content    []ContentBlock
	Usage      Usage
	StopReason string
	Model      string
}

// ModelClient is the provider-facing contract. Implementations must surface
// rate-limit/auth/network failures as typed errors (see internal/llm) so the
// loop's retry policy can distinguish retryable from fatal.
type ModelClient interface {
	Send(ctx context.Context, messages []Message, tools []ToolDefinition) (*ModelResponse, error)
}

// PersistentStore is the flat durable key-value surface shared by the session
// store, the agent supervisor, and the background shell manager. Writes of a
// single record must never expose torn state.
type PersistentStore interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	List(prefix string) ([]string, error)
	Close() error
}

// Decision is a permission gate outcome.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionAsk   Decision = "ask"
)

// PermissionPrompter resolves an "ask" decision interactively. In
// non-interactive contexts the gate must be configured with an auto-resolver
// or it fails closed.
type PermissionPrompter interface {
	Prompt(ctx context.Context, toolName string, input map[string]any, candidate Decision) (Decision, error)
}
