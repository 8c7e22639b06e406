package llm

import (
	"context"
	"sync"

	"tandem/internal/types"
)

// ScriptedClient is a fake model client that replays a fixed sequence of
// responses. Used throughout the loop and supervisor tests; kept in the
// production package so integration harnesses can script conversations too.
type ScriptedClient struct {
	mu       sync.Mutex
	script   []ScriptStep
	pos      int
	Received [][]types.Message // messages of each Send call, in order
}

// ScriptStep is one scripted Send outcome.
type ScriptStep struct {
	Response *types.ModelResponse
	Err      error
}

// NewScriptedClient builds a client that returns the given steps in order.
func NewScriptedClient(steps ...ScriptStep) *ScriptedClient {
	return &ScriptedClient{script: steps}
}

var _ types.ModelClient = (*ScriptedClient)(nil)

// Send replays the next scripted step. Running past the script returns an
// invalid-request error so a runaway loop fails loudly instead of hanging.
func (c *ScriptedClient) Send(_ context.Context, msgs []types.Message, _ []types.ToolDefinition) (*types.ModelResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make([]types.Message, len(msgs))
	copy(snapshot, msgs)
	c.Received = append(c.Received, snapshot)

	if c.pos >= len(c.script) {
		return nil, &APIError{Kind: ErrInvalidRequest, Message: "scripted client exhausted"}
	}
	step := c.script[c.pos]
	c.pos++
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Calls returns how many Send calls the client has served.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Received)
}

// TextResponse builds a terminal assistant response with the given text.
func TextResponse(text string, usage types.Usage) *types.ModelResponse {
	return &types.ModelResponse{
		Content:    []types.ContentBlock{types.TextBlock(text)},
		Usage:      usage,
		StopReason: "end_turn",
	}
}

// ToolCallResponse builds a response requesting the given tool invocations.
func ToolCallResponse(usage types.Usage, uses ...types.ContentBlock) *types.ModelResponse {
	return &types.ModelResponse{
		Content:    uses,
		Usage:      usage,
		StopReason: "tool_use",
	}
}
