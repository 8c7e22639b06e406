package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tandem/internal/types"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *AnthropicClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultAnthropicConfig("test-key", "claude-sonnet-4-20250514")
	cfg.BaseURL = srv.URL
	client, err := NewAnthropicClient(cfg)
	require.NoError(t, err)
	return srv, client
}

func TestAnthropicSendDecodesToolUse(t *testing.T) {
	var gotReq anthropicRequest
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		resp := map[string]any{
			"model":       "claude-sonnet-4-20250514",
			"stop_reason": "tool_use",
			"content": []map[string]any{
				{"type": "text", "text": "running it now"},
				{"type": "tool_use", "id": "tu_1", "name": "bash", "input": map[string]any{"command": "ls"}},
			},
			"usage": map[string]any{
				"input_tokens":  100,
				"output_tokens": 25,
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	msgs := []types.Message{types.NewTextMessage(types.RoleUser, "list files")}
	defs := []types.ToolDefinition{{Name: "bash", Description: "runs commands", InputSchema: map[string]any{"type": "object"}}}

	resp, err := client.Send(context.Background(), msgs, defs)
	require.NoError(t, err)

	require.Len(t, resp.Content, 2)
	assert.Equal(t, types.BlockText, resp.Content[0].Type)
	assert.Equal(t, types.BlockToolUse, resp.Content[1].Type)
	assert.Equal(t, "bash", resp.Content[1].Name)
	assert.Equal(t, "ls", resp.Content[1].Input["command"])
	assert.Equal(t, 125, resp.Usage.Total())

	// Tool catalogue was forwarded on the wire.
	require.Len(t, gotReq.Tools, 1)
	assert.Equal(t, "bash", gotReq.Tools[0].Name)
}

func TestAnthropicSendEncodesToolResults(t *testing.T) {
	var gotReq anthropicRequest
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": "ok"}},
			"usage":   map[string]any{"input_tokens": 1, "output_tokens": 1},
		})
	})

	msgs := []types.Message{
		types.NewTextMessage(types.RoleUser, "go"),
		{
			Role:    types.RoleAssistant,
			Content: []types.ContentBlock{types.ToolUseBlock("tu_1", "bash", map[string]any{"command": "ls"})},
		},
		{
			Role: types.RoleUser,
			Content: []types.ContentBlock{
				types.ToolErrorBlock("tu_1", "command not found"),
				{Type: types.BlockToolReference, ToolUseID: "tu_0", Path: "/tmp/spill/tu_0.txt"},
			},
		},
	}
	_, err := client.Send(context.Background(), msgs, nil)
	require.NoError(t, err)

	require.Len(t, gotReq.Messages, 3)
	last := gotReq.Messages[2]
	require.Len(t, last.Content, 2)
	assert.True(t, last.Content[0].IsError)
	assert.Equal(t, "command not found", last.Content[0].Content)
	assert.Contains(t, last.Content[1].Content, "/tmp/spill/tu_0.txt")
}

func TestAnthropicSendClassifiesStatus(t *testing.T) {
	status := http.StatusTooManyRequests
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
		})
	})

	_, err := client.Send(context.Background(), []types.Message{types.NewTextMessage(types.RoleUser, "hi")}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Contains(t, err.Error(), "slow down")

	status = http.StatusUnauthorized
	_, err = client.Send(context.Background(), []types.Message{types.NewTextMessage(types.RoleUser, "hi")}, nil)
	assert.True(t, errors.Is(err, ErrAuthentication))
	assert.False(t, Retryable(err))
}

func TestAnthropicRequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicClient(AnthropicConfig{Model: "claude-sonnet-4-20250514"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthentication))
}
