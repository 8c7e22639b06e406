package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"tandem/internal/logging"
	"tandem/internal/types"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 8192
)

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	SystemPrompt string
	Timeout      time.Duration
}

// DefaultAnthropicConfig returns sensible defaults for the given key and model.
func DefaultAnthropicConfig(apiKey, model string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:    apiKey,
		BaseURL:   defaultBaseURL,
		Model:     model,
		MaxTokens: defaultMaxTokens,
		Timeout:   120 * time.Second,
	}
}

// AnthropicClient implements types.ModelClient against the Messages API.
// It does one call per Send; retry policy lives in RetryingClient and call
// slotting in ScheduledClient, so this type stays a plain transport.
type AnthropicClient struct {
	cfg        AnthropicConfig
	httpClient *http.Client
}

var _ types.ModelClient = (*AnthropicClient)(nil)

// NewAnthropicClient creates a Messages API client.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key not configured", ErrAuthentication)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &AnthropicClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// wire request/response shapes for the Messages API.

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Model      string           `json:"model"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens         int `json:"input_tokens"`
		OutputTokens        int `json:"output_tokens"`
		CacheCreationTokens int `json:"cache_creation_input_tokens"`
		CacheReadTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send performs one Messages API call.
func (c *AnthropicClient) Send(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (*types.ModelResponse, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	start := time.Now()
	reqBody := anthropicRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    c.cfg.SystemPrompt,
		Messages:  encodeMessages(messages),
	}
	for _, t := range tools {
		reqBody.Tools = append(reqBody.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %v", ErrInvalidRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	logging.APIDebug("sending %d message(s), %d tool(s) to %s", len(messages), len(tools), c.cfg.Model)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := apiErrorMessage(body)
		logging.Get(logging.CategoryAPI).Warn("API status %d: %s", resp.StatusCode, msg)
		return nil, ClassifyStatus(resp.StatusCode, msg)
	}

	var wire anthropicResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrNetwork, err)
	}
	if wire.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, wire.Error.Message)
	}
	if len(wire.Content) == 0 {
		return nil, fmt.Errorf("%w: empty response content", ErrInvalidRequest)
	}

	out := &types.ModelResponse{
		Model:      wire.Model,
		StopReason: wire.StopReason,
		Usage: types.Usage{
			InputTokens:         wire.Usage.InputTokens,
			OutputTokens:        wire.Usage.OutputTokens,
			CacheCreationTokens: wire.Usage.CacheCreationTokens,
			CacheReadTokens:     wire.Usage.CacheReadTokens,
		},
	}
	for _, b := range wire.Content {
		switch b.Type {
		case "text":
			out.Content = append(out.Content, types.TextBlock(b.Text))
		case "tool_use":
			out.Content = append(out.Content, types.ToolUseBlock(b.ID, b.Name, b.Input))
		}
	}

	logging.API("model call completed in %v (in=%d out=%d stop=%s)",
		time.Since(start).Round(time.Millisecond), out.Usage.InputTokens, out.Usage.OutputTokens, out.StopReason)
	return out, nil
}

// encodeMessages maps internal messages onto the wire format. System-role
// messages become user text (the system prompt proper rides in the request
// envelope), and tool_reference placeholders from compaction are presented as
// short tool results pointing at the durable copy.
func encodeMessages(messages []types.Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == types.RoleAssistant {
			role = "assistant"
		}

		var blocks []anthropicBlock
		for _, b := range m.Content {
			switch b.Type {
			case types.BlockText:
				blocks = append(blocks, anthropicBlock{Type: "text", Text: b.Text})
			case types.BlockToolUse:
				blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: b.ID, Name: b.Name, Input: b.Input})
			case types.BlockToolResult:
				wb := anthropicBlock{Type: "tool_result", ToolUseID: b.ToolUseID, Content: b.Output}
				if b.Error != "" {
					wb.Content = b.Error
					wb.IsError = true
				}
				blocks = append(blocks, wb)
			case types.BlockToolReference:
				blocks = append(blocks, anthropicBlock{
					Type:      "tool_result",
					ToolUseID: b.ToolUseID,
					Content:   fmt.Sprintf("[output compacted; full copy at %s]", b.Path),
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		out = append(out, anthropicMessage{Role: role, Content: blocks})
	}
	return out
}

// apiErrorMessage extracts the error message from an error envelope, falling
// back to the raw body.
func apiErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}
