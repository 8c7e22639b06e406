// Package types provides shared type definitions used across tandem packages.
// This package exists to break import cycles between loop, session, agent, and
// context. Types in this package should be foundational data structures with no
// complex dependencies.
package types

import (
	"strings"
	"time"
)

// =============================================================================
// MESSAGE & CONTENT BLOCK TYPES
// =============================================================================

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleError     Role = "error"
)

// BlockType discriminates the ContentBlock tagged union.
type BlockType string

const (
	// BlockText is plain model or user text.
	BlockText BlockType = "text"

	// BlockToolUse is a tool invocation requested by the model.
	BlockToolUse BlockType = "tool_use"

	// BlockToolResult carries the output (or error) of one tool invocation.
	BlockToolResult BlockType = "tool_result"

	// BlockToolReference is a collapsed placeholder for an earlier large
	// tool result that was evicted during compaction. Path points at the
	// durable copy of the original output.
	BlockToolReference BlockType = "tool_reference"
)

// ContentBlock mirrors the model wire format's content block union.
// Only the fields for the active Type are populated.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result / tool_reference
	ToolUseID string `json:"tool_use_id,omitempty"`
	Output    string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	Path      string `json:"path,omitempty"`

	// Truncated marks a block whose content was cut during compaction.
	Truncated bool `json:"truncated,omitempty"`
}

// TextBlock builds a plain text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool invocation block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a successful tool result block.
func ToolResultBlock(toolUseID, output string) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Output: output}
}

// ToolErrorBlock builds a failed tool result block. The error text is shown to
// the model so it can react; it must never contain credentials.
func ToolErrorBlock(toolUseID, errText string) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Error: errText}
}

// IsError reports whether a tool_result block carries an error.
func (b ContentBlock) IsError() bool {
	return b.Type == BlockToolResult && b.Error != ""
}

// Message is one conversational turn. Messages are immutable once appended to
// a session; compaction rewrites whole histories rather than editing in place.
type Message struct {
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Model     string         `json:"model,omitempty"`
}

// NewTextMessage builds a single-text-block message stamped with now.
func NewTextMessage(role Role, text string) Message {
	return Message{
		Role:      role,
		Content:   []ContentBlock{TextBlock(text)},
		Timestamp: time.Now().UTC(),
	}
}

// Text returns the concatenated text blocks of the message.
func (m Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Content {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the tool_use blocks in emission order.
func (m Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// ToolResults returns the tool_result blocks in order.
func (m Message) ToolResults() []ContentBlock {
	var results []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			results = append(results, b)
		}
	}
	return results
}

// HasToolUse reports whether the message requests any tool invocation.
func (m Message) HasToolUse() bool {
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// =============================================================================
// SESSION METADATA
// =============================================================================

// SessionMetadata carries the identity and lineage of one conversation.
// ParentID/Branches form a forest keyed by opaque ids: lineage is stored as id
// references, never embedded pointers, so cycles cannot be created by
// serialization round-trips.
type SessionMetadata struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Model     string    `json:"model,omitempty"`

	// Cost is the accumulated USD estimate for all model calls.
	Cost float64 `json:"cost,omitempty"`

	// Fork lineage. ForkPoint is the message index in the parent at fork
	// time and must be <= the parent's message count.
	ParentID  string   `json:"parent_id,omitempty"`
	ForkPoint int      `json:"fork_point,omitempty"`
	Branches  []string `json:"branches,omitempty"`

	// MergedFrom lists session ids whose histories were merged in.
	MergedFrom []string `json:"merged_from,omitempty"`

	MessageCount int `json:"message_count"`
}

// HasTag reports whether the metadata carries the given tag.
func (m *SessionMetadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// =============================================================================
// TOKEN USAGE
// =============================================================================

// Usage is the token accounting returned by one model call.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// ContextWindowState is the per-session counter set tracked by the context
// window manager. Recomputed on every model response.
type ContextWindowState struct {
	// Cumulative counters across all calls, kept for reporting only.
	TotalInputTokens    int `json:"total_input_tokens"`
	TotalOutputTokens   int `json:"total_output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`

	// Latest-call snapshot. Every call re-sends the full live context, so
	// the latest input count already measures the whole window footprint.
	LastInputTokens     int `json:"last_input_tokens"`
	LastOutputTokens    int `json:"last_output_tokens"`
	LastCacheReadTokens int `json:"last_cache_read_tokens"`

	// EvictedTokens credits compaction passes run since the last model
	// call; the next call's real counts supersede it.
	EvictedTokens int `json:"evicted_tokens"`

	// ContextWindowSize is the model-dependent ceiling.
	ContextWindowSize int `json:"context_window_size"`
}

// LiveTokens returns the tokens counting against the window: the latest
// call's footprint minus any compaction credit earned since that call.
func (s ContextWindowState) LiveTokens() int {
	live := s.LastInputTokens + s.LastOutputTokens - s.EvictedTokens
	if live < 0 {
		return 0
	}
	return live
}
