// Package context manages a session's context-window budget: token
// accounting, window-size resolution, and the compaction pipeline that keeps
// a conversation under its model's ceiling.
package context

import (
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"

	"tandem/internal/types"
)

// =============================================================================
// Token Counting
// =============================================================================
// Counting uses the cl100k BPE vocabulary when available and falls back to a
// character heuristic (~4 chars per token, calibrated for Claude) when the
// codec cannot be constructed or errors on unusual input.

const fallbackCharsPerToken = 4.0

// TokenCounter estimates token footprints for strings, blocks, and messages.
type TokenCounter struct {
	once  sync.Once
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter. Codec construction is deferred to
// first use.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (tc *TokenCounter) init() {
	tc.once.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			tc.codec = codec
		}
	})
}

// CountString estimates tokens in a string.
func (tc *TokenCounter) CountString(s string) int {
	if s == "" {
		return 0
	}
	tc.init()
	if tc.codec != nil {
		if n, err := tc.codec.Count(s); err == nil {
			return n
		}
	}
	return int(float64(utf8.RuneCountInString(s)) / fallbackCharsPerToken)
}

// CountBlock estimates tokens for one content block.
func (tc *TokenCounter) CountBlock(b types.ContentBlock) int {
	// Base overhead for the block envelope (type tag, ids).
	tokens := 4

	switch b.Type {
	case types.BlockText:
		tokens += tc.CountString(b.Text)
	case types.BlockToolUse:
		tokens += tc.CountString(b.Name)
		for k, v := range b.Input {
			tokens += tc.CountString(k)
			if s, ok := v.(string); ok {
				tokens += tc.CountString(s)
			} else {
				tokens += 2
			}
		}
	case types.BlockToolResult:
		tokens += tc.CountString(b.Output)
		tokens += tc.CountString(b.Error)
	case types.BlockToolReference:
		tokens += tc.CountString(b.Path)
	}
	return tokens
}

// CountMessage estimates tokens for a whole message.
func (tc *TokenCounter) CountMessage(m types.Message) int {
	tokens := 6 // role + envelope overhead
	for _, b := range m.Content {
		tokens += tc.CountBlock(b)
	}
	return tokens
}

// CountMessages estimates tokens for a message history.
func (tc *TokenCounter) CountMessages(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += tc.CountMessage(m)
	}
	return total
}
