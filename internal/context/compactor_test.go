package context

import (
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tandem/internal/types"
)

// buildHistory creates a conversation with alternating user/assistant turns
// plus tool round-trips, sized so compaction has something to chew on.
func buildHistory(turns int, resultSize int) []types.Message {
	msgs := []types.Message{
		types.NewTextMessage(types.RoleSystem, "You are a coding assistant."),
	}
	filler := strings.Repeat("x", resultSize)
	for i := 0; i < turns; i++ {
		msgs = append(msgs, types.NewTextMessage(types.RoleUser, "please inspect the repo layout once more"))
		id := "tu_" + strings.Repeat("a", 3) + string(rune('a'+i%26)) + string(rune('0'+i%10))
		msgs = append(msgs, types.Message{
			Role: types.RoleAssistant,
			Content: []types.ContentBlock{
				types.TextBlock("looking around"),
				types.ToolUseBlock(id, "bash", map[string]any{"command": "ls -R"}),
			},
		})
		msgs = append(msgs, types.Message{
			Role:    types.RoleUser,
			Content: []types.ContentBlock{types.ToolResultBlock(id, filler)},
		})
	}
	return msgs
}

func TestCompactNoopUnderBudget(t *testing.T) {
	c := NewCompactor(DefaultCompactorConfig(), nil)
	msgs := buildHistory(2, 50)

	res, err := c.Compact(msgs, 1<<20)
	require.NoError(t, err)
	assert.Zero(t, res.EvictedTokens)
	if diff := cmp.Diff(msgs, res.Messages); diff != "" {
		t.Errorf("no-op compaction modified messages (-want +got):\n%s", diff)
	}
}

func TestCompactIsIdempotent(t *testing.T) {
	cfg := DefaultCompactorConfig()
	cfg.SpillDir = t.TempDir()
	cfg.LargeResultBytes = 100
	c := NewCompactor(cfg, nil)
	msgs := buildHistory(20, 2000)

	counter := NewTokenCounter()
	budget := counter.CountMessages(msgs) / 2

	first, err := c.Compact(msgs, budget)
	require.NoError(t, err)
	require.LessOrEqual(t, counter.CountMessages(first.Messages), budget)

	second, err := c.Compact(first.Messages, budget)
	require.NoError(t, err)
	assert.Zero(t, second.EvictedTokens)
	if diff := cmp.Diff(first.Messages, second.Messages); diff != "" {
		t.Errorf("second compaction was not a no-op (-first +second):\n%s", diff)
	}
}

func TestCompactPreservesHeadAndTail(t *testing.T) {
	cfg := DefaultCompactorConfig()
	cfg.SpillDir = t.TempDir()
	cfg.LargeResultBytes = 100
	c := NewCompactor(cfg, nil)
	msgs := buildHistory(20, 2000)

	counter := NewTokenCounter()
	budget := counter.CountMessages(msgs) / 2

	res, err := c.Compact(msgs, budget)
	require.NoError(t, err)

	// First PreserveHead messages byte-identical.
	for i := 0; i < cfg.PreserveHead; i++ {
		if diff := cmp.Diff(msgs[i], res.Messages[i]); diff != "" {
			t.Errorf("head message %d modified:\n%s", i, diff)
		}
	}
	// Last PreserveTail messages byte-identical.
	for i := 0; i < cfg.PreserveTail; i++ {
		want := msgs[len(msgs)-1-i]
		got := res.Messages[len(res.Messages)-1-i]
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("tail message %d from end modified:\n%s", i, diff)
		}
	}
}

func TestCollapseWritesSpillFile(t *testing.T) {
	cfg := DefaultCompactorConfig()
	cfg.SpillDir = t.TempDir()
	cfg.LargeResultBytes = 100
	c := NewCompactor(cfg, nil)
	msgs := buildHistory(20, 4000)

	counter := NewTokenCounter()
	res, err := c.Compact(msgs, counter.CountMessages(msgs)*3/4)
	require.NoError(t, err)
	require.Greater(t, res.CollapsedResults, 0)

	// Every tool_reference must point at a durable file holding the
	// original output.
	found := false
	for _, m := range res.Messages {
		for _, b := range m.Content {
			if b.Type != types.BlockToolReference {
				continue
			}
			found = true
			data, err := os.ReadFile(b.Path)
			require.NoError(t, err, "spill file missing for %s", b.ToolUseID)
			assert.Equal(t, strings.Repeat("x", 4000), string(data))
		}
	}
	assert.True(t, found, "expected at least one tool_reference block")
}

func TestDropKeepsToolPairsTogether(t *testing.T) {
	cfg := DefaultCompactorConfig()
	cfg.SpillDir = t.TempDir()
	cfg.LargeResultBytes = 1 << 20 // disable collapse so pass B must drop
	c := NewCompactor(cfg, nil)
	msgs := buildHistory(30, 500)

	counter := NewTokenCounter()
	res, err := c.Compact(msgs, counter.CountMessages(msgs)/3)
	require.NoError(t, err)
	require.Greater(t, res.DroppedMessages, 0)

	// No dangling correlation ids: every tool_use has exactly one result.
	uses := make(map[string]int)
	results := make(map[string]int)
	for _, m := range res.Messages {
		for _, b := range m.Content {
			switch b.Type {
			case types.BlockToolUse:
				uses[b.ID]++
			case types.BlockToolResult, types.BlockToolReference:
				results[b.ToolUseID]++
			}
		}
	}
	for id := range uses {
		assert.Equal(t, 1, results[id], "tool_use %s has no matching result", id)
	}
	for id := range results {
		assert.Equal(t, 1, uses[id], "tool_result %s has no matching tool_use", id)
	}
}

func TestOversizedMessageTruncatedNotDropped(t *testing.T) {
	cfg := DefaultCompactorConfig()
	cfg.PreserveHead = 1
	cfg.PreserveTail = 1
	c := NewCompactor(cfg, nil)

	huge := types.NewTextMessage(types.RoleUser, strings.Repeat("word ", 20000))
	msgs := []types.Message{
		types.NewTextMessage(types.RoleSystem, "sys"),
		huge,
		types.NewTextMessage(types.RoleUser, "done"),
	}

	counter := NewTokenCounter()
	res, err := c.Compact(msgs, counter.CountMessage(huge)/10)
	require.NoError(t, err)

	// Same message count: nothing dropped.
	require.Len(t, res.Messages, 3)
	mid := res.Messages[1]
	require.Len(t, mid.Content, 1)
	assert.True(t, mid.Content[0].Truncated, "oversized message not flagged truncated")
	assert.Contains(t, mid.Content[0].Text, TruncationMarker)
}

func TestOversizedTruncationSparesProtectedTail(t *testing.T) {
	cfg := DefaultCompactorConfig()
	cfg.PreserveHead = 1
	cfg.PreserveTail = 1
	c := NewCompactor(cfg, nil)

	// The middle message is critical (error role) so only the oversized
	// exception can shrink it; the tail alone is over half the budget.
	tailText := strings.Repeat("the final answer must stay intact ", 160)
	msgs := []types.Message{
		types.NewTextMessage(types.RoleSystem, "sys"),
		types.NewTextMessage(types.RoleError, strings.Repeat("failure while scanning the repository tree ", 3000)),
		types.NewTextMessage(types.RoleUser, tailText),
	}

	counter := NewTokenCounter()
	budget := counter.CountMessage(msgs[2])*2 - 10

	res, err := c.Compact(msgs, budget)
	require.NoError(t, err)
	require.Len(t, res.Messages, 3)

	// Truncating the unprotected message suffices, so the tail stays
	// verbatim.
	assert.True(t, res.Messages[1].Content[0].Truncated)
	assert.Equal(t, tailText, res.Messages[2].Text())
	assert.False(t, res.Messages[2].Content[0].Truncated)
}

func TestCompactResourceExhausted(t *testing.T) {
	cfg := DefaultCompactorConfig()
	c := NewCompactor(cfg, nil)

	// Head+tail alone exceed a microscopic budget; the pipeline cannot win.
	msgs := buildHistory(20, 500)
	_, err := c.Compact(msgs, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrResourceExhausted)
}
