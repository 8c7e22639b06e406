package context

import (
	"fmt"
	"os"
	"path/filepath"

	"tandem/internal/logging"
	"tandem/internal/types"
)

// =============================================================================
// Compaction Pipeline
// =============================================================================
// Compaction applies three passes in order:
//
//	A. collapse old large tool results into tool_reference placeholders
//	B. drop whole messages by priority, MINIMAL first
//	C. truncate middle message content, preserving head/tail verbatim
//
// Head and tail messages are never modified except by the oversized-message
// exception, which truncates at the content level rather than dropping.

// Priority is the 5-level message eviction score.
type Priority int

const (
	// PriorityMinimal marks compressible boilerplate, evicted first.
	PriorityMinimal Priority = iota
	// PriorityLow marks old turns.
	PriorityLow
	// PriorityMedium is the default.
	PriorityMedium
	// PriorityHigh marks recent turns and active tool calls.
	PriorityHigh
	// PriorityCritical marks system prompts and errors, never dropped.
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityMinimal:
		return "minimal"
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// TruncationMarker is appended to content cut by pass C or the oversized
// exception.
const TruncationMarker = "\n[content truncated to fit context window]"

// CompactorConfig tunes the compaction pipeline.
type CompactorConfig struct {
	// PreserveHead / PreserveTail are message counts kept verbatim.
	PreserveHead int
	PreserveTail int

	// LargeResultBytes is the collapse threshold for old tool results.
	LargeResultBytes int

	// SpillDir receives the durable copies of collapsed tool results.
	SpillDir string

	// TruncateKeepChars is how much text pass C keeps per block.
	TruncateKeepChars int
}

// DefaultCompactorConfig returns the documented defaults (N=2, M=10).
func DefaultCompactorConfig() CompactorConfig {
	return CompactorConfig{
		PreserveHead:      2,
		PreserveTail:      10,
		LargeResultBytes:  4096,
		TruncateKeepChars: 200,
	}
}

// Result reports what one compaction pass did.
type Result struct {
	Messages          []types.Message
	EvictedTokens     int
	CollapsedResults  int
	DroppedMessages   int
	TruncatedMessages int
}

// Compactor applies the compaction pipeline to a message history.
type Compactor struct {
	cfg     CompactorConfig
	counter *TokenCounter
}

// NewCompactor creates a compactor sharing the given counter.
func NewCompactor(cfg CompactorConfig, counter *TokenCounter) *Compactor {
	if counter == nil {
		counter = NewTokenCounter()
	}
	if cfg.PreserveHead <= 0 {
		cfg.PreserveHead = 2
	}
	if cfg.PreserveTail <= 0 {
		cfg.PreserveTail = 10
	}
	if cfg.TruncateKeepChars <= 0 {
		cfg.TruncateKeepChars = 200
	}
	return &Compactor{cfg: cfg, counter: counter}
}

// Compact reduces msgs until their estimated footprint fits budgetTokens.
// Running it on an already-fitting history is a no-op. Returns
// types.ErrResourceExhausted when even the full pipeline cannot reach the
// budget (head+tail alone exceed it).
func (c *Compactor) Compact(msgs []types.Message, budgetTokens int) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryContext, "Compact")
	defer timer.Stop()

	res := &Result{Messages: msgs}
	before := c.counter.CountMessages(msgs)
	if before <= budgetTokens {
		logging.ContextDebug("Compact: %d tokens within budget %d, no-op", before, budgetTokens)
		return res, nil
	}

	logging.Context("Compacting: %d tokens over budget %d (%d messages)", before, budgetTokens, len(msgs))

	// Work on a copy; the input history is owned by the session store.
	work := make([]types.Message, len(msgs))
	copy(work, msgs)

	work = c.collapseLargeResults(work, res)
	if c.counter.CountMessages(work) > budgetTokens {
		work = c.dropByPriority(work, budgetTokens, res)
	}
	if c.counter.CountMessages(work) > budgetTokens {
		work = c.truncateMiddle(work, res)
	}

	after := c.counter.CountMessages(work)
	if after > budgetTokens {
		work, after = c.truncateOversized(work, budgetTokens, res)
	}

	res.Messages = work
	res.EvictedTokens = before - after
	if res.EvictedTokens < 0 {
		res.EvictedTokens = 0
	}

	if after > budgetTokens {
		logging.Get(logging.CategoryContext).Error(
			"Compaction could not reach budget: %d > %d after full pipeline", after, budgetTokens)
		return res, fmt.Errorf("%w: %d tokens remain after compaction (budget %d)",
			types.ErrResourceExhausted, after, budgetTokens)
	}

	logging.Context("Compacted %d -> %d tokens (collapsed=%d dropped=%d truncated=%d)",
		before, after, res.CollapsedResults, res.DroppedMessages, res.TruncatedMessages)
	return res, nil
}

// protected reports whether the message at idx is in the verbatim head/tail.
func (c *Compactor) protected(idx, total int) bool {
	return idx < c.cfg.PreserveHead || idx >= total-c.cfg.PreserveTail
}

// =============================================================================
// Pass A: reference collapse
// =============================================================================

// collapseLargeResults replaces old large tool_result outputs with
// tool_reference placeholders pointing at a durable spill file.
func (c *Compactor) collapseLargeResults(msgs []types.Message, res *Result) []types.Message {
	for i := range msgs {
		if c.protected(i, len(msgs)) {
			continue
		}
		for j, b := range msgs[i].Content {
			if b.Type != types.BlockToolResult || b.Error != "" {
				continue
			}
			if len(b.Output) <= c.cfg.LargeResultBytes {
				continue
			}

			path, err := c.spill(b.ToolUseID, b.Output)
			if err != nil {
				logging.Get(logging.CategoryContext).Warn(
					"spill failed for %s, keeping inline: %v", b.ToolUseID, err)
				continue
			}

			msgs[i] = cloneMessage(msgs[i])
			msgs[i].Content[j] = types.ContentBlock{
				Type:      types.BlockToolReference,
				ToolUseID: b.ToolUseID,
				Path:      path,
			}
			res.CollapsedResults++
		}
	}
	return msgs
}

// spill writes content to the spill dir with write-new-then-rename semantics.
func (c *Compactor) spill(toolUseID, content string) (string, error) {
	if c.cfg.SpillDir == "" {
		return "", fmt.Errorf("no spill directory configured")
	}
	if err := os.MkdirAll(c.cfg.SpillDir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(c.cfg.SpillDir, toolUseID+".txt")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// =============================================================================
// Pass B: priority eviction
// =============================================================================

// scoreMessage assigns the 5-level priority for eviction ordering.
func (c *Compactor) scoreMessage(msgs []types.Message, idx int) Priority {
	m := msgs[idx]

	if m.Role == types.RoleSystem || m.Role == types.RoleError {
		return PriorityCritical
	}
	for _, b := range m.Content {
		if b.IsError() {
			return PriorityCritical
		}
	}
	if idx >= len(msgs)-c.cfg.PreserveTail {
		return PriorityHigh
	}

	old := idx < len(msgs)/2
	onlyResults := len(m.Content) > 0
	for _, b := range m.Content {
		if b.Type != types.BlockToolResult && b.Type != types.BlockToolReference {
			onlyResults = false
			break
		}
	}
	if old && onlyResults {
		return PriorityMinimal
	}
	if old {
		return PriorityLow
	}
	return PriorityMedium
}

// dropByPriority removes whole messages starting from MINIMAL upward until
// the history fits. Tool-use/tool-result pairs are dropped together so no
// dangling correlation id survives.
func (c *Compactor) dropByPriority(msgs []types.Message, budget int, res *Result) []types.Message {
	drop := make(map[int]bool)
	remaining := func() int {
		total := 0
		for i, m := range msgs {
			if !drop[i] {
				total += c.counter.CountMessage(m)
			}
		}
		return total
	}

	for _, level := range []Priority{PriorityMinimal, PriorityLow, PriorityMedium} {
		for i := range msgs {
			if remaining() <= budget {
				break
			}
			if drop[i] || c.protected(i, len(msgs)) {
				continue
			}
			if c.scoreMessage(msgs, i) != level {
				continue
			}
			// A message larger than the whole budget is handled by the
			// oversized exception: truncated, never dropped.
			if c.counter.CountMessage(msgs[i]) > budget {
				continue
			}

			partners, ok := c.correlatedPartners(msgs, i)
			if !ok {
				continue
			}
			drop[i] = true
			for _, p := range partners {
				drop[p] = true
			}
		}
		if remaining() <= budget {
			break
		}
	}

	if len(drop) == 0 {
		return msgs
	}

	kept := make([]types.Message, 0, len(msgs))
	for i, m := range msgs {
		if drop[i] {
			res.DroppedMessages++
			continue
		}
		kept = append(kept, m)
	}
	logging.ContextDebug("Priority eviction dropped %d messages", res.DroppedMessages)
	return kept
}

// correlatedPartners returns the indices that must be dropped together with
// idx to keep tool_use/tool_result pairing intact. Returns ok=false when a
// partner is protected and the drop must be skipped.
func (c *Compactor) correlatedPartners(msgs []types.Message, idx int) ([]int, bool) {
	ids := make(map[string]bool)
	for _, b := range msgs[idx].Content {
		switch b.Type {
		case types.BlockToolUse:
			ids[b.ID] = true
		case types.BlockToolResult, types.BlockToolReference:
			ids[b.ToolUseID] = true
		}
	}
	if len(ids) == 0 {
		return nil, true
	}

	var partners []int
	for i, m := range msgs {
		if i == idx {
			continue
		}
		for _, b := range m.Content {
			var id string
			switch b.Type {
			case types.BlockToolUse:
				id = b.ID
			case types.BlockToolResult, types.BlockToolReference:
				id = b.ToolUseID
			default:
				continue
			}
			if ids[id] {
				if c.protected(i, len(msgs)) || c.scoreMessage(msgs, i) == PriorityCritical {
					return nil, false
				}
				partners = append(partners, i)
				break
			}
		}
	}
	return partners, true
}

// =============================================================================
// Pass C: middle truncation
// =============================================================================

// truncateMiddle cuts message content between head and tail down to a short
// preview plus an explicit marker.
func (c *Compactor) truncateMiddle(msgs []types.Message, res *Result) []types.Message {
	for i := range msgs {
		if c.protected(i, len(msgs)) {
			continue
		}
		if c.scoreMessage(msgs, i) == PriorityCritical {
			continue
		}
		if truncated := c.truncateMessage(&msgs[i], c.cfg.TruncateKeepChars); truncated {
			res.TruncatedMessages++
		}
	}
	return msgs
}

// truncateMessage cuts every text/output block to keepChars. Reports whether
// anything changed.
func (c *Compactor) truncateMessage(m *types.Message, keepChars int) bool {
	changed := false
	out := cloneMessage(*m)
	for j, b := range out.Content {
		switch b.Type {
		case types.BlockText:
			if len(b.Text) > keepChars {
				b.Text = b.Text[:keepChars] + TruncationMarker
				b.Truncated = true
				out.Content[j] = b
				changed = true
			}
		case types.BlockToolResult:
			if len(b.Output) > keepChars {
				b.Output = b.Output[:keepChars] + TruncationMarker
				b.Truncated = true
				out.Content[j] = b
				changed = true
			}
		}
	}
	if changed {
		*m = out
	}
	return changed
}

// =============================================================================
// Oversized-message exception
// =============================================================================

// truncateOversized handles a single message whose own footprint exceeds the
// remaining budget. The message is truncated at the content level and flagged
// - never dropped - to preserve conversational continuity. The verbatim
// head/tail regions are touched only when truncating everything else still
// leaves the history over budget.
func (c *Compactor) truncateOversized(msgs []types.Message, budget int, res *Result) ([]types.Message, int) {
	c.truncateOversizedPass(msgs, budget, res, false)
	if c.counter.CountMessages(msgs) > budget {
		c.truncateOversizedPass(msgs, budget, res, true)
	}
	return msgs, c.counter.CountMessages(msgs)
}

func (c *Compactor) truncateOversizedPass(msgs []types.Message, budget int, res *Result, includeProtected bool) {
	for i := range msgs {
		if !includeProtected && c.protected(i, len(msgs)) {
			continue
		}
		count := c.counter.CountMessage(msgs[i])
		if count <= budget/2 {
			continue
		}

		rest := c.counter.CountMessages(msgs) - count
		allowed := budget - rest
		if allowed < 64 {
			allowed = 64
		}
		// Tokens to characters, with slack for the marker.
		keepChars := allowed * 3
		if c.truncateMessage(&msgs[i], keepChars) {
			res.TruncatedMessages++
			logging.Context("Oversized message at index %d truncated (%d tokens, budget %d)",
				i, count, budget)
		}
	}
}

// cloneMessage copies a message with its content slice so callers can edit
// blocks without mutating shared history.
func cloneMessage(m types.Message) types.Message {
	content := make([]types.ContentBlock, len(m.Content))
	copy(content, m.Content)
	m.Content = content
	return m
}
