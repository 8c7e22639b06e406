package context

import (
	"strings"
	"sync"

	"tandem/internal/logging"
	"tandem/internal/types"
)

// =============================================================================
// Window Size Resolution
// =============================================================================

// DefaultWindowSize is used for model ids with no known entry.
const DefaultWindowSize = 200000

// windowSizes maps model id prefixes to context window ceilings. Resolution
// picks the longest matching prefix so "claude-3-opus-20240229" resolves via
// "claude-3-opus".
var windowSizes = map[string]int{
	"claude-opus-4":     200000,
	"claude-sonnet-4":   200000,
	"claude-haiku-4":    200000,
	"claude-3-7-sonnet": 200000,
	"claude-3-5-sonnet": 200000,
	"claude-3-5-haiku":  200000,
	"claude-3-opus":     200000,
	"claude-3-haiku":    200000,
	"claude-2.1":        200000,
	"claude-2":          100000,
	"claude-instant":    100000,
}

// WindowSizeForModel resolves the context window ceiling for a model id,
// with fuzzy prefix matching and a default for unknown ids.
func WindowSizeForModel(modelID string) int {
	best, bestLen := DefaultWindowSize, 0
	for prefix, size := range windowSizes {
		if strings.HasPrefix(modelID, prefix) && len(prefix) > bestLen {
			best, bestLen = size, len(prefix)
		}
	}
	return best
}

// =============================================================================
// Window Manager
// =============================================================================

// Manager tracks token usage for one session and decides when compaction is
// needed. Window pressure follows the latest model call's counts rather than
// a running sum, since each call re-sends the full live context. Cache-read
// tokens are discounted: cached context is cheap to keep and should not
// create the same budget pressure as fresh tokens.
type Manager struct {
	mu      sync.RWMutex
	state   types.ContextWindowState
	counter *TokenCounter

	// cacheReadWeight is the fraction at which cache reads count toward
	// budget pressure.
	cacheReadWeight float64
}

// NewManager creates a window manager for the given model.
func NewManager(modelID string, cacheReadWeight float64) *Manager {
	return &Manager{
		state: types.ContextWindowState{
			ContextWindowSize: WindowSizeForModel(modelID),
		},
		counter:         NewTokenCounter(),
		cacheReadWeight: cacheReadWeight,
	}
}

// Counter returns the shared token counter.
func (m *Manager) Counter() *TokenCounter { return m.counter }

// RecordUsage updates the window state after a model call. The call's input
// count measures the entire context that was sent, so the latest snapshot
// replaces the previous one rather than accumulating, and any pending
// compaction credit is superseded by the fresh measurement.
func (m *Manager) RecordUsage(u types.Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.TotalInputTokens += u.InputTokens
	m.state.TotalOutputTokens += u.OutputTokens
	m.state.CacheCreationTokens += u.CacheCreationTokens
	m.state.CacheReadTokens += u.CacheReadTokens

	m.state.LastInputTokens = u.InputTokens
	m.state.LastOutputTokens = u.OutputTokens
	m.state.LastCacheReadTokens = u.CacheReadTokens
	m.state.EvictedTokens = 0

	logging.ContextDebug("Recorded usage: in=%d out=%d cache_create=%d cache_read=%d (live=%d)",
		u.InputTokens, u.OutputTokens, u.CacheCreationTokens, u.CacheReadTokens, m.state.LiveTokens())
}

// RecordEviction credits tokens reclaimed by a compaction pass against the
// latest snapshot. The credit is an estimate; the next model call replaces
// it with a real measurement of the compacted history.
func (m *Manager) RecordEviction(tokens int) {
	if tokens <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.EvictedTokens += tokens
	logging.Context("Compaction reclaimed %d tokens (pending credit: %d)", tokens, m.state.EvictedTokens)
}

// State returns a copy of the current counters.
func (m *Manager) State() types.ContextWindowState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// pressureTokens is the cache-aware count measured against the ceiling.
func (m *Manager) pressureTokens() float64 {
	live := float64(m.state.LiveTokens())
	// Cache reads are tracked separately from input tokens and added at a
	// discount.
	return live + float64(m.state.LastCacheReadTokens)*m.cacheReadWeight
}

// UsagePercentage returns current usage over the window ceiling.
func (m *Manager) UsagePercentage() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state.ContextWindowSize == 0 {
		return 0
	}
	return m.pressureTokens() / float64(m.state.ContextWindowSize)
}

// IsNearLimit reports whether usage exceeds the given threshold (0..1).
func (m *Manager) IsNearLimit(threshold float64) bool {
	return m.UsagePercentage() >= threshold
}

// WindowSize returns the resolved ceiling.
func (m *Manager) WindowSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ContextWindowSize
}
