package context

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tandem/internal/types"
)

func TestWindowSizeForModel(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"claude-3-5-sonnet-20241022", 200000},
		{"claude-sonnet-4-20250514", 200000},
		{"claude-2", 100000},
		{"claude-2.1", 200000},
		{"totally-unknown-model", DefaultWindowSize},
		{"", DefaultWindowSize},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, WindowSizeForModel(tt.model))
		})
	}
}

func TestManagerUsageAccounting(t *testing.T) {
	m := NewManager("claude-2", 0.1) // 100k window

	m.RecordUsage(types.Usage{InputTokens: 40000, OutputTokens: 10000})
	assert.InDelta(t, 0.5, m.UsagePercentage(), 0.001)
	assert.False(t, m.IsNearLimit(0.8))

	m.RecordUsage(types.Usage{InputTokens: 75000, OutputTokens: 5000})
	assert.True(t, m.IsNearLimit(0.8))
}

func TestManagerRepeatedCallsDoNotCompound(t *testing.T) {
	m := NewManager("claude-2", 0) // 100k window

	// Each call re-sends the whole context; a steady 15k footprint over
	// many turns is 15% pressure, not 150%.
	for i := 0; i < 10; i++ {
		m.RecordUsage(types.Usage{InputTokens: 15000})
	}
	assert.InDelta(t, 0.15, m.UsagePercentage(), 0.001)
	assert.False(t, m.IsNearLimit(0.8))

	st := m.State()
	assert.Equal(t, 150000, st.TotalInputTokens)
	assert.Equal(t, 15000, st.LastInputTokens)
}

func TestManagerCacheReadsDiscounted(t *testing.T) {
	m := NewManager("claude-2", 0.1)

	// 50k cache reads count as 5k of pressure at weight 0.1.
	m.RecordUsage(types.Usage{InputTokens: 10000, CacheReadTokens: 50000})
	assert.InDelta(t, 0.15, m.UsagePercentage(), 0.001)
}

func TestManagerEvictionCredits(t *testing.T) {
	m := NewManager("claude-2", 0)
	m.RecordUsage(types.Usage{InputTokens: 90000})
	assert.True(t, m.IsNearLimit(0.8))

	m.RecordEviction(50000)
	assert.InDelta(t, 0.4, m.UsagePercentage(), 0.001)
	assert.False(t, m.IsNearLimit(0.8))

	// The next call measures the compacted history directly and replaces
	// the estimated credit.
	m.RecordUsage(types.Usage{InputTokens: 38000})
	assert.InDelta(t, 0.38, m.UsagePercentage(), 0.001)
	assert.Zero(t, m.State().EvictedTokens)
}

func TestTokenCounterBasics(t *testing.T) {
	tc := NewTokenCounter()

	assert.Zero(t, tc.CountString(""))
	assert.Greater(t, tc.CountString("hello world, this is a sentence"), 0)

	msg := types.NewTextMessage(types.RoleUser, "count me")
	assert.Greater(t, tc.CountMessage(msg), 0)

	short := tc.CountMessage(types.NewTextMessage(types.RoleUser, "hi"))
	long := tc.CountMessage(types.NewTextMessage(types.RoleUser,
		"a very much longer message that should clearly cost more tokens than the short one"))
	assert.Greater(t, long, short)
}
