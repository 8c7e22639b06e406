package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tandem/internal/store"
	"tandem/internal/types"
)

func TestRecordAggregatesPerModel(t *testing.T) {
	st := store.NewMemoryStore()
	tr := NewTracker(st)

	tr.Record("claude-sonnet-4-20250514", types.Usage{InputTokens: 100, OutputTokens: 50}, 0.01)
	tr.Record("claude-sonnet-4-20250514", types.Usage{InputTokens: 200, OutputTokens: 80}, 0.02)
	tr.Record("claude-opus-4-20250514", types.Usage{InputTokens: 10, OutputTokens: 5}, 0.05)

	ledger := tr.Totals()
	assert.Equal(t, 3, ledger.Calls)
	assert.Equal(t, 445, ledger.Tokens.Total())
	assert.InDelta(t, 0.08, ledger.Cost, 1e-9)

	sonnet := ledger.PerModel["claude-sonnet-4-20250514"]
	assert.Equal(t, 2, sonnet.Calls)
	assert.Equal(t, 430, sonnet.Tokens.Total())
}

func TestLedgerSurvivesRestart(t *testing.T) {
	st := store.NewMemoryStore()

	tr := NewTracker(st)
	tr.Record("claude-sonnet-4-20250514", types.Usage{InputTokens: 100, OutputTokens: 50}, 0.01)

	reloaded := NewTracker(st)
	ledger := reloaded.Totals()
	assert.Equal(t, 1, ledger.Calls)
	assert.InDelta(t, 0.01, ledger.Cost, 1e-9)
	assert.Equal(t, 1, ledger.PerModel["claude-sonnet-4-20250514"].Calls)
}

func TestTotalsReturnsCopy(t *testing.T) {
	tr := NewTracker(store.NewMemoryStore())
	tr.Record("m", types.Usage{InputTokens: 1}, 0)

	ledger := tr.Totals()
	ledger.PerModel["m"] = Totals{Calls: 99}

	assert.Equal(t, 1, tr.Totals().PerModel["m"].Calls)
}
