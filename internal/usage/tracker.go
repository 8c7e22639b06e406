// Package usage keeps a workspace-wide ledger of model consumption: calls,
// tokens, and estimated cost, aggregated per model and persisted across runs.
// Per-session figures live in the session store; this is the cross-session
// view.
package usage

import (
	"errors"
	"sync"
	"time"

	"tandem/internal/logging"
	"tandem/internal/store"
	"tandem/internal/types"
)

// ledgerKey is the durable record location.
const ledgerKey = "usage/ledger"

// Totals aggregates consumption for one model id.
type Totals struct {
	Calls  int         `json:"calls"`
	Tokens types.Usage `json:"tokens"`
	Cost   float64     `json:"cost"`
}

// Ledger is the full persisted record.
type Ledger struct {
	Calls     int               `json:"calls"`
	Tokens    types.Usage       `json:"tokens"`
	Cost      float64           `json:"cost"`
	PerModel  map[string]Totals `json:"per_model"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Tracker records model calls into the ledger. Writes persist synchronously
// so totals survive a crash mid-turn.
type Tracker struct {
	mu     sync.Mutex
	st     types.PersistentStore
	ledger Ledger
}

// NewTracker loads the existing ledger, or starts empty.
func NewTracker(st types.PersistentStore) *Tracker {
	t := &Tracker{st: st, ledger: Ledger{PerModel: make(map[string]Totals)}}

	var persisted Ledger
	err := store.GetJSON(st, ledgerKey, &persisted)
	switch {
	case err == nil:
		if persisted.PerModel == nil {
			persisted.PerModel = make(map[string]Totals)
		}
		t.ledger = persisted
	case !errors.Is(err, store.ErrNotFound):
		logging.Get(logging.CategoryStore).Warn("failed to load usage ledger: %v", err)
	}
	return t
}

// Record adds one model call to the ledger.
func (t *Tracker) Record(model string, u types.Usage, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ledger.Calls++
	t.ledger.Tokens.Add(u)
	t.ledger.Cost += cost
	t.ledger.UpdatedAt = time.Now().UTC()

	m := t.ledger.PerModel[model]
	m.Calls++
	m.Tokens.Add(u)
	m.Cost += cost
	t.ledger.PerModel[model] = m

	if err := store.PutJSON(t.st, ledgerKey, t.ledger); err != nil {
		logging.Get(logging.CategoryStore).Warn("failed to persist usage ledger: %v", err)
	}
}

// Totals returns a copy of the current ledger.
func (t *Tracker) Totals() Ledger {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.ledger
	out.PerModel = make(map[string]Totals, len(t.ledger.PerModel))
	for k, v := range t.ledger.PerModel {
		out.PerModel[k] = v
	}
	return out
}
