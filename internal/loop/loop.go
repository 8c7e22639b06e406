// Package loop drives one logical turn of the conversation: send history to
// the model, interpret its response, execute requested tools through the
// permission gate, append results, and re-invoke the model until it yields a
// final answer or a turn cap stops it.
package loop

import (
	"context"
	"fmt"
	"time"

	"tandem/internal/agent"
	ctxwindow "tandem/internal/context"
	"tandem/internal/logging"
	"tandem/internal/permission"
	"tandem/internal/session"
	"tandem/internal/shell"
	"tandem/internal/tools"
	"tandem/internal/types"
	"tandem/internal/usage"
)

// Config tunes one loop instance.
type Config struct {
	// MaxTurns caps model round-trips per ProcessMessage call; exceeding
	// it is a fatal turn error.
	MaxTurns int

	// CompactionThreshold is the window-usage fraction that triggers
	// compaction before the next model call.
	CompactionThreshold float64

	// MaxConcurrentTools bounds parallel tool execution within one turn.
	MaxConcurrentTools int

	// AllowedTools restricts the catalogue offered to the model; nil
	// means everything. Sub-agent loops use this for capability cuts.
	AllowedTools []string
}

// DefaultConfig returns loop defaults.
func DefaultConfig() Config {
	return Config{
		MaxTurns:            25,
		CompactionThreshold: 0.80,
		MaxConcurrentTools:  5,
	}
}

// Deps are the collaborators a loop drives. All are explicit instances; the
// loop never reaches for globals.
type Deps struct {
	Client    types.ModelClient
	Registry  *tools.Registry
	Gate      *permission.Gate
	Sessions  *session.Store
	Window    *ctxwindow.Manager
	Compactor *ctxwindow.Compactor
	Shells    *shell.Manager
	Agents    *agent.Supervisor

	// Usage is the optional cross-session consumption ledger.
	Usage *usage.Tracker
}

// Loop orchestrates model calls and tool dispatch for one session.
type Loop struct {
	deps Deps
	cfg  Config
}

// New builds a conversation loop.
func New(deps Deps, cfg Config) *Loop {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 25
	}
	if cfg.CompactionThreshold <= 0 {
		cfg.CompactionThreshold = 0.80
	}
	if cfg.MaxConcurrentTools <= 0 {
		cfg.MaxConcurrentTools = 5
	}
	return &Loop{deps: deps, cfg: cfg}
}

// ProcessMessage runs one logical turn. Events stream on the returned
// channel, which closes when the turn completes, fails, or is cancelled.
func (l *Loop) ProcessMessage(ctx context.Context, sess *session.Session, userInput string) <-chan Event {
	events := make(chan Event, 64)
	go func() {
		defer close(events)
		l.run(ctx, sess, userInput, events)
	}()
	return events
}

func (l *Loop) run(ctx context.Context, sess *session.Session, userInput string, events chan<- Event) {
	timer := logging.StartTimer(logging.CategoryLoop, "process message")
	defer timer.Stop()

	if err := l.deps.Sessions.Append(sess, types.NewTextMessage(types.RoleUser, userInput)); err != nil {
		events <- Event{Type: EventError, Err: err}
		return
	}

	var turnUsage types.Usage
	for turn := 0; ; turn++ {
		if turn >= l.cfg.MaxTurns {
			err := fmt.Errorf("%w: max turns exceeded (%d)", types.ErrFatalLoop, l.cfg.MaxTurns)
			logging.Loop("session %s: %v", sess.Meta.ID, err)
			events <- Event{Type: EventError, Err: err}
			return
		}
		if ctx.Err() != nil {
			l.cancelCleanup(sess)
			events <- Event{Type: EventError, Err: ctx.Err()}
			return
		}

		if err := l.compactIfNeeded(sess); err != nil {
			events <- Event{Type: EventError, Err: err}
			return
		}

		resp, err := l.deps.Client.Send(ctx, sess.Messages, l.deps.Registry.Definitions(l.cfg.AllowedTools))
		if err != nil {
			if ctx.Err() != nil {
				l.cancelCleanup(sess)
			}
			events <- Event{Type: EventError, Err: fmt.Errorf("model call failed: %w", err)}
			return
		}

		l.deps.Window.RecordUsage(resp.Usage)
		turnUsage.Add(resp.Usage)
		model := resp.Model
		if model == "" {
			model = sess.Meta.Model
		}
		cost := estimateCost(model, resp.Usage)
		if cost > 0 {
			if err := l.deps.Sessions.AddCost(sess, cost); err != nil {
				logging.Get(logging.CategoryLoop).Warn("failed to record cost: %v", err)
			}
		}
		if l.deps.Usage != nil {
			l.deps.Usage.Record(model, resp.Usage, cost)
		}

		assistant := types.Message{
			Role:      types.RoleAssistant,
			Content:   resp.Content,
			Timestamp: time.Now().UTC(),
			Model:     model,
		}
		if err := l.deps.Sessions.Append(sess, assistant); err != nil {
			events <- Event{Type: EventError, Err: err}
			return
		}

		for _, b := range resp.Content {
			if b.Type == types.BlockText && b.Text != "" {
				events <- Event{Type: EventTextDelta, Text: b.Text}
			}
		}

		uses := assistant.ToolUses()
		if len(uses) == 0 {
			logging.Loop("session %s: turn complete after %d round-trip(s)", sess.Meta.ID, turn+1)
			events <- Event{Type: EventTurnComplete, Usage: turnUsage}
			return
		}

		results := l.dispatch(ctx, uses, events)
		if ctx.Err() != nil {
			// Results from a cancelled turn are discarded, but the
			// assistant's tool_use blocks are already persisted.
			// Matching error results keep the transcript valid for
			// the next run.
			l.appendCancelledResults(sess, uses)
			l.cancelCleanup(sess)
			events <- Event{Type: EventError, Err: ctx.Err()}
			return
		}

		resultMsg := types.Message{
			Role:      types.RoleUser,
			Content:   results,
			Timestamp: time.Now().UTC(),
		}
		if err := l.deps.Sessions.Append(sess, resultMsg); err != nil {
			events <- Event{Type: EventError, Err: err}
			return
		}
	}
}

// compactIfNeeded rewrites the session history when window pressure crosses
// the threshold, crediting evicted tokens back to the window accounting.
func (l *Loop) compactIfNeeded(sess *session.Session) error {
	if !l.deps.Window.IsNearLimit(l.cfg.CompactionThreshold) {
		return nil
	}

	budget := int(float64(l.deps.Window.WindowSize()) * l.cfg.CompactionThreshold)
	logging.Context("session %s near window limit (%.0f%%), compacting to %d tokens",
		sess.Meta.ID, l.deps.Window.UsagePercentage()*100, budget)

	res, err := l.deps.Compactor.Compact(sess.Messages, budget)
	if err != nil {
		return fmt.Errorf("compaction failed: %w", err)
	}
	if err := l.deps.Sessions.ReplaceHistory(sess, res.Messages); err != nil {
		return err
	}
	l.deps.Window.RecordEviction(res.EvictedTokens)
	logging.Context("compaction evicted %d tokens (%d collapsed, %d dropped, %d truncated)",
		res.EvictedTokens, res.CollapsedResults, res.DroppedMessages, res.TruncatedMessages)
	return nil
}

// appendCancelledResults matches every outstanding tool_use block with an
// error tool_result so the persisted history never ends in a dangling
// tool_use.
func (l *Loop) appendCancelledResults(sess *session.Session, uses []types.ContentBlock) {
	blocks := make([]types.ContentBlock, 0, len(uses))
	for _, u := range uses {
		blocks = append(blocks, types.ToolErrorBlock(u.ID, "cancelled before completion"))
	}
	msg := types.Message{
		Role:      types.RoleUser,
		Content:   blocks,
		Timestamp: time.Now().UTC(),
	}
	if err := l.deps.Sessions.Append(sess, msg); err != nil {
		logging.Get(logging.CategoryLoop).Warn("failed to record cancelled tool results: %v", err)
	}
}

// cancelCleanup best-effort interrupts long-running work owned by this loop:
// background shells are killed, live sub-agents paused for later resume.
func (l *Loop) cancelCleanup(sess *session.Session) {
	logging.Loop("session %s: turn cancelled, interrupting background work", sess.Meta.ID)
	if l.deps.Shells != nil {
		for _, snap := range l.deps.Shells.List() {
			if snap.Status == shell.StatusRunning {
				_ = l.deps.Shells.Kill(snap.ID)
			}
		}
	}
	if l.deps.Agents != nil {
		l.deps.Agents.PauseAll()
	}
}
