package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tandem/internal/logging"
	"tandem/internal/store"
	"tandem/internal/types"
)

const keyPrefix = "agent/"

// Runner executes one agent's work. Implemented by the loop layer so this
// package stays free of a dependency on the tool catalogue.
type Runner interface {
	Run(ctx context.Context, task *Task) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, task *Task) (string, error)

func (f RunnerFunc) Run(ctx context.Context, task *Task) (string, error) {
	return f(ctx, task)
}

// SpawnOptions configure one Spawn call.
type SpawnOptions struct {
	Description      string
	Prompt           string
	Type             string
	Model            string
	WorkingDirectory string

	// Background detaches execution: Spawn returns the agent id
	// immediately and the caller polls TaskOutput.
	Background bool

	// ResumeID loads an existing paused or failed agent instead of
	// creating one.
	ResumeID string

	// Timeout bounds the run; zero uses the supervisor default.
	Timeout time.Duration
}

// execution is the live half of a running agent.
type execution struct {
	mu             sync.Mutex
	state          *State
	kind           Kind
	cancel         context.CancelFunc
	done           chan struct{}
	pauseRequested bool
}

func (ex *execution) snapshot() State {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return cloneState(ex.state)
}

// Supervisor owns agent lifecycle and persistence. One instance per loop.
type Supervisor struct {
	mu    sync.RWMutex
	st    types.PersistentStore
	kinds map[string]Kind
	live  map[string]*execution

	runner         Runner
	maxActive      int
	defaultTimeout time.Duration
}

// NewSupervisor builds a supervisor over the fixed kind registry. maxActive
// bounds concurrently live agents; defaultTimeout bounds each run.
func NewSupervisor(st types.PersistentStore, runner Runner, kinds []Kind, maxActive int, defaultTimeout time.Duration) *Supervisor {
	byName := make(map[string]Kind, len(kinds))
	for _, k := range kinds {
		byName[k.Name] = k
	}
	if maxActive <= 0 {
		maxActive = 10
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Minute
	}
	return &Supervisor{
		st:             st,
		kinds:          byName,
		live:           make(map[string]*execution),
		runner:         runner,
		maxActive:      maxActive,
		defaultTimeout: defaultTimeout,
	}
}

// Kinds returns the registered agent types.
func (s *Supervisor) Kinds() []Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Kind, 0, len(s.kinds))
	for _, k := range s.kinds {
		out = append(out, k)
	}
	return out
}

// Spawn starts a new agent, or resumes an existing one when ResumeID is set.
// Inline mode blocks until the agent reaches a terminal state and returns its
// final output; background mode returns the id immediately.
func (s *Supervisor) Spawn(ctx context.Context, opts SpawnOptions) (string, string, error) {
	ex, err := s.prepare(opts)
	if err != nil {
		return "", "", err
	}
	id := ex.snapshot().ID

	if opts.Background {
		go s.execute(context.Background(), ex, opts.Timeout)
		return id, "", nil
	}

	s.execute(ctx, ex, opts.Timeout)
	final := ex.snapshot()
	if final.Status == StatusFailed {
		return id, final.Output, fmt.Errorf("agent %s failed: %s", id, lastMessage(final))
	}
	return id, final.Output, nil
}

// prepare builds the live execution, either fresh or from persisted state,
// and records the started/resumed event.
func (s *Supervisor) prepare(opts SpawnOptions) (*execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.live) >= s.maxActive {
		return nil, fmt.Errorf("%w: %d active (limit %d)", ErrTooManyAgents, len(s.live), s.maxActive)
	}

	if opts.ResumeID != "" {
		return s.prepareResume(opts)
	}

	kind, ok := s.kinds[opts.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgentType, opts.Type)
	}

	now := time.Now().UTC()
	st := &State{
		ID:               "agent-" + uuid.NewString()[:8],
		Type:             kind.Name,
		Description:      opts.Description,
		Prompt:           opts.Prompt,
		Model:            opts.Model,
		Status:           StatusRunning,
		WorkingDirectory: opts.WorkingDirectory,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ex := &execution{state: st, kind: kind, done: make(chan struct{})}
	if err := s.appendEvent(ex, EventStarted, opts.Description, nil); err != nil {
		return nil, err
	}

	s.live[st.ID] = ex
	logging.Agent("spawned %s agent %s: %s", kind.Name, st.ID, opts.Description)
	return ex, nil
}

func (s *Supervisor) prepareResume(opts SpawnOptions) (*execution, error) {
	if _, isLive := s.live[opts.ResumeID]; isLive {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, opts.ResumeID)
	}

	st, err := s.loadState(opts.ResumeID)
	if err != nil {
		return nil, err
	}
	if st.Status == StatusCompleted {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCompleted, opts.ResumeID)
	}

	kind, ok := s.kinds[st.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q (persisted agent %s)", ErrUnknownAgentType, st.Type, st.ID)
	}

	st.Status = StatusRunning
	ex := &execution{state: st, kind: kind, done: make(chan struct{})}
	if err := s.appendEvent(ex, EventResumed,
		fmt.Sprintf("resumed at step %d/%d", st.CurrentStep, st.TotalSteps), nil); err != nil {
		return nil, err
	}

	s.live[st.ID] = ex
	logging.Agent("resumed agent %s at step %d", st.ID, st.CurrentStep)
	return ex, nil
}

// execute drives the runner and records the terminal transition.
func (s *Supervisor) execute(ctx context.Context, ex *execution, timeout time.Duration) {
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	ex.mu.Lock()
	ex.cancel = cancel
	id := ex.state.ID
	ex.mu.Unlock()
	defer cancel()

	task := &Task{sup: s, ex: ex}
	output, err := s.runner.Run(runCtx, task)

	ex.mu.Lock()
	paused := ex.pauseRequested
	ex.mu.Unlock()

	switch {
	case paused && errors.Is(err, context.Canceled):
		s.transition(ex, StatusPaused, EventPaused, "paused by request")
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		s.transition(ex, StatusFailed, EventFailed, fmt.Sprintf("timed out after %v", timeout))
	case err != nil:
		s.transition(ex, StatusFailed, EventFailed, err.Error())
	default:
		ex.mu.Lock()
		ex.state.Output = output
		ex.mu.Unlock()
		s.transition(ex, StatusCompleted, EventCompleted, "done")
	}

	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
	close(ex.done)
}

func (s *Supervisor) transition(ex *execution, status Status, event EventType, msg string) {
	ex.mu.Lock()
	ex.state.Status = status
	ex.mu.Unlock()
	if err := s.appendEvent(ex, event, msg, nil); err != nil {
		logging.Get(logging.CategoryAgent).Error("failed to persist agent transition: %v", err)
	}
	logging.Agent("agent %s -> %s (%s)", ex.snapshot().ID, status, msg)
}

// appendEvent records a history entry and flushes the state synchronously.
// Durability over throughput: state must survive a process kill right after
// the event.
func (s *Supervisor) appendEvent(ex *execution, event EventType, msg string, data map[string]any) error {
	ex.mu.Lock()
	ex.state.History = append(ex.state.History, HistoryEntry{
		Timestamp: time.Now().UTC(),
		EventType: event,
		Message:   msg,
		Data:      data,
	})
	ex.state.UpdatedAt = time.Now().UTC()
	snap := cloneState(ex.state)
	ex.mu.Unlock()

	if err := store.PutJSON(s.st, keyPrefix+snap.ID, snap); err != nil {
		return fmt.Errorf("failed to persist agent %s: %w", snap.ID, err)
	}
	return nil
}

// Pause interrupts a live agent; it transitions to paused and can be resumed
// later. Pausing an agent that is not live is an error.
func (s *Supervisor) Pause(id string) error {
	s.mu.RLock()
	ex, isLive := s.live[id]
	s.mu.RUnlock()

	if !isLive {
		return fmt.Errorf("%w: %s is not running", ErrAgentNotFound, id)
	}

	ex.mu.Lock()
	ex.pauseRequested = true
	cancel := ex.cancel
	ex.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-ex.done

	// The runner may have finished before the cancel landed; report that
	// instead of pretending the pause took effect.
	if ex.snapshot().Status == StatusCompleted {
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, id)
	}
	return nil
}

// PauseAll interrupts every live agent, used on host shutdown.
func (s *Supervisor) PauseAll() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		_ = s.Pause(id)
	}
}

// TaskOutput returns the agent's current status and accumulated results.
// With block set it waits up to timeout for a terminal state first, then
// returns the latest snapshot either way.
func (s *Supervisor) TaskOutput(ctx context.Context, id string, block bool, timeout time.Duration) (State, error) {
	s.mu.RLock()
	ex, isLive := s.live[id]
	s.mu.RUnlock()

	if !isLive {
		st, err := s.loadState(id)
		if err != nil {
			return State{}, err
		}
		return *st, nil
	}

	if block {
		waitCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		select {
		case <-ex.done:
		case <-waitCtx.Done():
		}
	}
	return ex.snapshot(), nil
}

// List enumerates persisted agents. Completed agents are excluded unless
// filter names them explicitly; an empty filter means "everything active".
func (s *Supervisor) List(filter Status) ([]State, error) {
	keys, err := s.st.List(keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	var out []State
	for _, key := range keys {
		st, err := s.loadState(strings.TrimPrefix(key, keyPrefix))
		if err != nil {
			logging.Get(logging.CategoryAgent).Warn("skipping unreadable agent %s: %v", key, err)
			continue
		}
		if filter == "" {
			if st.Status == StatusCompleted {
				continue
			}
		} else if st.Status != filter {
			continue
		}
		out = append(out, *st)
	}
	return out, nil
}

// loadState reads persisted state, normalizing agents left "running" by a
// dead process to paused so they become resumable.
func (s *Supervisor) loadState(id string) (*State, error) {
	var st State
	if err := store.GetJSON(s.st, keyPrefix+id, &st); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
		}
		return nil, fmt.Errorf("failed to load agent %s: %w", id, err)
	}

	s.mu.RLock()
	_, isLive := s.live[id]
	s.mu.RUnlock()

	if st.Status == StatusRunning && !isLive {
		st.Status = StatusPaused
		st.History = append(st.History, HistoryEntry{
			Timestamp: time.Now().UTC(),
			EventType: EventInterrupted,
			Message:   "host process terminated mid-run",
		})
		st.UpdatedAt = time.Now().UTC()
		if err := store.PutJSON(s.st, keyPrefix+id, &st); err != nil {
			return nil, fmt.Errorf("failed to normalize agent %s: %w", id, err)
		}
	}
	return &st, nil
}

func lastMessage(st State) string {
	if len(st.History) == 0 {
		return "unknown error"
	}
	return st.History[len(st.History)-1].Message
}

func cloneState(st *State) State {
	out := *st
	out.History = append([]HistoryEntry(nil), st.History...)
	out.IntermediateResults = append([]any(nil), st.IntermediateResults...)
	return out
}

// Task is the handle the runner uses to report progress and consult the
// agent's capability set.
type Task struct {
	sup *Supervisor
	ex  *execution
}

// State returns a copy of the current agent state.
func (t *Task) State() State { return t.ex.snapshot() }

// ID returns the agent id.
func (t *Task) ID() string { return t.ex.snapshot().ID }

// Progress records a step update; persisted synchronously like every other
// state-affecting event.
func (t *Task) Progress(step, total int, msg string) {
	t.ex.mu.Lock()
	t.ex.state.CurrentStep = step
	t.ex.state.TotalSteps = total
	t.ex.mu.Unlock()

	if err := t.sup.appendEvent(t.ex, EventProgress, msg, map[string]any{
		"step":  step,
		"total": total,
	}); err != nil {
		logging.Get(logging.CategoryAgent).Error("failed to persist progress: %v", err)
	}
}

// AddResult appends an intermediate result.
func (t *Task) AddResult(v any) {
	t.ex.mu.Lock()
	t.ex.state.IntermediateResults = append(t.ex.state.IntermediateResults, v)
	t.ex.mu.Unlock()

	if err := t.sup.appendEvent(t.ex, EventProgress, "intermediate result", nil); err != nil {
		logging.Get(logging.CategoryAgent).Error("failed to persist result: %v", err)
	}
}

// CheckTool rejects tool calls outside the agent type's allowed set.
func (t *Task) CheckTool(name string) error {
	t.ex.mu.Lock()
	kind := t.ex.kind
	agentType := t.ex.state.Type
	t.ex.mu.Unlock()

	if !kind.Allows(name) {
		return fmt.Errorf("%w: tool %s not allowed for agent type %s",
			types.ErrPermissionDenied, name, agentType)
	}
	return nil
}
