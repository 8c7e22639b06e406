package llm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"tandem/internal/logging"
	"tandem/internal/types"
)

// Scheduler bounds concurrent model calls to the provider's limit. Callers
// acquire a slot per call and release it immediately after, so many loops and
// sub-agents can interleave without exceeding the ceiling.
type Scheduler struct {
	sem      *semaphore.Weighted
	maxSlots int

	totalCalls   int64
	totalWaitNs  int64
	activeSlots  int32
	waitingCalls int32
}

// NewScheduler creates a scheduler with the given slot count.
func NewScheduler(maxSlots int) *Scheduler {
	if maxSlots <= 0 {
		maxSlots = 5
	}
	return &Scheduler{
		sem:      semaphore.NewWeighted(int64(maxSlots)),
		maxSlots: maxSlots,
	}
}

// Acquire blocks until a call slot is free or ctx is done.
func (s *Scheduler) Acquire(ctx context.Context) error {
	atomic.AddInt32(&s.waitingCalls, 1)
	start := time.Now()

	err := s.sem.Acquire(ctx, 1)
	atomic.AddInt32(&s.waitingCalls, -1)
	if err != nil {
		return fmt.Errorf("failed to acquire model call slot: %w", err)
	}

	waited := time.Since(start)
	atomic.AddInt64(&s.totalWaitNs, int64(waited))
	atomic.AddInt32(&s.activeSlots, 1)
	if waited > 100*time.Millisecond {
		logging.API("model call slot acquired after %v", waited)
	}
	return nil
}

// Release frees the slot after the call completes.
func (s *Scheduler) Release() {
	s.sem.Release(1)
	atomic.AddInt32(&s.activeSlots, -1)
	atomic.AddInt64(&s.totalCalls, 1)
}

// Metrics is a point-in-time view of scheduler load.
type Metrics struct {
	MaxSlots    int
	ActiveSlots int
	Waiting     int
	TotalCalls  int64
	AvgWait     time.Duration
}

// Stats returns current scheduler metrics.
func (s *Scheduler) Stats() Metrics {
	calls := atomic.LoadInt64(&s.totalCalls)
	m := Metrics{
		MaxSlots:    s.maxSlots,
		ActiveSlots: int(atomic.LoadInt32(&s.activeSlots)),
		Waiting:     int(atomic.LoadInt32(&s.waitingCalls)),
		TotalCalls:  calls,
	}
	if calls > 0 {
		m.AvgWait = time.Duration(atomic.LoadInt64(&s.totalWaitNs) / calls)
	}
	return m
}

func (m Metrics) String() string {
	return fmt.Sprintf("slots=%d/%d, waiting=%d, calls=%d, avg_wait=%v",
		m.ActiveSlots, m.MaxSlots, m.Waiting, m.TotalCalls, m.AvgWait)
}

// ScheduledClient wraps a model client with slot acquisition around every
// call. Implements types.ModelClient so it can be injected transparently.
type ScheduledClient struct {
	Scheduler *Scheduler
	Client    types.ModelClient
}

var _ types.ModelClient = (*ScheduledClient)(nil)

func (c *ScheduledClient) Send(ctx context.Context, msgs []types.Message, tools []types.ToolDefinition) (*types.ModelResponse, error) {
	if err := c.Scheduler.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.Scheduler.Release()
	return c.Client.Send(ctx, msgs, tools)
}
