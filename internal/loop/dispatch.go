package loop

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tandem/internal/logging"
	"tandem/internal/types"
)

// dispatch executes the turn's tool calls. Calls run concurrently up to the
// configured limit, but the returned result blocks are in dispatch order, so
// the model sees results positionally matched to its tool_use blocks.
func (l *Loop) dispatch(ctx context.Context, uses []types.ContentBlock, events chan<- Event) []types.ContentBlock {
	results := make([]types.ContentBlock, len(uses))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.MaxConcurrentTools)

	for i, use := range uses {
		events <- Event{Type: EventToolStart, ToolUseID: use.ID, ToolName: use.Name}

		i, use := i, use
		g.Go(func() error {
			block := l.executeOne(groupCtx, use)
			results[i] = block
			events <- Event{
				Type:      EventToolEnd,
				ToolUseID: use.ID,
				ToolName:  use.Name,
				Output:    block.Output,
				Failed:    block.IsError(),
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// executeOne gates and runs a single tool call. Every failure path becomes a
// tool_result carrying an error so the model can see and react; nothing is
// silently dropped.
func (l *Loop) executeOne(ctx context.Context, use types.ContentBlock) types.ContentBlock {
	decision, reason, err := l.deps.Gate.Resolve(ctx, use.Name, use.Input)
	if err != nil {
		return types.ToolErrorBlock(use.ID, fmt.Sprintf("permission check failed: %v", err))
	}
	if decision != types.DecisionAllow {
		logging.Loop("tool %s denied: %s", use.Name, reason)
		return types.ToolErrorBlock(use.ID, fmt.Sprintf("permission denied: %s", reason))
	}

	res := l.deps.Registry.Execute(ctx, use.Name, use.Input)
	if res.Error != nil {
		logging.Loop("tool %s failed after %dms: %v", use.Name, res.DurationMs, res.Error)
		return types.ToolErrorBlock(use.ID, res.Error.Error())
	}
	return types.ToolResultBlock(use.ID, res.Output)
}
