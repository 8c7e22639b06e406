package loop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tandem/internal/agent"
	"tandem/internal/logging"
	"tandem/internal/types"
)

// AgentRunner executes sub-agent tasks as bounded mini-conversations: the
// agent's prompt seeds the history, tool calls are intersected against the
// agent type's allowed set and gated like any other call, and the final
// non-tool response becomes the task output.
//
// The supervisor injects this through its Runner interface, which keeps the
// agent package independent of the tool catalogue.
type AgentRunner struct {
	deps Deps
	cfg  Config
}

// NewAgentRunner builds the runner the supervisor drives.
func NewAgentRunner(deps Deps, cfg Config) *AgentRunner {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 25
	}
	if cfg.MaxConcurrentTools <= 0 {
		cfg.MaxConcurrentTools = 5
	}
	return &AgentRunner{deps: deps, cfg: cfg}
}

var _ agent.Runner = (*AgentRunner)(nil)

// Run drives one sub-agent to a terminal state.
func (r *AgentRunner) Run(ctx context.Context, task *agent.Task) (string, error) {
	st := task.State()
	logging.Agent("runner: starting %s agent %s", st.Type, st.ID)

	allowed := r.allowedDefinitions(task)
	history := []types.Message{
		types.NewTextMessage(types.RoleUser, st.Prompt),
	}

	for turn := 0; turn < r.cfg.MaxTurns; turn++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		resp, err := r.deps.Client.Send(ctx, history, allowed)
		if err != nil {
			return "", fmt.Errorf("model call failed: %w", err)
		}
		r.deps.Window.RecordUsage(resp.Usage)
		if r.deps.Usage != nil {
			r.deps.Usage.Record(resp.Model, resp.Usage, estimateCost(resp.Model, resp.Usage))
		}

		assistant := types.Message{
			Role:      types.RoleAssistant,
			Content:   resp.Content,
			Timestamp: time.Now().UTC(),
			Model:     resp.Model,
		}
		history = append(history, assistant)

		uses := assistant.ToolUses()
		if len(uses) == 0 {
			return assistant.Text(), nil
		}

		task.Progress(turn+1, r.cfg.MaxTurns, fmt.Sprintf("dispatching %d tool call(s)", len(uses)))

		results := make([]types.ContentBlock, 0, len(uses))
		for _, use := range uses {
			results = append(results, r.executeOne(ctx, task, use))
		}
		history = append(history, types.Message{
			Role:      types.RoleUser,
			Content:   results,
			Timestamp: time.Now().UTC(),
		})
	}

	return "", fmt.Errorf("%w: sub-agent exceeded %d turns", types.ErrFatalLoop, r.cfg.MaxTurns)
}

// executeOne applies the capability cut first, then the ordinary permission
// gate, then runs the tool. Failures become error results for the sub-agent's
// model to react to.
func (r *AgentRunner) executeOne(ctx context.Context, task *agent.Task, use types.ContentBlock) types.ContentBlock {
	if err := task.CheckTool(use.Name); err != nil {
		return types.ToolErrorBlock(use.ID, err.Error())
	}

	decision, reason, err := r.deps.Gate.Resolve(ctx, use.Name, use.Input)
	if err != nil {
		return types.ToolErrorBlock(use.ID, fmt.Sprintf("permission check failed: %v", err))
	}
	if decision != types.DecisionAllow {
		return types.ToolErrorBlock(use.ID, fmt.Sprintf("permission denied: %s", reason))
	}

	res := r.deps.Registry.Execute(ctx, use.Name, use.Input)
	if res.Error != nil {
		return types.ToolErrorBlock(use.ID, res.Error.Error())
	}
	task.AddResult(summarize(use.Name, res.Output))
	return types.ToolResultBlock(use.ID, res.Output)
}

// allowedDefinitions narrows the catalogue to the agent type's tool set.
func (r *AgentRunner) allowedDefinitions(task *agent.Task) []types.ToolDefinition {
	all := r.deps.Registry.Definitions(nil)
	out := make([]types.ToolDefinition, 0, len(all))
	for _, def := range all {
		if task.CheckTool(def.Name) == nil {
			out = append(out, def)
		}
	}
	return out
}

// summarize produces a short intermediate-result record from one tool call.
func summarize(tool, output string) map[string]any {
	const maxSnippet = 200
	snippet := strings.TrimSpace(output)
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet] + "..."
	}
	return map[string]any{"tool": tool, "output": snippet}
}
