package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tandem/internal/agent"
	"tandem/internal/store"
	"tandem/internal/tools"
)

func newTestSetup(t *testing.T, runner agent.Runner) (*tools.Registry, *agent.Supervisor) {
	t.Helper()
	sup := agent.NewSupervisor(store.NewMemoryStore(), runner, agent.BuiltinKinds(), 10, time.Minute)
	reg := tools.NewRegistry()
	require.NoError(t, Register(reg, sup))
	return reg, sup
}

func TestTaskInline(t *testing.T) {
	runner := agent.RunnerFunc(func(_ context.Context, task *agent.Task) (string, error) {
		task.Progress(1, 1, "working")
		return "explored 3 files", nil
	})
	reg, _ := newTestSetup(t, runner)

	res := reg.Execute(context.Background(), "task", map[string]any{
		"description":   "explore the repo",
		"prompt":        "look at the layout",
		"subagent_type": "explore",
	})
	require.NoError(t, res.Error)
	assert.Contains(t, res.Output, "completed")
	assert.Contains(t, res.Output, "explored 3 files")
}

func TestTaskUnknownType(t *testing.T) {
	reg, _ := newTestSetup(t, agent.RunnerFunc(func(context.Context, *agent.Task) (string, error) {
		return "", nil
	}))

	res := reg.Execute(context.Background(), "task", map[string]any{
		"description":   "x",
		"prompt":        "y",
		"subagent_type": "wizard",
	})
	assert.Error(t, res.Error)
}

func TestTaskBackgroundAndOutput(t *testing.T) {
	runner := agent.RunnerFunc(func(_ context.Context, task *agent.Task) (string, error) {
		task.AddResult(map[string]any{"files": 2})
		return "done in background", nil
	})
	reg, sup := newTestSetup(t, runner)

	res := reg.Execute(context.Background(), "task", map[string]any{
		"description":   "bg task",
		"prompt":        "work",
		"subagent_type": "general",
		"background":    true,
	})
	require.NoError(t, res.Error)
	require.Contains(t, res.Output, "Spawned background agent ")

	agents, err := sup.List("")
	require.NoError(t, err)

	var id string
	if len(agents) > 0 {
		id = agents[0].ID
	} else {
		// Already finished; find it among completed agents.
		completed, err := sup.List(agent.StatusCompleted)
		require.NoError(t, err)
		require.Len(t, completed, 1)
		id = completed[0].ID
	}

	out := reg.Execute(context.Background(), "task_output", map[string]any{
		"agent_id": id,
		"block":    true,
		"timeout":  float64(5),
	})
	require.NoError(t, out.Error)
	assert.Contains(t, out.Output, "status: completed")
	assert.Contains(t, out.Output, "done in background")
	assert.Contains(t, out.Output, `"files":2`)
}

func TestTaskOutputUnknownAgent(t *testing.T) {
	reg, _ := newTestSetup(t, agent.RunnerFunc(func(context.Context, *agent.Task) (string, error) {
		return "", nil
	}))

	res := reg.Execute(context.Background(), "task_output", map[string]any{
		"agent_id": "agent-missing",
	})
	assert.Error(t, res.Error)
}
