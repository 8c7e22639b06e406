package shell

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tandem/internal/shell"
	"tandem/internal/store"
	"tandem/internal/tools"
)

func newTestSetup(t *testing.T) *tools.Registry {
	t.Helper()
	cfg := shell.DefaultConfig(t.TempDir())
	cfg.KillGracePeriod = 200 * time.Millisecond
	mgr := shell.NewManager(cfg, store.NewMemoryStore())
	t.Cleanup(mgr.Shutdown)

	reg := tools.NewRegistry()
	require.NoError(t, Register(reg, mgr))
	return reg
}

func TestBashInline(t *testing.T) {
	reg := newTestSetup(t)

	res := reg.Execute(context.Background(), "bash", map[string]any{
		"command": "echo inline run",
	})
	require.NoError(t, res.Error)
	assert.Contains(t, res.Output, "inline run")
}

func TestBashNonzeroExitShownInOutput(t *testing.T) {
	reg := newTestSetup(t)

	res := reg.Execute(context.Background(), "bash", map[string]any{
		"command": "echo failing && exit 2",
	})
	require.NoError(t, res.Error, "nonzero exit is model-visible output, not a tool error")
	assert.Contains(t, res.Output, "exit status 2")
}

func TestBashBackgroundLifecycle(t *testing.T) {
	reg := newTestSetup(t)

	res := reg.Execute(context.Background(), "bash", map[string]any{
		"command":    "echo bg line; sleep 30",
		"background": true,
	})
	require.NoError(t, res.Error)
	require.Contains(t, res.Output, "Started background shell ")

	// Extract the shell id from the tool output.
	line := strings.SplitN(res.Output, "\n", 2)[0]
	id := strings.TrimPrefix(line, "Started background shell ")

	// The echoed line lands in the drain buffer shortly after start.
	require.Eventually(t, func() bool {
		out := reg.Execute(context.Background(), "bash_output", map[string]any{"shell_id": id})
		return out.Error == nil && strings.Contains(out.Output, "bg line")
	}, 5*time.Second, 50*time.Millisecond)

	// Drained again: nothing new.
	out := reg.Execute(context.Background(), "bash_output", map[string]any{"shell_id": id})
	require.NoError(t, out.Error)
	assert.Contains(t, out.Output, "no new output")

	kill := reg.Execute(context.Background(), "kill_shell", map[string]any{"shell_id": id})
	require.NoError(t, kill.Error)
	assert.Contains(t, kill.Output, "killed")
}

func TestBashOutputUnknownShell(t *testing.T) {
	reg := newTestSetup(t)

	res := reg.Execute(context.Background(), "bash_output", map[string]any{
		"shell_id": "shell-missing",
	})
	assert.Error(t, res.Error)
}

func TestBashTimeout(t *testing.T) {
	reg := newTestSetup(t)

	res := reg.Execute(context.Background(), "bash", map[string]any{
		"command": "sleep 10",
		"timeout": float64(1),
	})
	require.Error(t, res.Error)
	assert.Contains(t, res.Error.Error(), "timed out")
}
