// Package shell exposes the background shell manager as model-callable
// tools: bash (inline or backgrounded), bash_output (incremental drain), and
// kill_shell.
package shell

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tandem/internal/shell"
	"tandem/internal/tools"
	"tandem/internal/types"
)

// BashTool runs a command inline or detached. Backgrounded commands return a
// shell id for bash_output polling.
func BashTool(mgr *shell.Manager) tools.Tool {
	return tools.Tool{
		Name:        "bash",
		Description: "Run a shell command; set background to detach long-running commands and poll with bash_output",
		Category:    tools.CategoryExec,
		Schema: tools.Schema{
			Required: []string{"command"},
			Properties: map[string]tools.Property{
				"command":     {Type: "string", Description: "Command to execute with bash -c"},
				"timeout":     {Type: "integer", Description: "Timeout in seconds for inline runs"},
				"background":  {Type: "boolean", Description: "Detach and return a shell id immediately", Default: false},
				"working_dir": {Type: "string", Description: "Directory to run in"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			opts := shell.RunOptions{
				Background: tools.BoolArg(args, "background", false),
				WorkingDir: tools.StringArg(args, "working_dir", ""),
			}
			if secs := tools.IntArg(args, "timeout", 0); secs > 0 {
				opts.Timeout = time.Duration(secs) * time.Second
			}

			res, handle, err := mgr.Run(ctx, tools.StringArg(args, "command", ""), opts)
			if err != nil {
				if res != nil && res.TimedOut {
					return "", fmt.Errorf("%w: output so far:\n%s", err, tail(res.Output))
				}
				return "", err
			}

			if handle != nil {
				return fmt.Sprintf("Started background shell %s\nOutput file: %s", handle.ID, handle.OutputFilePath), nil
			}

			out := res.Output
			if res.ExitCode != 0 {
				out += fmt.Sprintf("\n(exit status %d)", res.ExitCode)
			}
			if strings.TrimSpace(out) == "" {
				out = "(no output)"
			}
			return out, nil
		},
	}
}

// BashOutputTool drains new output from a background shell.
func BashOutputTool(mgr *shell.Manager) tools.Tool {
	return tools.Tool{
		Name:        "bash_output",
		Description: "Return output appended since the last drain of a background shell, with an optional regex line filter",
		Category:    tools.CategoryExec,
		ReadOnly:    true,
		Schema: tools.Schema{
			Required: []string{"shell_id"},
			Properties: map[string]tools.Property{
				"shell_id": {Type: "string", Description: "Id returned by a backgrounded bash call"},
				"filter":   {Type: "string", Description: "Regex; only matching lines are returned"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			id := tools.StringArg(args, "shell_id", "")
			out, err := mgr.DrainOutput(id, tools.StringArg(args, "filter", ""))
			if err != nil {
				return "", fmt.Errorf("%w: %v", types.ErrExecution, err)
			}

			snap, err := mgr.Get(id)
			if err != nil {
				return "", fmt.Errorf("%w: %v", types.ErrExecution, err)
			}
			if out == "" {
				return fmt.Sprintf("(no new output, status: %s)", snap.Status), nil
			}
			return fmt.Sprintf("status: %s\n%s", snap.Status, out), nil
		},
	}
}

// KillShellTool terminates a background shell.
func KillShellTool(mgr *shell.Manager) tools.Tool {
	return tools.Tool{
		Name:        "kill_shell",
		Description: "Terminate a background shell (SIGTERM, then SIGKILL after a grace period)",
		Category:    tools.CategoryExec,
		Schema: tools.Schema{
			Required: []string{"shell_id"},
			Properties: map[string]tools.Property{
				"shell_id": {Type: "string", Description: "Id returned by a backgrounded bash call"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			id := tools.StringArg(args, "shell_id", "")
			if err := mgr.Kill(id); err != nil {
				return "", fmt.Errorf("%w: %v", types.ErrExecution, err)
			}
			snap, err := mgr.Get(id)
			if err != nil {
				return "", fmt.Errorf("%w: %v", types.ErrExecution, err)
			}
			return fmt.Sprintf("Shell %s terminated (status: %s)", id, snap.Status), nil
		},
	}
}

// tail returns the last few lines of output for timeout error messages.
func tail(out string) string {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) > 10 {
		lines = lines[len(lines)-10:]
	}
	return strings.Join(lines, "\n")
}

// Register installs the shell tools into the registry.
func Register(reg *tools.Registry, mgr *shell.Manager) error {
	catalogue := []tools.Tool{
		BashTool(mgr),
		BashOutputTool(mgr),
		KillShellTool(mgr),
	}
	for i := range catalogue {
		if err := reg.Register(&catalogue[i]); err != nil {
			return err
		}
	}
	return nil
}
