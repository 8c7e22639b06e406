// Package main implements the tandem CLI: a terminal agentic coding client
// built around a conversation loop, permission-gated tools, and durable
// sessions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tandem/internal/logging"
)

var (
	// Global flags
	workspace      string
	modelOverride  string
	permissionMode string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "tandem - terminal agentic coding client",
	Long: `tandem is a terminal coding agent. It sends your instruction to a model,
executes the tool calls the model requests (file edits, shell commands,
sub-agents) behind a permission gate, and keeps the full conversation in a
durable, forkable session store.

Run 'tandem run "<instruction>"' to start a turn, or 'tandem sessions' to
inspect stored conversations.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			ws, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
			workspace = ws
		}
		if err := logging.Initialize(workspace); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: cwd)")
	rootCmd.PersistentFlags().StringVar(&modelOverride, "model", "", "model id override")
	rootCmd.PersistentFlags().StringVar(&permissionMode, "permission-mode", "", "permission mode: default, acceptEdits, bypassPermissions, plan, dontAsk")
}

func main() {
	// A single interrupt cancels the in-flight turn; the run command wires
	// this context through the loop so background work is cleaned up.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
