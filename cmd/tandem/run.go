package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tandem/internal/loop"
	"tandem/internal/session"
)

var (
	runSessionID string
	runContinue  bool
	runName      string
)

// runCmd executes one conversation turn
var runCmd = &cobra.Command{
	Use:   "run <instruction>",
	Short: "Run one instruction through the agent",
	Long: `Run sends an instruction to the model and executes the tool calls it
requests until the model produces a final answer. The conversation is stored
in a session; use --session or --continue to keep talking in an existing one.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runSessionID, "session", "s", "", "continue the session with this id")
	runCmd.Flags().BoolVarP(&runContinue, "continue", "c", false, "continue the most recently updated session")
	runCmd.Flags().StringVar(&runName, "name", "", "name for a newly created session")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	instruction := strings.Join(args, " ")

	a, err := buildApp(workspace)
	if err != nil {
		return err
	}
	defer a.close()

	sess, err := resolveSession(a)
	if err != nil {
		return err
	}

	var turnErr error
	for ev := range a.loop.ProcessMessage(cmd.Context(), sess, instruction) {
		switch ev.Type {
		case loop.EventTextDelta:
			fmt.Println(ev.Text)
		case loop.EventToolStart:
			fmt.Printf("  → %s\n", ev.ToolName)
		case loop.EventToolEnd:
			if ev.Failed {
				fmt.Printf("  ✗ %s failed\n", ev.ToolName)
			}
		case loop.EventTurnComplete:
			fmt.Printf("\n[%s] %d tokens, $%.4f total\n",
				sess.Meta.ID, ev.Usage.Total(), sess.Meta.Cost)
		case loop.EventError:
			turnErr = ev.Err
		}
	}

	if turnErr != nil {
		if errors.Is(turnErr, cmd.Context().Err()) && cmd.Context().Err() != nil {
			fmt.Printf("\nInterrupted. Resume with: tandem run -s %s \"...\"\n", sess.Meta.ID)
			return nil
		}
		return turnErr
	}
	return nil
}

// resolveSession picks the conversation to extend: an explicit id, the most
// recent one, or a fresh session.
func resolveSession(a *app) (*session.Session, error) {
	switch {
	case runSessionID != "":
		return a.sessions.Get(runSessionID)
	case runContinue:
		metas, err := a.sessions.List()
		if err != nil {
			return nil, err
		}
		if len(metas) == 0 {
			break
		}
		return a.sessions.Get(metas[0].ID)
	}

	name := runName
	if name == "" {
		name = "untitled"
	}
	return a.sessions.Create(name, a.cfg.Model.ID)
}
