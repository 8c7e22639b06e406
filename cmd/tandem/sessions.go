// Package main: session management subcommands (list, inspect, lineage,
// export, housekeeping).
package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tandem/internal/config"
	"tandem/internal/session"
)

var (
	forkAt        int
	mergeStrategy string
	exportFormat  string
	cleanupMaxAge string
)

// sessionsCmd manages stored conversations
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored conversations",
	RunE:  runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently updated first",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show session metadata and statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session as a transcript or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsExport,
}

var sessionsForkCmd = &cobra.Command{
	Use:   "fork <session-id>",
	Short: "Fork a session at a message index",
	Long: `Fork creates a new session that shares history with the parent up to and
including the fork point, then evolves independently. The default fork point
is the parent's last message.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsFork,
}

var sessionsMergeCmd = &cobra.Command{
	Use:   "merge <dst-session-id> <src-session-id>",
	Short: "Merge one session's history into another",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionsMerge,
}

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search session names, tags, and message text",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionsSearch,
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <session-id> <new-name>",
	Short: "Rename a session",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionsRename,
}

var sessionsTagCmd = &cobra.Command{
	Use:   "tag <session-id> <tag>",
	Short: "Add a tag to a session (prefix with - to remove)",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionsTag,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session; its forks become roots",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired sessions and prune dangling fork references",
	RunE:  runSessionsCleanup,
}

func init() {
	sessionsForkCmd.Flags().IntVar(&forkAt, "at", -1, "fork point message index (default: last message)")
	sessionsMergeCmd.Flags().StringVar(&mergeStrategy, "strategy", "append", "merge strategy: append or interleave")
	sessionsExportCmd.Flags().StringVar(&exportFormat, "format", "transcript", "export format: transcript or json")
	sessionsCleanupCmd.Flags().StringVar(&cleanupMaxAge, "max-age", "", "retention window override, e.g. 168h")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsExportCmd,
		sessionsForkCmd, sessionsMergeCmd, sessionsSearchCmd, sessionsRenameCmd,
		sessionsTagCmd, sessionsDeleteCmd, sessionsCleanupCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	_, st, sessions, err := openSessions(workspace)
	if err != nil {
		return err
	}
	defer st.Close()

	metas, err := sessions.List()
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	for _, m := range metas {
		line := fmt.Sprintf("%s  %-24s %4d msgs  $%.4f  %s",
			m.ID, m.Name, m.MessageCount, m.Cost, m.UpdatedAt.Local().Format("2006-01-02 15:04"))
		if m.ParentID != "" {
			line += fmt.Sprintf("  (fork of %s@%d)", m.ParentID, m.ForkPoint)
		}
		if len(m.Tags) > 0 {
			line += "  [" + strings.Join(m.Tags, ",") + "]"
		}
		fmt.Println(line)
	}
	fmt.Printf("Total: %d session(s)\n", len(metas))
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	_, st, sessions, err := openSessions(workspace)
	if err != nil {
		return err
	}
	defer st.Close()

	sess, err := sessions.Get(args[0])
	if err != nil {
		return err
	}
	stats, err := sessions.Stats(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Session:    %s\n", sess.Meta.ID)
	fmt.Printf("Name:       %s\n", sess.Meta.Name)
	fmt.Printf("Model:      %s\n", sess.Meta.Model)
	fmt.Printf("Messages:   %d (%d user, %d assistant)\n",
		stats.MessageCount, stats.UserMessages, stats.AssistantTurns)
	fmt.Printf("Tool calls: %d (%d failed)\n", stats.ToolUses, stats.ToolErrors)
	fmt.Printf("Cost:       $%.4f\n", stats.Cost)
	fmt.Printf("Age:        %s (idle %s)\n",
		stats.Age.Round(time.Minute), stats.Idle.Round(time.Minute))
	if len(sess.Meta.Tags) > 0 {
		fmt.Printf("Tags:       %s\n", strings.Join(sess.Meta.Tags, ", "))
	}
	if sess.Meta.ParentID != "" {
		fmt.Printf("Forked:     from %s at message %d\n", sess.Meta.ParentID, sess.Meta.ForkPoint)
	}
	if len(sess.Meta.Branches) > 0 {
		fmt.Printf("Branches:   %s\n", strings.Join(sess.Meta.Branches, ", "))
	}
	if len(sess.Meta.MergedFrom) > 0 {
		fmt.Printf("Merged:     %s\n", strings.Join(sess.Meta.MergedFrom, ", "))
	}
	return nil
}

func runSessionsExport(cmd *cobra.Command, args []string) error {
	_, st, sessions, err := openSessions(workspace)
	if err != nil {
		return err
	}
	defer st.Close()

	switch exportFormat {
	case "json":
		data, err := sessions.ExportJSON(args[0])
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "transcript":
		text, err := sessions.ExportTranscript(args[0])
		if err != nil {
			return err
		}
		fmt.Print(text)
	default:
		return fmt.Errorf("unknown export format %q (want transcript or json)", exportFormat)
	}
	return nil
}

func runSessionsFork(cmd *cobra.Command, args []string) error {
	_, st, sessions, err := openSessions(workspace)
	if err != nil {
		return err
	}
	defer st.Close()

	at := forkAt
	if at < 0 {
		parent, err := sessions.Get(args[0])
		if err != nil {
			return err
		}
		at = len(parent.Messages) - 1
	}

	child, err := sessions.Fork(args[0], at)
	if err != nil {
		return err
	}
	fmt.Printf("Forked %s at message %d -> %s\n", args[0], at, child.Meta.ID)
	return nil
}

func runSessionsMerge(cmd *cobra.Command, args []string) error {
	_, st, sessions, err := openSessions(workspace)
	if err != nil {
		return err
	}
	defer st.Close()

	var strategy session.MergeStrategy
	switch mergeStrategy {
	case "append":
		strategy = session.MergeAppend
	case "interleave":
		strategy = session.MergeInterleave
	default:
		return fmt.Errorf("unknown merge strategy %q (want append or interleave)", mergeStrategy)
	}

	dst, err := sessions.Merge(args[0], args[1], strategy)
	if err != nil {
		return err
	}
	fmt.Printf("Merged %s into %s (%d messages)\n", args[1], dst.Meta.ID, len(dst.Messages))
	return nil
}

func runSessionsSearch(cmd *cobra.Command, args []string) error {
	_, st, sessions, err := openSessions(workspace)
	if err != nil {
		return err
	}
	defer st.Close()

	results, err := sessions.Search(strings.Join(args, " "))
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, r := range results {
		where := "metadata"
		if r.MessageIndex >= 0 {
			where = fmt.Sprintf("message %d", r.MessageIndex)
		}
		fmt.Printf("%s (%s, %s): %s\n", r.SessionID, r.SessionName, where, r.Snippet)
	}
	return nil
}

func runSessionsRename(cmd *cobra.Command, args []string) error {
	_, st, sessions, err := openSessions(workspace)
	if err != nil {
		return err
	}
	defer st.Close()
	return sessions.Rename(args[0], args[1])
}

func runSessionsTag(cmd *cobra.Command, args []string) error {
	_, st, sessions, err := openSessions(workspace)
	if err != nil {
		return err
	}
	defer st.Close()

	if tag, removed := strings.CutPrefix(args[1], "-"); removed {
		return sessions.RemoveTag(args[0], tag)
	}
	return sessions.AddTag(args[0], args[1])
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	_, st, sessions, err := openSessions(workspace)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := sessions.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func runSessionsCleanup(cmd *cobra.Command, args []string) error {
	cfg, st, sessions, err := openSessions(workspace)
	if err != nil {
		return err
	}
	defer st.Close()

	ttl := cfg.Storage.SessionTTL
	if cleanupMaxAge != "" {
		ttl = cleanupMaxAge
	}
	removed, err := sessions.Cleanup(config.Duration(ttl, 30*24*time.Hour))
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d expired session(s)\n", removed)
	return nil
}
