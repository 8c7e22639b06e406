package session

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"tandem/internal/types"
)

// ExportJSON returns the full session as indented JSON.
func (s *Store) ExportJSON(id string) ([]byte, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to export session %s: %w", id, err)
	}
	return data, nil
}

// ExportTranscript renders the session as a human-readable transcript.
// Tool invocations show the tool name; results show output or error text.
func (s *Store) ExportTranscript(id string) (string, error) {
	sess, err := s.Get(id)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	name := sess.Meta.Name
	if name == "" {
		name = sess.Meta.ID
	}
	fmt.Fprintf(&sb, "# %s\n\n", name)
	if sess.Meta.ParentID != "" {
		fmt.Fprintf(&sb, "Forked from %s at message %d.\n\n",
			sess.Meta.ParentID, sess.Meta.ForkPoint)
	}

	for _, msg := range sess.Messages {
		fmt.Fprintf(&sb, "## %s  (%s)\n\n",
			strings.ToUpper(string(msg.Role)),
			msg.Timestamp.Format("2006-01-02 15:04:05"))
		for _, b := range msg.Content {
			writeBlock(&sb, b)
		}
	}
	return sb.String(), nil
}

func writeBlock(sb *strings.Builder, b types.ContentBlock) {
	switch b.Type {
	case types.BlockText:
		sb.WriteString(b.Text)
		sb.WriteString("\n\n")
	case types.BlockToolUse:
		fmt.Fprintf(sb, "> tool call: %s\n\n", b.Name)
	case types.BlockToolResult:
		if b.Error != "" {
			fmt.Fprintf(sb, "> tool error: %s\n\n", b.Error)
		} else {
			fmt.Fprintf(sb, "> tool result:\n```\n%s\n```\n\n", b.Output)
		}
	case types.BlockToolReference:
		fmt.Fprintf(sb, "> tool result archived at %s\n\n", b.Path)
	}
}
