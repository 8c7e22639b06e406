package session

import (
	"fmt"
	"strings"
	"time"

	"tandem/internal/logging"
	"tandem/internal/types"
)

// SearchResult locates one match inside a session.
type SearchResult struct {
	SessionID    string `json:"session_id"`
	SessionName  string `json:"session_name,omitempty"`
	MessageIndex int    `json:"message_index"`
	Snippet      string `json:"snippet"`
}

const snippetRadius = 60

// Search scans all sessions for query, case-insensitively, matching message
// text, session names, and tags. Name/tag matches report MessageIndex -1.
func (s *Store) Search(query string) ([]SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, fmt.Errorf("search query is empty")
	}

	keys, err := s.st.List(keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var results []SearchResult
	for _, key := range keys {
		sess, err := s.load(strings.TrimPrefix(key, keyPrefix))
		if err != nil {
			logging.Get(logging.CategorySession).Warn("search skipping session %s: %v", key, err)
			continue
		}

		if strings.Contains(strings.ToLower(sess.Meta.Name), needle) ||
			tagMatch(sess.Meta.Tags, needle) {
			results = append(results, SearchResult{
				SessionID:    sess.Meta.ID,
				SessionName:  sess.Meta.Name,
				MessageIndex: -1,
				Snippet:      sess.Meta.Name,
			})
		}

		for i, msg := range sess.Messages {
			text := msg.Text()
			idx := strings.Index(strings.ToLower(text), needle)
			if idx < 0 {
				continue
			}
			results = append(results, SearchResult{
				SessionID:    sess.Meta.ID,
				SessionName:  sess.Meta.Name,
				MessageIndex: i,
				Snippet:      snippet(text, idx, len(needle)),
			})
		}
	}
	return results, nil
}

func tagMatch(tags []string, needle string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}

func snippet(text string, idx, matchLen int) string {
	start := idx - snippetRadius
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + snippetRadius
	if end > len(text) {
		end = len(text)
	}
	out := strings.TrimSpace(text[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(text) {
		out += "..."
	}
	return out
}

// Stats summarizes one session.
type Stats struct {
	SessionID      string        `json:"session_id"`
	MessageCount   int           `json:"message_count"`
	UserMessages   int           `json:"user_messages"`
	AssistantTurns int           `json:"assistant_turns"`
	ToolUses       int           `json:"tool_uses"`
	ToolErrors     int           `json:"tool_errors"`
	Cost           float64       `json:"cost"`
	Branches       int           `json:"branches"`
	Age            time.Duration `json:"age"`
	Idle           time.Duration `json:"idle"`
}

// Stats computes summary statistics for a session.
func (s *Store) Stats(id string) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	st := &Stats{
		SessionID:    sess.Meta.ID,
		MessageCount: len(sess.Messages),
		Cost:         sess.Meta.Cost,
		Branches:     len(sess.Meta.Branches),
		Age:          now.Sub(sess.Meta.CreatedAt),
		Idle:         now.Sub(sess.Meta.UpdatedAt),
	}
	for _, msg := range sess.Messages {
		switch msg.Role {
		case types.RoleUser:
			st.UserMessages++
		case types.RoleAssistant:
			st.AssistantTurns++
		}
		for _, b := range msg.Content {
			switch {
			case b.Type == types.BlockToolUse:
				st.ToolUses++
			case b.IsError():
				st.ToolErrors++
			}
		}
	}
	return st, nil
}
