// Package agent runs named sub-agent tasks: bounded units of work executed
// inline or detached, with durable state that survives process restart and
// supports resume.
package agent

import (
	"time"
)

// Status is the lifecycle state of one agent.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// EventType labels one history entry.
type EventType string

const (
	EventStarted     EventType = "started"
	EventProgress    EventType = "progress"
	EventCompleted   EventType = "completed"
	EventFailed      EventType = "failed"
	EventPaused      EventType = "paused"
	EventResumed     EventType = "resumed"
	EventInterrupted EventType = "interrupted"
)

// HistoryEntry is one timestamped state-affecting event.
type HistoryEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// State is the durable record of one agent task. Persisted on every
// state-affecting event, so a restarted process can list and resume it.
type State struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
	Model       string `json:"model,omitempty"`

	Status  Status         `json:"status"`
	History []HistoryEntry `json:"history"`

	// IntermediateResults accumulates opaque results reported mid-run.
	IntermediateResults []any `json:"intermediate_results,omitempty"`

	CurrentStep      int    `json:"current_step"`
	TotalSteps       int    `json:"total_steps"`
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Output is the final result of a completed run.
	Output string `json:"output,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the status admits no further transitions except
// resume (completed admits none at all).
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind describes one entry in the fixed agent-type registry. AllowedTools is
// the capability set: a sub-agent's tool calls are intersected against it and
// anything outside is rejected.
type Kind struct {
	Name         string
	Description  string
	AllowedTools []string
}

// Allows reports whether the kind may call the named tool. An empty
// AllowedTools list means unrestricted.
func (k Kind) Allows(tool string) bool {
	if len(k.AllowedTools) == 0 {
		return true
	}
	for _, t := range k.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// BuiltinKinds is the fixed registry of agent types.
func BuiltinKinds() []Kind {
	return []Kind{
		{
			Name:        "general",
			Description: "General-purpose agent with the full tool catalogue",
		},
		{
			Name:         "explore",
			Description:  "Read-only codebase exploration",
			AllowedTools: []string{"file_read", "glob", "grep"},
		},
		{
			Name:         "coder",
			Description:  "File editing and verification, no sub-agent spawning",
			AllowedTools: []string{"file_read", "file_write", "file_edit", "glob", "grep", "bash"},
		},
	}
}
