package loop

import (
	"tandem/internal/types"
)

// EventType discriminates the loop's event stream.
type EventType string

const (
	// EventTextDelta carries assistant text as it is produced.
	EventTextDelta EventType = "text_delta"

	// EventToolStart marks one tool invocation entering dispatch.
	EventToolStart EventType = "tool_start"

	// EventToolEnd carries one tool invocation's outcome.
	EventToolEnd EventType = "tool_end"

	// EventTurnComplete marks the model's terminal (non-tool) turn.
	EventTurnComplete EventType = "turn_complete"

	// EventError is a fatal turn error; the stream closes after it.
	EventError EventType = "error"
)

// Event is one element of the ProcessMessage stream.
type Event struct {
	Type EventType

	// Text is set for text_delta events.
	Text string

	// ToolUseID/ToolName are set for tool_start and tool_end.
	ToolUseID string
	ToolName  string

	// Output and Failed describe the outcome on tool_end.
	Output string
	Failed bool

	// Usage accompanies turn_complete with the whole turn's accumulated
	// token counts.
	Usage types.Usage

	// Err is set for error events.
	Err error
}
