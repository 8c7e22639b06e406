// Package tools provides the shared tool contract and registry.
//
// Each tool is standalone: a name, a JSON schema for its input, and an
// execute function. The registry validates input against the schema before
// dispatch, so tool bodies can assume required fields are present and typed.
// There is no global registry: each conversation loop owns one instance and
// passes it down, which keeps sessions isolated and tests simple.
package tools

import (
	"context"
)

// ToolCategory classifies tools for capability filtering. Sub-agent types
// declare allowed tool sets in terms of names, but categories give a coarse
// read-only/read-write split.
type ToolCategory string

const (
	// CategoryRead covers read-only tools (file read, glob, grep).
	CategoryRead ToolCategory = "read"

	// CategoryEdit covers tools that mutate the workspace.
	CategoryEdit ToolCategory = "edit"

	// CategoryExec covers shell execution tools.
	CategoryExec ToolCategory = "exec"

	// CategoryAgent covers sub-agent spawning and polling tools.
	CategoryAgent ToolCategory = "agent"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// Schema defines the JSON schema for tool arguments.
type Schema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc is the signature for tool execution. Returns the result string
// and any error; errors are converted by the loop into tool_result.error
// blocks, never silently dropped.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool defines one entry in the tool catalogue.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description explains what the tool does, for model tool calling.
	Description string

	// Category classifies the tool for capability filtering.
	Category ToolCategory

	// Execute runs the tool with validated arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema Schema

	// ReadOnly marks tools safe to run without permission prompts in
	// restricted modes.
	ReadOnly bool
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Result wraps the result of tool execution with metadata.
type Result struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Output is the string output from the tool.
	Output string

	// Error is set if validation or execution failed.
	Error error

	// DurationMs is how long execution took.
	DurationMs int64
}

// IsSuccess returns true if the tool executed without error.
func (r *Result) IsSuccess() bool {
	return r.Error == nil
}
