package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tandem/internal/logging"
	"tandem/internal/types"
)

// Registry holds available tools and provides validated dispatch. It is
// thread-safe and supports registration at runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the registry. Returns an error if a tool with the
// same name already exists.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool

	logging.ToolsDebug("Registered tool: %s (category=%s)", tool.Name, tool.Category)
	return nil
}

// MustRegister registers a tool and panics on error. Use for static tool
// registration at startup.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions builds the model-facing tool definitions, restricted to the
// given names (all tools when names is nil).
func (r *Registry) Definitions(names []string) []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selected := make([]*Tool, 0, len(r.tools))
	if names == nil {
		for _, t := range r.tools {
			selected = append(selected, t)
		}
	} else {
		for _, name := range names {
			if t, ok := r.tools[name]; ok {
				selected = append(selected, t)
			}
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Name < selected[j].Name })

	defs := make([]types.ToolDefinition, 0, len(selected))
	for _, t := range selected {
		defs = append(defs, types.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: map[string]any{
				"type":       "object",
				"properties": t.Schema.Properties,
				"required":   t.Schema.Required,
			},
		})
	}
	return defs
}

// Execute runs a tool by name with the given arguments. Returns
// ErrToolNotFound if the tool doesn't exist.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *Result {
	tool := r.Get(name)
	if tool == nil {
		return &Result{
			ToolName: name,
			Error:    fmt.Errorf("%w: %s", ErrToolNotFound, name),
		}
	}
	return r.ExecuteTool(ctx, tool, args)
}

// ExecuteTool validates args against the tool's schema and runs it. The tool
// body is never invoked on validation failure, and a panicking tool is
// recovered into an execution error so the loop keeps running.
func (r *Registry) ExecuteTool(ctx context.Context, tool *Tool, args map[string]any) (res *Result) {
	start := time.Now()
	res = &Result{ToolName: tool.Name}
	defer func() {
		if rec := recover(); rec != nil {
			res.Error = fmt.Errorf("%w: tool %s panicked: %v", types.ErrExecution, tool.Name, rec)
		}
		res.DurationMs = time.Since(start).Milliseconds()
	}()

	if err := ValidateArgs(tool, args); err != nil {
		res.Error = err
		return res
	}

	logging.ToolsDebug("Executing tool: %s", tool.Name)
	output, err := tool.Execute(ctx, args)

	duration := time.Since(start)
	logging.ToolsDebug("Tool %s completed in %v (success=%v)", tool.Name, duration, err == nil)

	res.Output = output
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			res.Error = fmt.Errorf("%w: tool %s", types.ErrTimeout, tool.Name)
		} else {
			res.Error = fmt.Errorf("%w: %v", types.ErrExecution, err)
		}
	}
	return res
}

// ValidateArgs checks required fields and property types against the schema.
func ValidateArgs(tool *Tool, args map[string]any) error {
	for _, required := range tool.Schema.Required {
		if _, ok := args[required]; !ok {
			return &types.ValidationError{
				Tool:   tool.Name,
				Field:  required,
				Reason: "required field missing",
			}
		}
	}

	for name, prop := range tool.Schema.Properties {
		value, ok := args[name]
		if !ok || value == nil {
			continue
		}
		if !typeMatches(prop.Type, value) {
			return &types.ValidationError{
				Tool:   tool.Name,
				Field:  name,
				Reason: fmt.Sprintf("expected %s, got %T", prop.Type, value),
			}
		}
	}
	return nil
}

// typeMatches checks a decoded JSON value against a schema type name. JSON
// numbers decode as float64, so integer accepts whole floats.
func typeMatches(schemaType string, value any) bool {
	switch schemaType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			return v == float64(int64(v))
		default:
			return false
		}
	case "number":
		switch value.(type) {
		case int, int64, float64:
			return true
		default:
			return false
		}
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "":
		return true
	default:
		return true
	}
}
