// Package task exposes the agent supervisor as model-callable tools: task
// (spawn or resume a sub-agent) and task_output (poll or await one).
package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"tandem/internal/agent"
	"tandem/internal/tools"
	"tandem/internal/types"
)

// TaskTool spawns or resumes a sub-agent.
func TaskTool(sup *agent.Supervisor) tools.Tool {
	kindNames := make([]any, 0)
	var kindDocs []string
	for _, k := range sup.Kinds() {
		kindNames = append(kindNames, k.Name)
		kindDocs = append(kindDocs, fmt.Sprintf("%s (%s)", k.Name, k.Description))
	}

	return tools.Tool{
		Name: "task",
		Description: "Spawn a sub-agent for a bounded unit of work. Types: " +
			strings.Join(kindDocs, "; "),
		Category: tools.CategoryAgent,
		Schema: tools.Schema{
			Required: []string{"description", "prompt", "subagent_type"},
			Properties: map[string]tools.Property{
				"description":   {Type: "string", Description: "Short human-readable task summary"},
				"prompt":        {Type: "string", Description: "Full instructions for the sub-agent"},
				"subagent_type": {Type: "string", Description: "Agent type from the fixed registry", Enum: kindNames},
				"model":         {Type: "string", Description: "Model override for the sub-agent"},
				"background":    {Type: "boolean", Description: "Detach and poll with task_output", Default: false},
				"resume":        {Type: "string", Description: "Agent id to resume instead of starting fresh"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			opts := agent.SpawnOptions{
				Description: tools.StringArg(args, "description", ""),
				Prompt:      tools.StringArg(args, "prompt", ""),
				Type:        tools.StringArg(args, "subagent_type", ""),
				Model:       tools.StringArg(args, "model", ""),
				Background:  tools.BoolArg(args, "background", false),
				ResumeID:    tools.StringArg(args, "resume", ""),
			}

			id, output, err := sup.Spawn(ctx, opts)
			if err != nil {
				return "", fmt.Errorf("%w: %v", types.ErrExecution, err)
			}
			if opts.Background {
				return fmt.Sprintf("Spawned background agent %s; poll with task_output", id), nil
			}
			return fmt.Sprintf("Agent %s completed.\n\n%s", id, output), nil
		},
	}
}

// TaskOutputTool returns a sub-agent's status and accumulated results.
func TaskOutputTool(sup *agent.Supervisor) tools.Tool {
	return tools.Tool{
		Name:        "task_output",
		Description: "Get a sub-agent's status and intermediate results; set block to wait for completion",
		Category:    tools.CategoryAgent,
		ReadOnly:    true,
		Schema: tools.Schema{
			Required: []string{"agent_id"},
			Properties: map[string]tools.Property{
				"agent_id": {Type: "string", Description: "Id returned by the task tool"},
				"block":    {Type: "boolean", Description: "Wait for a terminal state before returning", Default: false},
				"timeout":  {Type: "integer", Description: "Max seconds to wait when blocking"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			id := tools.StringArg(args, "agent_id", "")
			block := tools.BoolArg(args, "block", false)
			timeout := time.Duration(tools.IntArg(args, "timeout", 60)) * time.Second

			st, err := sup.TaskOutput(ctx, id, block, timeout)
			if err != nil {
				return "", fmt.Errorf("%w: %v", types.ErrExecution, err)
			}
			return formatState(st), nil
		},
	}
}

func formatState(st agent.State) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "agent: %s (%s)\nstatus: %s\n", st.ID, st.Type, st.Status)
	if st.TotalSteps > 0 {
		fmt.Fprintf(&sb, "progress: %d/%d\n", st.CurrentStep, st.TotalSteps)
	}
	if len(st.IntermediateResults) > 0 {
		sb.WriteString("intermediate results:\n")
		for _, r := range st.IntermediateResults {
			data, err := json.Marshal(r)
			if err != nil {
				continue
			}
			fmt.Fprintf(&sb, "  - %s\n", data)
		}
	}
	if st.Output != "" {
		fmt.Fprintf(&sb, "output:\n%s\n", st.Output)
	}
	return sb.String()
}

// Register installs the task tools into the registry.
func Register(reg *tools.Registry, sup *agent.Supervisor) error {
	catalogue := []tools.Tool{
		TaskTool(sup),
		TaskOutputTool(sup),
	}
	for i := range catalogue {
		if err := reg.Register(&catalogue[i]); err != nil {
			return err
		}
	}
	return nil
}
