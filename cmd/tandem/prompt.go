package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"tandem/internal/config"
	"tandem/internal/permission"
	"tandem/internal/types"
)

// terminalPrompter resolves ask decisions on stdin. Besides a one-shot yes/no
// it supports "always"/"never", which it records on the gate so the answer
// persists across restarts.
type terminalPrompter struct {
	in   *bufio.Reader
	gate *permission.Gate
}

func newTerminalPrompter() *terminalPrompter {
	return &terminalPrompter{in: bufio.NewReader(os.Stdin)}
}

// bind attaches the gate after construction; the gate needs the prompter at
// build time and the prompter needs the gate for remembered answers.
func (p *terminalPrompter) bind(g *permission.Gate) { p.gate = g }

var _ types.PermissionPrompter = (*terminalPrompter)(nil)

func (p *terminalPrompter) Prompt(ctx context.Context, toolName string, input map[string]any, _ types.Decision) (types.Decision, error) {
	fmt.Printf("\nPermission required: %s", toolName)
	if arg := primaryArgument(input); arg != "" {
		fmt.Printf(" (%s)", arg)
	}
	fmt.Print("\n[y]es / [n]o / [a]lways / ne[v]er > ")

	type answer struct {
		text string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{text: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return types.DecisionDeny, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return types.DecisionDeny, fmt.Errorf("failed to read answer: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.text)) {
		case "y", "yes":
			return types.DecisionAllow, nil
		case "a", "always":
			p.remember(toolName, input, true)
			return types.DecisionAllow, nil
		case "v", "never":
			p.remember(toolName, input, false)
			return types.DecisionDeny, nil
		default:
			return types.DecisionDeny, nil
		}
	}
}

func (p *terminalPrompter) remember(toolName string, input map[string]any, allow bool) {
	if p.gate == nil {
		return
	}
	rule := config.PermissionRule{Tool: toolName, Pattern: primaryArgument(input)}
	var err error
	if allow {
		err = p.gate.RememberAllow(rule)
	} else {
		err = p.gate.RememberDeny(rule)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to persist decision: %v\n", err)
	}
}

// primaryArgument mirrors the gate's pattern-matching key set.
func primaryArgument(input map[string]any) string {
	for _, key := range []string{"command", "file_path", "path"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
