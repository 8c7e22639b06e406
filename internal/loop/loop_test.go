package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tandem/internal/agent"
	"tandem/internal/config"
	ctxwindow "tandem/internal/context"
	"tandem/internal/llm"
	"tandem/internal/permission"
	"tandem/internal/session"
	"tandem/internal/shell"
	"tandem/internal/store"
	"tandem/internal/tools"
	"tandem/internal/types"
)

// harness bundles a loop with its collaborators for assertions.
type harness struct {
	loop     *Loop
	sessions *session.Store
	sess     *session.Session
	registry *tools.Registry
	shells   *shell.Manager
	window   *ctxwindow.Manager
}

func classifier(name string) permission.ToolClass {
	switch name {
	case "read_tool":
		return permission.ClassRead
	default:
		return permission.ClassExec
	}
}

func newHarness(t *testing.T, client types.ModelClient, mode string, cfg Config) *harness {
	t.Helper()

	backing := store.NewMemoryStore()
	sessions := session.NewStore(backing)
	sess, err := sessions.Create("loop test", "claude-sonnet-4-20250514")
	require.NoError(t, err)

	gate, err := permission.NewGate(config.PermissionConfig{Mode: mode}, classifier)
	require.NoError(t, err)

	window := ctxwindow.NewManager("claude-2", 0.1)
	compactor := ctxwindow.NewCompactor(ctxwindow.CompactorConfig{
		PreserveHead:      2,
		PreserveTail:      4,
		LargeResultBytes:  4096,
		SpillDir:          t.TempDir(),
		TruncateKeepChars: 200,
	}, window.Counter())

	shellCfg := shell.DefaultConfig(t.TempDir())
	shellCfg.KillGracePeriod = 200 * time.Millisecond
	shells := shell.NewManager(shellCfg, backing)
	t.Cleanup(shells.Shutdown)

	registry := tools.NewRegistry()

	deps := Deps{
		Client:    client,
		Registry:  registry,
		Gate:      gate,
		Sessions:  sessions,
		Window:    window,
		Compactor: compactor,
		Shells:    shells,
	}
	return &harness{
		loop:     New(deps, cfg),
		sessions: sessions,
		sess:     sess,
		registry: registry,
		shells:   shells,
		window:   window,
	}
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func registerEchoTool(t *testing.T, reg *tools.Registry, name string, delayArg bool) {
	t.Helper()
	tool := tools.Tool{
		Name:        name,
		Description: "echoes its message argument",
		Category:    tools.CategoryExec,
		Schema: tools.Schema{
			Required: []string{"message"},
			Properties: map[string]tools.Property{
				"message": {Type: "string", Description: "text to echo"},
				"delay":   {Type: "integer", Description: "milliseconds to sleep first"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			if delayArg {
				time.Sleep(time.Duration(tools.IntArg(args, "delay", 0)) * time.Millisecond)
			}
			return "echo: " + tools.StringArg(args, "message", ""), nil
		},
	}
	require.NoError(t, reg.Register(&tool))
}

func TestTerminalTurnNoTools(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.ScriptStep{Response: llm.TextResponse("all done", types.Usage{InputTokens: 10, OutputTokens: 5})},
	)
	h := newHarness(t, client, "bypassPermissions", DefaultConfig())

	events := collect(t, h.loop.ProcessMessage(context.Background(), h.sess, "hello"))
	require.Equal(t, []EventType{EventTextDelta, EventTurnComplete}, eventTypes(events))
	assert.Equal(t, "all done", events[0].Text)
	assert.Equal(t, 15, events[1].Usage.Total())

	// History: user input + assistant reply.
	require.Len(t, h.sess.Messages, 2)
	assert.Equal(t, types.RoleUser, h.sess.Messages[0].Role)
	assert.Equal(t, "all done", h.sess.Messages[1].Text())

	// Cost accrued from usage.
	assert.Greater(t, h.sess.Meta.Cost, 0.0)
}

func TestToolRoundTrip(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.ScriptStep{Response: llm.ToolCallResponse(types.Usage{InputTokens: 20},
			types.ToolUseBlock("tu_1", "echo", map[string]any{"message": "ping"}))},
		llm.ScriptStep{Response: llm.TextResponse("pong received", types.Usage{OutputTokens: 4})},
	)
	h := newHarness(t, client, "bypassPermissions", DefaultConfig())
	registerEchoTool(t, h.registry, "echo", false)

	events := collect(t, h.loop.ProcessMessage(context.Background(), h.sess, "ping the tool"))
	require.Equal(t,
		[]EventType{EventToolStart, EventToolEnd, EventTextDelta, EventTurnComplete},
		eventTypes(events))
	assert.Equal(t, "echo", events[0].ToolName)
	assert.Equal(t, "echo: ping", events[1].Output)
	assert.False(t, events[1].Failed)

	// user, assistant(tool_use), user(tool_result), assistant(text)
	require.Len(t, h.sess.Messages, 4)
	resultBlocks := h.sess.Messages[2].ToolResults()
	require.Len(t, resultBlocks, 1)
	assert.Equal(t, "tu_1", resultBlocks[0].ToolUseID)
	assert.Equal(t, "echo: ping", resultBlocks[0].Output)

	// The second model call saw the appended tool results.
	require.Equal(t, 2, client.Calls())
	lastSent := client.Received[1]
	assert.Len(t, lastSent, 3)
}

func TestConcurrentResultsKeepDispatchOrder(t *testing.T) {
	uses := []types.ContentBlock{
		types.ToolUseBlock("tu_a", "echo", map[string]any{"message": "first", "delay": float64(80)}),
		types.ToolUseBlock("tu_b", "echo", map[string]any{"message": "second", "delay": float64(20)}),
		types.ToolUseBlock("tu_c", "echo", map[string]any{"message": "third", "delay": float64(1)}),
	}
	client := llm.NewScriptedClient(
		llm.ScriptStep{Response: llm.ToolCallResponse(types.Usage{}, uses...)},
		llm.ScriptStep{Response: llm.TextResponse("done", types.Usage{})},
	)
	h := newHarness(t, client, "bypassPermissions", DefaultConfig())
	registerEchoTool(t, h.registry, "echo", true)

	collect(t, h.loop.ProcessMessage(context.Background(), h.sess, "run three"))

	// Slowest call was dispatched first; results must still be appended in
	// dispatch order, not completion order.
	results := h.sess.Messages[2].ToolResults()
	require.Len(t, results, 3)
	assert.Equal(t, "tu_a", results[0].ToolUseID)
	assert.Equal(t, "echo: first", results[0].Output)
	assert.Equal(t, "tu_b", results[1].ToolUseID)
	assert.Equal(t, "tu_c", results[2].ToolUseID)
}

func TestDeniedToolBecomesErrorResult(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.ScriptStep{Response: llm.ToolCallResponse(types.Usage{},
			types.ToolUseBlock("tu_1", "echo", map[string]any{"message": "nope"}))},
		llm.ScriptStep{Response: llm.TextResponse("understood, skipping", types.Usage{})},
	)
	// Plan mode denies exec-class tools outright.
	h := newHarness(t, client, "plan", DefaultConfig())
	registerEchoTool(t, h.registry, "echo", false)

	events := collect(t, h.loop.ProcessMessage(context.Background(), h.sess, "try it"))

	var end *Event
	for i := range events {
		if events[i].Type == EventToolEnd {
			end = &events[i]
		}
	}
	require.NotNil(t, end)
	assert.True(t, end.Failed)

	// The loop continued to a terminal turn instead of aborting.
	assert.Equal(t, EventTurnComplete, events[len(events)-1].Type)

	results := h.sess.Messages[2].ToolResults()
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError())
	assert.Contains(t, results[0].Error, "permission denied")
}

func TestFailingToolBecomesErrorResult(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.ScriptStep{Response: llm.ToolCallResponse(types.Usage{},
			types.ToolUseBlock("tu_1", "broken", map[string]any{}))},
		llm.ScriptStep{Response: llm.TextResponse("noted", types.Usage{})},
	)
	h := newHarness(t, client, "bypassPermissions", DefaultConfig())

	broken := tools.Tool{
		Name:        "broken",
		Description: "always fails",
		Category:    tools.CategoryExec,
		Schema:      tools.Schema{Properties: map[string]tools.Property{}},
		Execute: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("disk on fire")
		},
	}
	require.NoError(t, h.registry.Register(&broken))

	events := collect(t, h.loop.ProcessMessage(context.Background(), h.sess, "go"))
	assert.Equal(t, EventTurnComplete, events[len(events)-1].Type)

	results := h.sess.Messages[2].ToolResults()
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "disk on fire")
}

func TestMaxTurnsExceeded(t *testing.T) {
	// The model requests a tool on every call, never terminating.
	steps := make([]llm.ScriptStep, 0, 10)
	for i := 0; i < 10; i++ {
		steps = append(steps, llm.ScriptStep{Response: llm.ToolCallResponse(types.Usage{},
			types.ToolUseBlock("tu", "echo", map[string]any{"message": "loop"}))})
	}
	client := llm.NewScriptedClient(steps...)

	cfg := DefaultConfig()
	cfg.MaxTurns = 3
	h := newHarness(t, client, "bypassPermissions", cfg)
	registerEchoTool(t, h.registry, "echo", false)

	events := collect(t, h.loop.ProcessMessage(context.Background(), h.sess, "spin"))
	last := events[len(events)-1]
	require.Equal(t, EventError, last.Type)
	assert.True(t, errors.Is(last.Err, types.ErrFatalLoop))
	assert.Contains(t, last.Err.Error(), "max turns exceeded")
	assert.Equal(t, 3, client.Calls())
}

func TestModelFailureSurfacesAsError(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.ScriptStep{Err: llm.ClassifyStatus(401, "bad key")},
	)
	h := newHarness(t, client, "bypassPermissions", DefaultConfig())

	events := collect(t, h.loop.ProcessMessage(context.Background(), h.sess, "hi"))
	last := events[len(events)-1]
	require.Equal(t, EventError, last.Type)
	assert.True(t, errors.Is(last.Err, llm.ErrAuthentication))
}

func TestCancellationKillsBackgroundShells(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.ScriptStep{Response: llm.TextResponse("never seen", types.Usage{})},
	)
	h := newHarness(t, client, "bypassPermissions", DefaultConfig())

	_, handle, err := h.shells.Run(context.Background(), "sleep 30", shell.RunOptions{Background: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := collect(t, h.loop.ProcessMessage(ctx, h.sess, "cancelled before start"))
	last := events[len(events)-1]
	require.Equal(t, EventError, last.Type)
	assert.True(t, errors.Is(last.Err, context.Canceled))

	snap, err := h.shells.Get(handle.ID)
	require.NoError(t, err)
	assert.Equal(t, shell.StatusKilled, snap.Status)
}

func TestCancellationLeavesNoDanglingToolUse(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.ScriptStep{Response: llm.ToolCallResponse(types.Usage{},
			types.ToolUseBlock("tu_cut", "stall_tool", map[string]any{}))},
		llm.ScriptStep{Response: llm.TextResponse("never seen", types.Usage{})},
	)
	h := newHarness(t, client, "bypassPermissions", DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stall := tools.Tool{
		Name:        "stall_tool",
		Description: "cancels its own turn then waits",
		Category:    tools.CategoryExec,
		Execute: func(ctx context.Context, _ map[string]any) (string, error) {
			cancel()
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	require.NoError(t, h.registry.Register(&stall))

	events := collect(t, h.loop.ProcessMessage(ctx, h.sess, "go"))
	last := events[len(events)-1]
	require.Equal(t, EventError, last.Type)
	assert.True(t, errors.Is(last.Err, context.Canceled))

	// The persisted transcript must match every tool_use with a
	// tool_result, or the next run sends an invalid history.
	got, err := h.sessions.Get(h.sess.Meta.ID)
	require.NoError(t, err)

	results := map[string]types.ContentBlock{}
	for _, m := range got.Messages {
		for _, b := range m.ToolResults() {
			results[b.ToolUseID] = b
		}
	}
	for _, m := range got.Messages {
		for _, u := range m.ToolUses() {
			res, ok := results[u.ID]
			require.True(t, ok, "tool_use %s has no matching tool_result", u.ID)
			assert.True(t, res.IsError())
			assert.Contains(t, res.Error, "cancelled")
		}
	}

	final := got.Messages[len(got.Messages)-1]
	assert.Equal(t, types.RoleUser, final.Role)
	require.Len(t, final.ToolResults(), 1)
}

func TestCompactionBeforeModelCall(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.ScriptStep{Response: llm.TextResponse("fine", types.Usage{})},
	)
	cfg := DefaultConfig()
	cfg.CompactionThreshold = 0.05 // window 100k -> budget 5000 tokens
	h := newHarness(t, client, "bypassPermissions", cfg)

	// Preload history whose old tool results are large enough to collapse,
	// and record usage past the threshold.
	big := strings.Repeat("x", 6000)
	var msgs []types.Message
	msgs = append(msgs, types.NewTextMessage(types.RoleSystem, "system prompt"))
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("tu_%d", i)
		msgs = append(msgs,
			types.Message{
				Role:      types.RoleAssistant,
				Content:   []types.ContentBlock{types.ToolUseBlock(id, "echo", nil)},
				Timestamp: time.Now().UTC(),
			},
			types.Message{
				Role:      types.RoleUser,
				Content:   []types.ContentBlock{types.ToolResultBlock(id, big)},
				Timestamp: time.Now().UTC(),
			},
		)
	}
	require.NoError(t, h.sessions.ReplaceHistory(h.sess, msgs))
	h.window.RecordUsage(types.Usage{InputTokens: 20000})

	events := collect(t, h.loop.ProcessMessage(context.Background(), h.sess, "continue"))
	assert.Equal(t, EventTurnComplete, events[len(events)-1].Type)

	// Old large results were collapsed into references.
	var refs int
	for _, m := range h.sess.Messages {
		for _, b := range m.Content {
			if b.Type == types.BlockToolReference {
				refs++
			}
		}
	}
	assert.Greater(t, refs, 0, "compaction should have collapsed old large results")
}

func TestAgentRunnerCapabilityCut(t *testing.T) {
	// Sub-agent asks for bash (outside the explore set), then file-free
	// read_tool, then finishes.
	client := llm.NewScriptedClient(
		llm.ScriptStep{Response: llm.ToolCallResponse(types.Usage{},
			types.ToolUseBlock("tu_1", "bash", map[string]any{"command": "rm -rf /"}))},
		llm.ScriptStep{Response: llm.TextResponse("giving up on bash, summary: clean tree", types.Usage{})},
	)
	h := newHarness(t, client, "bypassPermissions", DefaultConfig())
	registerEchoTool(t, h.registry, "bash", false)

	runner := NewAgentRunner(Deps{
		Client:   client,
		Registry: h.registry,
		Gate:     mustGate(t, "bypassPermissions"),
		Window:   h.window,
	}, DefaultConfig())

	sup := agent.NewSupervisor(store.NewMemoryStore(), runner, agent.BuiltinKinds(), 5, time.Minute)
	id, output, err := sup.Spawn(context.Background(), agent.SpawnOptions{
		Description: "look around",
		Prompt:      "explore the tree",
		Type:        "explore",
	})
	require.NoError(t, err)
	assert.Contains(t, output, "summary: clean tree")

	// The rejected bash call reached the model as an error result.
	require.Equal(t, 2, client.Calls())
	second := client.Received[1]
	lastMsg := second[len(second)-1]
	results := lastMsg.ToolResults()
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "not allowed for agent type explore")

	final, err := sup.TaskOutput(context.Background(), id, false, 0)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, final.Status)
}

func mustGate(t *testing.T, mode string) *permission.Gate {
	t.Helper()
	g, err := permission.NewGate(config.PermissionConfig{Mode: mode}, classifier)
	require.NoError(t, err)
	return g
}
