package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tandem/internal/agent"
	"tandem/internal/config"
	ctxwindow "tandem/internal/context"
	"tandem/internal/llm"
	"tandem/internal/loop"
	"tandem/internal/permission"
	"tandem/internal/session"
	"tandem/internal/shell"
	"tandem/internal/store"
	"tandem/internal/tools"
	toolscore "tandem/internal/tools/core"
	toolshell "tandem/internal/tools/shell"
	tooltask "tandem/internal/tools/task"
	"tandem/internal/types"
	"tandem/internal/usage"
)

// app bundles the wired components for one CLI invocation.
type app struct {
	cfg      *config.Config
	st       types.PersistentStore
	sessions *session.Store
	registry *tools.Registry
	gate     *permission.Gate
	shells   *shell.Manager
	agents   *agent.Supervisor
	window   *ctxwindow.Manager
	usage    *usage.Tracker
	loop     *loop.Loop
}

// configPath returns the workspace config file location.
func configPath(ws string) string {
	return filepath.Join(ws, ".tandem", "config.yaml")
}

// loadConfig loads workspace config and applies CLI flag overrides.
func loadConfig(ws string) (*config.Config, error) {
	cfg, err := config.Load(configPath(ws))
	if err != nil {
		return nil, err
	}
	if modelOverride != "" {
		cfg.Model.ID = modelOverride
	}
	if permissionMode != "" {
		cfg.Permissions.Mode = permissionMode
	}
	return cfg, nil
}

// openStore opens the workspace SQLite store.
func openStore(ws string, cfg *config.Config) (types.PersistentStore, error) {
	path := cfg.Storage.DatabasePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(ws, path)
	}
	return store.NewSQLiteStore(path)
}

// openSessions wires just enough for the session management commands: config,
// store, session store. No model client, no tool catalogue.
func openSessions(ws string) (*config.Config, types.PersistentStore, *session.Store, error) {
	cfg, err := loadConfig(ws)
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := openStore(ws, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, st, session.NewStore(st), nil
}

// classifierFor maps registry categories onto permission classes. Tools the
// registry does not know stay in the exec class.
func classifierFor(reg *tools.Registry) permission.Classifier {
	return func(name string) permission.ToolClass {
		tool := reg.Get(name)
		if tool == nil {
			return permission.ClassExec
		}
		switch tool.Category {
		case tools.CategoryRead:
			return permission.ClassRead
		case tools.CategoryEdit:
			return permission.ClassEdit
		case tools.CategoryAgent:
			return permission.ClassAgent
		default:
			return permission.ClassExec
		}
	}
}

// buildApp wires the full agent stack for a conversation turn.
func buildApp(ws string) (*app, error) {
	cfg, err := loadConfig(ws)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ws, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	registry := tools.NewRegistry()
	locker := tools.NewFileLocker()
	if err := toolscore.Register(registry, locker, ws); err != nil {
		st.Close()
		return nil, err
	}

	shellDir := filepath.Join(ws, ".tandem", "shells")
	shells := shell.NewManager(shell.Config{
		DefaultTimeout:  config.Duration(cfg.Shell.DefaultTimeout, 2*time.Minute),
		KillGracePeriod: config.Duration(cfg.Shell.KillGracePeriod, 5*time.Second),
		MaxLifetime:     config.Duration(cfg.Shell.MaxLifetime, time.Hour),
		SweepInterval:   config.Duration(cfg.Shell.SweepInterval, 30*time.Second),
		OutputDir:       shellDir,
	}, st)
	shells.Start()
	if err := toolshell.Register(registry, shells); err != nil {
		shells.Shutdown()
		st.Close()
		return nil, err
	}

	prompter := newTerminalPrompter()
	gate, err := permission.NewGate(cfg.Permissions, classifierFor(registry),
		permission.WithStore(st),
		permission.WithPrompter(prompter),
	)
	if err != nil {
		shells.Shutdown()
		st.Close()
		return nil, err
	}
	prompter.bind(gate)
	// Rule edits take effect without a restart; a watch failure is not
	// fatal, the loaded rules just stay fixed.
	_ = gate.WatchRules(configPath(ws))

	window := ctxwindow.NewManager(cfg.Model.ID, cfg.ContextWindow.CacheReadWeight)
	compactor := ctxwindow.NewCompactor(ctxwindow.CompactorConfig{
		PreserveHead:     cfg.ContextWindow.PreserveHead,
		PreserveTail:     cfg.ContextWindow.PreserveTail,
		LargeResultBytes: cfg.ContextWindow.LargeResultBytes,
		SpillDir:         filepath.Join(ws, ".tandem", "spill"),
	}, window.Counter())

	client, err := buildModelClient(cfg)
	if err != nil {
		gate.StopWatching()
		shells.Shutdown()
		st.Close()
		return nil, err
	}

	tracker := usage.NewTracker(st)

	loopCfg := loop.Config{
		MaxTurns:            cfg.Loop.MaxTurns,
		CompactionThreshold: cfg.ContextWindow.CompactionThreshold,
		MaxConcurrentTools:  cfg.Loop.MaxConcurrentTools,
	}

	// The sub-agent runner shares the catalogue and gate but not the
	// supervisor itself, which breaks the spawn recursion at depth one.
	runner := loop.NewAgentRunner(loop.Deps{
		Client:    client,
		Registry:  registry,
		Gate:      gate,
		Window:    window,
		Compactor: compactor,
		Usage:     tracker,
	}, loopCfg)
	agents := agent.NewSupervisor(st, runner, agent.BuiltinKinds(),
		cfg.Agents.MaxActive, config.Duration(cfg.Agents.DefaultTimeout, 30*time.Minute))
	if err := tooltask.Register(registry, agents); err != nil {
		gate.StopWatching()
		shells.Shutdown()
		st.Close()
		return nil, err
	}

	sessions := session.NewStore(st)
	mainLoop := loop.New(loop.Deps{
		Client:    client,
		Registry:  registry,
		Gate:      gate,
		Sessions:  sessions,
		Window:    window,
		Compactor: compactor,
		Shells:    shells,
		Agents:    agents,
		Usage:     tracker,
	}, loopCfg)

	return &app{
		cfg:      cfg,
		st:       st,
		sessions: sessions,
		registry: registry,
		gate:     gate,
		shells:   shells,
		agents:   agents,
		window:   window,
		usage:    tracker,
		loop:     mainLoop,
	}, nil
}

// buildModelClient stacks the transport with retry and call slotting.
func buildModelClient(cfg *config.Config) (types.ModelClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	anthCfg := llm.DefaultAnthropicConfig(apiKey, cfg.Model.ID)
	anthCfg.Timeout = config.Duration(cfg.Model.Timeout, anthCfg.Timeout)

	transport, err := llm.NewAnthropicClient(anthCfg)
	if err != nil {
		return nil, fmt.Errorf("model client unavailable (set ANTHROPIC_API_KEY): %w", err)
	}

	retrying := &llm.RetryingClient{
		Client: transport,
		Config: llm.RetryConfig{
			MaxRetries:     cfg.Model.MaxRetries,
			InitialBackoff: config.Duration(cfg.Model.RetryBaseDelay, time.Second),
			MaxBackoff:     8 * time.Second,
		},
	}
	return &llm.ScheduledClient{
		Scheduler: llm.NewScheduler(cfg.Model.MaxConcurrentCalls),
		Client:    retrying,
	}, nil
}

// close releases the app's background resources in reverse wiring order.
func (a *app) close() {
	a.agents.PauseAll()
	a.gate.StopWatching()
	a.shells.Shutdown()
	_ = a.st.Close()
}
