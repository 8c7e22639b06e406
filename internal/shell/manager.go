// Package shell executes commands either to completion inline, or detached
// with a pollable output channel. Background shells mirror their output to an
// in-memory drain buffer and a durable file; the buffer empties on each
// drain, the file keeps the full history.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"tandem/internal/logging"
	"tandem/internal/store"
	"tandem/internal/types"
)

// Status is the lifecycle state of a background shell.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusKilled    Status = "killed"
	StatusTimedOut  Status = "timed_out"
)

// Config tunes the manager.
type Config struct {
	// DefaultTimeout bounds inline runs with no explicit timeout.
	DefaultTimeout time.Duration

	// KillGracePeriod is the SIGTERM-to-SIGKILL window.
	KillGracePeriod time.Duration

	// MaxLifetime is the safety ceiling for background shells; the sweep
	// force-kills anything running longer, marking it timed_out.
	MaxLifetime time.Duration

	// SweepInterval is how often the orphan sweep runs.
	SweepInterval time.Duration

	// OutputDir holds the durable output mirror files.
	OutputDir string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(outputDir string) Config {
	return Config{
		DefaultTimeout:  2 * time.Minute,
		KillGracePeriod: 5 * time.Second,
		MaxLifetime:     time.Hour,
		SweepInterval:   30 * time.Second,
		OutputDir:       outputDir,
	}
}

// RunOptions modify one Run call.
type RunOptions struct {
	Timeout    time.Duration
	Background bool
	WorkingDir string
}

// RunResult is the outcome of an inline run.
type RunResult struct {
	Output   string
	ExitCode int
	TimedOut bool
}

// Handle identifies a detached shell.
type Handle struct {
	ID             string
	OutputFilePath string
}

// Snapshot is a point-in-time view of one shell.
type Snapshot struct {
	ID             string    `json:"id"`
	Command        string    `json:"command"`
	Status         Status    `json:"status"`
	OutputFilePath string    `json:"output_file_path"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time,omitempty"`
	ExitCode       int       `json:"exit_code"`
}

// backgroundShell is the manager-internal state for one detached command.
type backgroundShell struct {
	mu sync.Mutex

	id             string
	command        string
	status         Status
	startTime      time.Time
	endTime        time.Time
	exitCode       int
	outputFilePath string

	// buf holds output not yet drained. The file keeps everything.
	buf bytes.Buffer

	cmd  *exec.Cmd
	file *os.File
	done chan struct{}
}

// Write appends process output to both the drain buffer and the mirror file.
// Output arriving after a terminal status is discarded.
func (b *backgroundShell) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status != StatusRunning {
		return len(p), nil
	}
	b.buf.Write(p)
	if b.file != nil {
		b.file.Write(p)
	}
	return len(p), nil
}

func (b *backgroundShell) snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		ID:             b.id,
		Command:        b.command,
		Status:         b.status,
		OutputFilePath: b.outputFilePath,
		StartTime:      b.startTime,
		EndTime:        b.endTime,
		ExitCode:       b.exitCode,
	}
}

// Manager owns the background shell table. One instance per session runner;
// there is no process-global shell map.
type Manager struct {
	mu     sync.RWMutex
	shells map[string]*backgroundShell
	cfg    Config
	st     types.PersistentStore

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
}

// NewManager creates a manager persisting shell records to st. Call Start to
// enable the orphan sweep and Shutdown to stop everything.
func NewManager(cfg Config, st types.PersistentStore) *Manager {
	if cfg.KillGracePeriod <= 0 {
		cfg.KillGracePeriod = 5 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 2 * time.Minute
	}
	return &Manager{
		shells: make(map[string]*backgroundShell),
		cfg:    cfg,
		st:     st,
	}
}

// Start launches the periodic orphan sweep.
func (m *Manager) Start() {
	if m.cfg.SweepInterval <= 0 || m.cfg.MaxLifetime <= 0 {
		return
	}
	m.mu.Lock()
	if m.sweepStop != nil {
		m.mu.Unlock()
		return
	}
	m.sweepStop = make(chan struct{})
	stop := m.sweepStop
	m.mu.Unlock()

	m.sweepWG.Add(1)
	go func() {
		defer m.sweepWG.Done()
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// Shutdown kills all running shells and stops the sweep.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.sweepStop != nil {
		close(m.sweepStop)
		m.sweepStop = nil
	}
	ids := make([]string, 0, len(m.shells))
	for id := range m.shells {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Kill(id)
	}
	m.sweepWG.Wait()
}

// Run executes command. Inline mode blocks until exit or timeout and returns
// a RunResult; background mode returns a Handle immediately. A command that
// cannot be spawned at all is a synchronous error in both modes.
func (m *Manager) Run(ctx context.Context, command string, opts RunOptions) (*RunResult, *Handle, error) {
	if strings.TrimSpace(command) == "" {
		return nil, nil, fmt.Errorf("command is required")
	}
	if opts.Background {
		h, err := m.runBackground(command, opts)
		return nil, h, err
	}
	res, err := m.runInline(ctx, command, opts)
	return res, nil, err
}

// runInline waits for process exit or timeout, returning combined
// stdout/stderr and exit status. Timeout triggers forced termination and a
// timed-out result, never a silent hang.
func (m *Manager) runInline(ctx context.Context, command string, opts RunOptions) (*RunResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "bash", "-c", command)
	if opts.WorkingDir != "" {
		cmd.Dir = opts.WorkingDir
	}
	cmd.Env = os.Environ()

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logging.ShellDebug("inline run: %s (timeout %v)", truncateCommand(command), timeout)

	err := cmd.Run()
	res := &RunResult{Output: out.String()}
	if execCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		logging.Shell("inline run timed out after %v: %s", timeout, truncateCommand(command))
		return res, fmt.Errorf("%w: command timed out after %v", types.ErrTimeout, timeout)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			// Nonzero exit is reported through the result, not an error:
			// the model needs to see the output either way.
			return res, nil
		}
		return nil, fmt.Errorf("failed to spawn command: %w", err)
	}
	return res, nil
}

// runBackground detaches the command and mirrors its output.
func (m *Manager) runBackground(command string, opts RunOptions) (*Handle, error) {
	id := "shell-" + uuid.NewString()[:8]

	if err := os.MkdirAll(m.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	outputPath := filepath.Join(m.cfg.OutputDir, id+".log")
	file, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	sh := &backgroundShell{
		id:             id,
		command:        command,
		status:         StatusRunning,
		startTime:      time.Now(),
		outputFilePath: outputPath,
		file:           file,
		done:           make(chan struct{}),
	}

	cmd := exec.Command("bash", "-c", command)
	if opts.WorkingDir != "" {
		cmd.Dir = opts.WorkingDir
	}
	cmd.Env = os.Environ()
	cmd.Stdout = sh
	cmd.Stderr = sh
	// Own process group so Kill reaches children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	sh.cmd = cmd

	if err := cmd.Start(); err != nil {
		file.Close()
		os.Remove(outputPath)
		return nil, fmt.Errorf("failed to spawn command: %w", err)
	}

	m.mu.Lock()
	m.shells[id] = sh
	m.mu.Unlock()
	m.persist(sh)

	logging.Shell("background shell %s started: %s", id, truncateCommand(command))

	go func() {
		err := cmd.Wait()
		m.finalize(sh, err, StatusCompleted)
	}()

	return &Handle{ID: id, OutputFilePath: outputPath}, nil
}

// finalize transitions a shell out of running exactly once. Terminal status
// wins over the natural-exit status when Kill or the sweep got there first.
func (m *Manager) finalize(sh *backgroundShell, waitErr error, natural Status) {
	sh.mu.Lock()
	if sh.status == StatusRunning {
		sh.status = natural
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			sh.exitCode = exitErr.ExitCode()
		}
	}
	sh.endTime = time.Now()
	if sh.file != nil {
		sh.file.Close()
		sh.file = nil
	}
	status := sh.status
	select {
	case <-sh.done:
	default:
		close(sh.done)
	}
	sh.mu.Unlock()

	m.persist(sh)
	logging.Shell("background shell %s finished: %s", sh.id, status)
}

// markTerminal flags a running shell with the given terminal status before
// killing it, so finalize keeps that status.
func (sh *backgroundShell) markTerminal(status Status) bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.status != StatusRunning {
		return false
	}
	sh.status = status
	return true
}

// DrainOutput returns output appended since the previous drain and clears
// the in-memory buffer. The durable file retains the full history. An
// optional regex narrows returned lines.
func (m *Manager) DrainOutput(id string, filter string) (string, error) {
	sh, err := m.get(id)
	if err != nil {
		return "", err
	}

	var re *regexp.Regexp
	if filter != "" {
		re, err = regexp.Compile(filter)
		if err != nil {
			return "", fmt.Errorf("invalid output filter: %w", err)
		}
	}

	sh.mu.Lock()
	out := sh.buf.String()
	sh.buf.Reset()
	sh.mu.Unlock()

	if re == nil || out == "" {
		return out, nil
	}

	var kept []string
	for _, line := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
		if re.MatchString(line) {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return "", nil
	}
	return strings.Join(kept, "\n") + "\n", nil
}

// Kill sends graceful-then-forceful termination and marks the shell killed.
// Idempotent once the shell has already terminated.
func (m *Manager) Kill(id string) error {
	sh, err := m.get(id)
	if err != nil {
		return err
	}
	return m.terminate(sh, StatusKilled)
}

func (m *Manager) terminate(sh *backgroundShell, status Status) error {
	if !sh.markTerminal(status) {
		return nil // already terminal
	}

	pid := sh.cmd.Process.Pid
	logging.Shell("terminating shell %s (pid %d) -> %s", sh.id, pid, status)

	// SIGTERM the process group, then escalate after the grace period.
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-sh.done:
		return nil
	case <-time.After(m.cfg.KillGracePeriod):
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	<-sh.done
	return nil
}

// sweep force-kills shells running past the safety ceiling, marking them
// timed_out so orphaned processes cannot leak.
func (m *Manager) sweep() {
	m.mu.RLock()
	var stale []*backgroundShell
	for _, sh := range m.shells {
		snap := sh.snapshot()
		if snap.Status == StatusRunning && time.Since(snap.StartTime) > m.cfg.MaxLifetime {
			stale = append(stale, sh)
		}
	}
	m.mu.RUnlock()

	for _, sh := range stale {
		logging.Shell("sweep: shell %s exceeded max lifetime, force killing", sh.id)
		_ = m.terminate(sh, StatusTimedOut)
	}
}

// Get returns a snapshot of one shell.
func (m *Manager) Get(id string) (Snapshot, error) {
	sh, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return sh.snapshot(), nil
}

// List returns snapshots of all known shells.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.shells))
	for _, sh := range m.shells {
		out = append(out, sh.snapshot())
	}
	return out
}

// Wait blocks until the shell reaches a terminal state or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Snapshot, error) {
	sh, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-sh.done:
		return sh.snapshot(), nil
	case <-ctx.Done():
		return sh.snapshot(), ctx.Err()
	}
}

func (m *Manager) get(id string) (*backgroundShell, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sh, ok := m.shells[id]
	if !ok {
		return nil, fmt.Errorf("shell not found: %s", id)
	}
	return sh, nil
}

// persist writes the shell record through the flat store, keyed by id.
func (m *Manager) persist(sh *backgroundShell) {
	if m.st == nil {
		return
	}
	snap := sh.snapshot()
	if err := store.PutJSON(m.st, "shell/"+snap.ID, snap); err != nil {
		logging.Get(logging.CategoryShell).Error("failed to persist shell %s: %v", snap.ID, err)
	}
}

func truncateCommand(command string) string {
	const maxLen = 80
	if len(command) <= maxLen {
		return command
	}
	return command[:maxLen] + "..."
}

var _ io.Writer = (*backgroundShell)(nil)
