package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeWithoutConfigIsNoop(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// No config means production mode: logging must not create the dir.
	Session("this should go nowhere")
	if _, err := os.Stat(filepath.Join(ws, ".tandem", "logs")); !os.IsNotExist(err) {
		t.Error("logs directory created in production mode")
	}
}

func TestDebugModeWritesCategoryFile(t *testing.T) {
	ws := t.TempDir()
	cfgDir := filepath.Join(ws, ".tandem")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := "logging:\n  debug_mode: true\n  level: debug\n"
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Tools("registered tool: %s", "read_file")
	Sync()

	data, err := os.ReadFile(filepath.Join(cfgDir, "logs", "tools.log"))
	if err != nil {
		t.Fatalf("tools.log not written: %v", err)
	}
	if len(data) == 0 {
		t.Error("tools.log is empty")
	}
}

func TestTimerStopDoesNotPanic(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws); err != nil {
		t.Fatal(err)
	}
	timer := StartTimer(CategoryStore, "test-op")
	timer.Stop()
}
