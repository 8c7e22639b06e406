package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"tandem/internal/types"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if reg.Count() != 0 {
		t.Errorf("new registry should be empty, got %d tools", reg.Count())
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{
		Name:        "test_tool",
		Description: "A test tool",
		Category:    CategoryRead,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "success", nil
		},
	}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got := reg.Get("test_tool")
	if got == nil {
		t.Fatal("Get returned nil for registered tool")
	}
	if got.Name != "test_tool" {
		t.Errorf("got name %q, want %q", got.Name, "test_tool")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{
		Name: "dupe",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", nil
		},
	}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}

	err := reg.Register(tool)
	if !errors.Is(err, ErrToolAlreadyRegistered) {
		t.Fatalf("expected ErrToolAlreadyRegistered, got %v", err)
	}
}

func TestValidateArgsRequiredField(t *testing.T) {
	tool := &Tool{
		Name: "read_file",
		Schema: Schema{
			Required: []string{"file_path"},
			Properties: map[string]Property{
				"file_path": {Type: "string"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			t.Fatal("tool body must not run on validation failure")
			return "", nil
		},
	}

	reg := NewRegistry()
	reg.MustRegister(tool)

	res := reg.Execute(context.Background(), "read_file", map[string]any{})
	if res.Error == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(res.Error, types.ErrValidation) {
		t.Errorf("error is not ErrValidation: %v", res.Error)
	}
	// The error must name the missing field.
	if got := res.Error.Error(); !strings.Contains(got, "file_path") {
		t.Errorf("error %q does not name the missing field", got)
	}
}

func TestValidateArgsTypeChecking(t *testing.T) {
	tool := &Tool{
		Name: "typed",
		Schema: Schema{
			Properties: map[string]Property{
				"count":   {Type: "integer"},
				"enabled": {Type: "boolean"},
				"name":    {Type: "string"},
			},
		},
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"all valid", map[string]any{"count": 3, "enabled": true, "name": "x"}, false},
		{"json float as integer", map[string]any{"count": float64(3)}, false},
		{"fractional as integer", map[string]any{"count": 3.5}, true},
		{"string as boolean", map[string]any{"enabled": "yes"}, true},
		{"number as string", map[string]any{"name": 7}, true},
		{"absent optional fields", map[string]any{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgs(tool, tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExecuteToolRecoversPanic(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{
		Name: "boom",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			panic("kaboom")
		},
	})

	res := reg.Execute(context.Background(), "boom", nil)
	if res.Error == nil {
		t.Fatal("expected error from panicking tool")
	}
	if !errors.Is(res.Error, types.ErrExecution) {
		t.Errorf("panic not classified as ErrExecution: %v", res.Error)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	res := reg.Execute(context.Background(), "ghost", nil)
	if !errors.Is(res.Error, ErrToolNotFound) {
		t.Errorf("expected ErrToolNotFound, got %v", res.Error)
	}
}

func TestFileLockerSerializesAccess(t *testing.T) {
	locker := NewFileLocker()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock("/tmp/some/file.go")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50 (lost updates)", counter)
	}
}
