// Package core provides the file and search tool catalogue: read, write,
// edit, glob, and grep. Mutating tools hold the per-file advisory lock for
// the duration of one operation so concurrent tool calls in the same turn
// cannot corrupt a file.
package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tandem/internal/diff"
	"tandem/internal/logging"
	"tandem/internal/tools"
	"tandem/internal/types"
)

const (
	// defaultReadLimit bounds file_read output when no limit is given.
	defaultReadLimit = 2000

	// maxLineLength truncates pathological single lines.
	maxLineLength = 2000
)

// FileReadTool reads a file, optionally windowed by offset/limit lines.
func FileReadTool() tools.Tool {
	return tools.Tool{
		Name:        "file_read",
		Description: "Read a file from the filesystem, optionally starting at a line offset with a line limit",
		Category:    tools.CategoryRead,
		ReadOnly:    true,
		Schema: tools.Schema{
			Required: []string{"file_path"},
			Properties: map[string]tools.Property{
				"file_path": {Type: "string", Description: "Absolute path of the file to read"},
				"offset":    {Type: "integer", Description: "1-based line number to start from"},
				"limit":     {Type: "integer", Description: "Maximum number of lines to return"},
			},
		},
		Execute: executeFileRead,
	}
}

func executeFileRead(_ context.Context, args map[string]any) (string, error) {
	path := tools.StringArg(args, "file_path", "")
	offset := tools.IntArg(args, "offset", 1)
	limit := tools.IntArg(args, "limit", defaultReadLimit)
	if offset < 1 {
		offset = 1
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrExecution, err)
	}

	lines := strings.Split(string(data), "\n")
	if offset > len(lines) {
		return "", fmt.Errorf("%w: offset %d past end of file (%d lines)", types.ErrValidation, offset, len(lines))
	}
	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var sb strings.Builder
	for i := offset - 1; i < end; i++ {
		line := lines[i]
		if len(line) > maxLineLength {
			line = line[:maxLineLength] + "..."
		}
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, line)
	}
	if end < len(lines) {
		fmt.Fprintf(&sb, "... (%d more lines)\n", len(lines)-end)
	}
	return sb.String(), nil
}

// FileWriteTool overwrites or creates a file atomically.
func FileWriteTool(locker *tools.FileLocker) tools.Tool {
	return tools.Tool{
		Name:        "file_write",
		Description: "Write content to a file, creating it and any parent directories if needed",
		Category:    tools.CategoryEdit,
		Schema: tools.Schema{
			Required: []string{"file_path", "content"},
			Properties: map[string]tools.Property{
				"file_path": {Type: "string", Description: "Absolute path of the file to write"},
				"content":   {Type: "string", Description: "Full content to write"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			path := tools.StringArg(args, "file_path", "")
			content := tools.StringArg(args, "content", "")

			unlock := locker.Lock(path)
			defer unlock()

			// Best effort: an unreadable target just means no diff.
			previous, _ := os.ReadFile(path)

			if err := writeFileAtomic(path, []byte(content)); err != nil {
				return "", fmt.Errorf("%w: %v", types.ErrExecution, err)
			}
			stats := diff.Compute(string(previous), content)
			logging.Tools("wrote %d bytes to %s (%s)", len(content), path, stats)
			return fmt.Sprintf("Wrote %d bytes to %s (%s)", len(content), path, stats), nil
		},
	}
}

// FileEditTool replaces an exact string in a file. The old string must match
// exactly once unless replace_all is set.
func FileEditTool(locker *tools.FileLocker) tools.Tool {
	return tools.Tool{
		Name:        "file_edit",
		Description: "Replace an exact string in a file; old_string must be unique unless replace_all is set",
		Category:    tools.CategoryEdit,
		Schema: tools.Schema{
			Required: []string{"file_path", "old_string", "new_string"},
			Properties: map[string]tools.Property{
				"file_path":   {Type: "string", Description: "Absolute path of the file to edit"},
				"old_string":  {Type: "string", Description: "Exact text to replace"},
				"new_string":  {Type: "string", Description: "Replacement text"},
				"replace_all": {Type: "boolean", Description: "Replace every occurrence", Default: false},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			path := tools.StringArg(args, "file_path", "")
			oldStr := tools.StringArg(args, "old_string", "")
			newStr := tools.StringArg(args, "new_string", "")
			replaceAll := tools.BoolArg(args, "replace_all", false)

			if oldStr == "" {
				return "", fmt.Errorf("%w: old_string is empty", types.ErrValidation)
			}
			if oldStr == newStr {
				return "", fmt.Errorf("%w: old_string and new_string are identical", types.ErrValidation)
			}

			unlock := locker.Lock(path)
			defer unlock()

			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("%w: %v", types.ErrExecution, err)
			}
			content := string(data)

			count := strings.Count(content, oldStr)
			switch {
			case count == 0:
				return "", fmt.Errorf("%w: old_string not found in %s", types.ErrExecution, path)
			case count > 1 && !replaceAll:
				return "", fmt.Errorf("%w: old_string appears %d times in %s; provide more context or set replace_all",
					types.ErrExecution, count, path)
			}

			var edited string
			if replaceAll {
				edited = strings.ReplaceAll(content, oldStr, newStr)
			} else {
				edited = strings.Replace(content, oldStr, newStr, 1)
			}
			if err := writeFileAtomic(path, []byte(edited)); err != nil {
				return "", fmt.Errorf("%w: %v", types.ErrExecution, err)
			}

			replaced := 1
			if replaceAll {
				replaced = count
			}
			logging.Tools("edited %s (%d replacement(s))", path, replaced)

			out := fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, path)
			if unified := diff.Unified(path, content, edited); unified != "" {
				out += "\n\n" + unified
			}
			return out, nil
		},
	}
}

// writeFileAtomic writes via a temp file and rename so a crash mid-write
// never leaves a torn file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tandem-write-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
