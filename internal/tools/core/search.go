package core

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"tandem/internal/tools"
	"tandem/internal/types"
)

const (
	// maxGrepMatches caps grep output so one search cannot flood the
	// context window.
	maxGrepMatches = 100

	maxGlobResults = 500
)

// skipDirs are never descended into during glob/grep walks.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".tandem":      true,
}

// GlobTool matches file paths against a glob pattern. * matches within a
// path segment, ** crosses segments.
func GlobTool(workdir string) tools.Tool {
	return tools.Tool{
		Name:        "glob",
		Description: "Find files matching a glob pattern (* within a segment, ** across segments)",
		Category:    tools.CategoryRead,
		ReadOnly:    true,
		Schema: tools.Schema{
			Required: []string{"pattern"},
			Properties: map[string]tools.Property{
				"pattern": {Type: "string", Description: "Glob pattern, e.g. internal/**/*.go"},
				"path":    {Type: "string", Description: "Directory to search; defaults to the working directory"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			pattern := tools.StringArg(args, "pattern", "")
			root := tools.StringArg(args, "path", workdir)

			re, err := globToRegexp(pattern)
			if err != nil {
				return "", fmt.Errorf("%w: invalid glob pattern: %v", types.ErrValidation, err)
			}

			var matches []string
			err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil // unreadable entries are skipped, not fatal
				}
				if d.IsDir() {
					if skipDirs[d.Name()] {
						return filepath.SkipDir
					}
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				rel, err := filepath.Rel(root, path)
				if err != nil {
					return nil
				}
				if re.MatchString(filepath.ToSlash(rel)) {
					matches = append(matches, rel)
					if len(matches) >= maxGlobResults {
						return fs.SkipAll
					}
				}
				return nil
			})
			if err != nil {
				return "", fmt.Errorf("%w: %v", types.ErrExecution, err)
			}

			if len(matches) == 0 {
				return "No files matched.", nil
			}
			sort.Strings(matches)
			return strings.Join(matches, "\n"), nil
		},
	}
}

// globToRegexp compiles a glob into an anchored regexp over slash-separated
// relative paths.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	p := filepath.ToSlash(pattern)
	for i := 0; i < len(p); i++ {
		switch {
		case strings.HasPrefix(p[i:], "**/"):
			b.WriteString(`(?:[^/]+/)*`)
			i += 2
		case strings.HasPrefix(p[i:], "**"):
			b.WriteString(`.*`)
			i++
		case p[i] == '*':
			b.WriteString(`[^/]*`)
		case p[i] == '?':
			b.WriteString(`[^/]`)
		default:
			b.WriteString(regexp.QuoteMeta(string(p[i])))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// GrepTool searches file contents with a regular expression.
func GrepTool(workdir string) tools.Tool {
	return tools.Tool{
		Name:        "grep",
		Description: "Search file contents with a regular expression, returning path, line number, and line",
		Category:    tools.CategoryRead,
		ReadOnly:    true,
		Schema: tools.Schema{
			Required: []string{"pattern"},
			Properties: map[string]tools.Property{
				"pattern": {Type: "string", Description: "Regular expression to search for"},
				"path":    {Type: "string", Description: "Directory or file to search; defaults to the working directory"},
				"glob":    {Type: "string", Description: "Only search files matching this glob"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			pattern := tools.StringArg(args, "pattern", "")
			root := tools.StringArg(args, "path", workdir)
			globFilter := tools.StringArg(args, "glob", "")

			re, err := regexp.Compile(pattern)
			if err != nil {
				return "", fmt.Errorf("%w: invalid regex: %v", types.ErrValidation, err)
			}
			var fileRe *regexp.Regexp
			if globFilter != "" {
				fileRe, err = globToRegexp(globFilter)
				if err != nil {
					return "", fmt.Errorf("%w: invalid glob filter: %v", types.ErrValidation, err)
				}
			}

			var sb strings.Builder
			matches := 0
			walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if d.IsDir() {
					if skipDirs[d.Name()] {
						return filepath.SkipDir
					}
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				rel, relErr := filepath.Rel(root, path)
				if relErr != nil {
					rel = path
				}
				if fileRe != nil && !fileRe.MatchString(filepath.ToSlash(rel)) {
					return nil
				}

				data, readErr := os.ReadFile(path)
				if readErr != nil || bytes.IndexByte(data, 0) >= 0 {
					return nil // unreadable or binary
				}
				for i, line := range strings.Split(string(data), "\n") {
					if !re.MatchString(line) {
						continue
					}
					if len(line) > maxLineLength {
						line = line[:maxLineLength] + "..."
					}
					fmt.Fprintf(&sb, "%s:%d: %s\n", rel, i+1, line)
					matches++
					if matches >= maxGrepMatches {
						return fs.SkipAll
					}
				}
				return nil
			})
			if walkErr != nil {
				return "", fmt.Errorf("%w: %v", types.ErrExecution, walkErr)
			}

			if matches == 0 {
				return "No matches found.", nil
			}
			out := sb.String()
			if matches >= maxGrepMatches {
				out += fmt.Sprintf("(truncated at %d matches)\n", maxGrepMatches)
			}
			return out, nil
		},
	}
}
