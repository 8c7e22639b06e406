// Package diff renders unified diffs for file mutations. The edit tools
// attach these to their results so the model can verify exactly what changed.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const contextLines = 3

var dmp = func() *diffmatchpatch.DiffMatchPatch {
	d := diffmatchpatch.New()
	d.DiffTimeout = 0
	return d
}()

// Stats summarizes a change as added/removed line counts.
type Stats struct {
	Added   int
	Removed int
}

func (s Stats) String() string {
	return fmt.Sprintf("+%d -%d", s.Added, s.Removed)
}

// line is one row of the rendered diff.
type line struct {
	op   byte // ' ', '+', '-'
	text string
}

// Compute returns the line-level changes between two file versions.
func Compute(oldContent, newContent string) Stats {
	stats, _ := diffLines(oldContent, newContent)
	return stats
}

// Unified renders a unified diff with a conventional header. Identical inputs
// produce an empty string.
func Unified(path, oldContent, newContent string) string {
	stats, lines := diffLines(oldContent, newContent)
	if stats.Added == 0 && stats.Removed == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", path, path)
	writeHunks(&sb, lines)
	return sb.String()
}

// diffLines runs a line-mode diff and flattens it to op-tagged lines.
func diffLines(oldContent, newContent string) (Stats, []line) {
	a, b, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var stats Stats
	var lines []line
	for _, d := range diffs {
		var op byte
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = '+'
		case diffmatchpatch.DiffDelete:
			op = '-'
		default:
			op = ' '
		}
		for _, text := range splitKeepNonEmpty(d.Text) {
			lines = append(lines, line{op: op, text: text})
			switch op {
			case '+':
				stats.Added++
			case '-':
				stats.Removed++
			}
		}
	}
	return stats, lines
}

// writeHunks emits changed regions with surrounding context, eliding long
// unchanged stretches.
func writeHunks(sb *strings.Builder, lines []line) {
	// Mark lines within contextLines of a change.
	keep := make([]bool, len(lines))
	for i, l := range lines {
		if l.op == ' ' {
			continue
		}
		lo := i - contextLines
		if lo < 0 {
			lo = 0
		}
		hi := i + contextLines
		if hi >= len(lines) {
			hi = len(lines) - 1
		}
		for j := lo; j <= hi; j++ {
			keep[j] = true
		}
	}

	elided := false
	for i, l := range lines {
		if !keep[i] {
			if !elided {
				sb.WriteString("...\n")
				elided = true
			}
			continue
		}
		elided = false
		sb.WriteByte(l.op)
		sb.WriteString(l.text)
		sb.WriteByte('\n')
	}
}

func splitKeepNonEmpty(text string) []string {
	parts := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(parts) == 1 && parts[0] == "" {
		return nil
	}
	return parts
}
