package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeCountsChangedLines(t *testing.T) {
	oldContent := "one\ntwo\nthree\n"
	newContent := "one\n2\nthree\nfour\n"

	stats := Compute(oldContent, newContent)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, "+2 -1", stats.String())
}

func TestUnifiedIdenticalIsEmpty(t *testing.T) {
	assert.Empty(t, Unified("a.go", "same\n", "same\n"))
}

func TestUnifiedRendersHeaderAndOps(t *testing.T) {
	out := Unified("main.go", "alpha\nbeta\ngamma\n", "alpha\nBETA\ngamma\n")

	assert.True(t, strings.HasPrefix(out, "--- a/main.go\n+++ b/main.go\n"))
	assert.Contains(t, out, "-beta")
	assert.Contains(t, out, "+BETA")
	assert.Contains(t, out, " alpha")
}

func TestUnifiedElidesFarContext(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 30; i++ {
		sb.WriteString("line\n")
	}
	oldContent := sb.String() + "old tail\n"
	newContent := sb.String() + "new tail\n"

	out := Unified("f.txt", oldContent, newContent)
	assert.Contains(t, out, "...")
	// Only the context window around the change survives.
	assert.Less(t, strings.Count(out, "line"), 10)
}

func TestUnifiedNewFile(t *testing.T) {
	out := Unified("new.txt", "", "hello\nworld\n")
	assert.Contains(t, out, "+hello")
	assert.Contains(t, out, "+world")

	stats := Compute("", "hello\nworld\n")
	assert.Equal(t, Stats{Added: 2}, stats)
}
