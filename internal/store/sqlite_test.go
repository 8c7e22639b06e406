package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tandem/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	for name, s := range map[string]types.PersistentStore{
		"sqlite": newTestStore(t),
		"memory": NewMemoryStore(),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put("session/abc", []byte(`{"id":"abc"}`)))

			got, err := s.Get("session/abc")
			require.NoError(t, err)
			assert.Equal(t, []byte(`{"id":"abc"}`), got)

			// Overwrite replaces the value.
			require.NoError(t, s.Put("session/abc", []byte(`{"id":"abc","name":"x"}`)))
			got, err = s.Get("session/abc")
			require.NoError(t, err)
			assert.Contains(t, string(got), "name")
		})
	}
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListPrefix(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put("agent/1", []byte("a")))
	require.NoError(t, s.Put("agent/2", []byte("b")))
	require.NoError(t, s.Put("shell/1", []byte("c")))

	keys, err := s.List("agent/")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent/1", "agent/2"}, keys)

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put("k", []byte("v")))
	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Delete("k"))

	_, err := s.Get("k")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestJSONHelpers(t *testing.T) {
	s := NewMemoryStore()

	type rec struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}
	require.NoError(t, PutJSON(s, "r/1", rec{ID: "1", Count: 7}))

	var got rec
	require.NoError(t, GetJSON(s, "r/1", &got))
	assert.Equal(t, rec{ID: "1", Count: 7}, got)
}
