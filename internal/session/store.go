// Package session persists conversations and their fork/merge lineage on the
// flat key-value store. A Session is metadata plus an ordered message list;
// messages are immutable once appended and only whole-history rewrites
// (compaction) replace them.
//
// One process owns the writes for a given session id. Concurrent writers from
// multiple processes are out of scope and must be serialized by the caller.
package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tandem/internal/logging"
	"tandem/internal/store"
	"tandem/internal/types"
)

const keyPrefix = "session/"

// Session is one conversation: lineage metadata plus ordered messages.
type Session struct {
	Meta     types.SessionMetadata `json:"meta"`
	Messages []types.Message       `json:"messages"`
}

// Store owns session persistence. All mutation goes through Store methods so
// metadata counters stay consistent with the message list.
type Store struct {
	mu sync.Mutex
	st types.PersistentStore
}

// NewStore creates a session store on the given backing store.
func NewStore(st types.PersistentStore) *Store {
	return &Store{st: st}
}

// Create starts a new root session.
func (s *Store) Create(name, model string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sess := &Session{
		Meta: types.SessionMetadata{
			ID:        uuid.NewString(),
			Name:      name,
			Model:     model,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if err := s.save(sess); err != nil {
		return nil, err
	}
	logging.Session("created session %s (%s)", sess.Meta.ID, name)
	return sess, nil
}

// Get loads a session by id.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

// Append adds messages to the session and persists it. The passed session is
// updated in place so the caller's reference stays current.
func (s *Store) Append(sess *Session, msgs ...types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.Messages = append(sess.Messages, msgs...)
	return s.touch(sess)
}

// ReplaceHistory swaps the full message list, used by compaction. Metadata
// counters follow the new list.
func (s *Store) ReplaceHistory(sess *Session, msgs []types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.Messages = msgs
	return s.touch(sess)
}

// AddCost accumulates a USD cost estimate onto the session.
func (s *Store) AddCost(sess *Session, usd float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.Meta.Cost += usd
	return s.touch(sess)
}

// Rename sets the session's display name.
func (s *Store) Rename(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(id)
	if err != nil {
		return err
	}
	sess.Meta.Name = name
	return s.touch(sess)
}

// AddTag tags the session. Adding an existing tag is a no-op.
func (s *Store) AddTag(id, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(id)
	if err != nil {
		return err
	}
	if sess.Meta.HasTag(tag) {
		return nil
	}
	sess.Meta.Tags = append(sess.Meta.Tags, tag)
	sort.Strings(sess.Meta.Tags)
	return s.touch(sess)
}

// RemoveTag removes a tag if present.
func (s *Store) RemoveTag(id, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(id)
	if err != nil {
		return err
	}
	kept := sess.Meta.Tags[:0]
	for _, t := range sess.Meta.Tags {
		if t != tag {
			kept = append(kept, t)
		}
	}
	sess.Meta.Tags = kept
	return s.touch(sess)
}

// Delete removes a session and detaches it from its parent's branch list.
// Children of the deleted session keep their history but become roots.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(id)
}

func (s *Store) delete(id string) error {
	sess, err := s.load(id)
	if err != nil {
		return err
	}

	if sess.Meta.ParentID != "" {
		if parent, err := s.load(sess.Meta.ParentID); err == nil {
			parent.Meta.Branches = removeID(parent.Meta.Branches, id)
			if err := s.save(parent); err != nil {
				return err
			}
		}
	}
	for _, childID := range sess.Meta.Branches {
		if child, err := s.load(childID); err == nil {
			child.Meta.ParentID = ""
			child.Meta.ForkPoint = 0
			if err := s.save(child); err != nil {
				return err
			}
		}
	}

	if err := s.st.Delete(keyPrefix + id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	logging.Session("deleted session %s", id)
	return nil
}

// List returns all session metadata, most recently updated first.
func (s *Store) List() ([]types.SessionMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.st.List(keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	metas := make([]types.SessionMetadata, 0, len(keys))
	for _, key := range keys {
		sess, err := s.load(strings.TrimPrefix(key, keyPrefix))
		if err != nil {
			logging.Get(logging.CategorySession).Warn("skipping unreadable session %s: %v", key, err)
			continue
		}
		metas = append(metas, sess.Meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Cleanup deletes sessions idle longer than maxAge and prunes branch ids
// pointing at sessions that no longer exist. Returns the number of sessions
// deleted.
func (s *Store) Cleanup(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.st.List(keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	exists := make(map[string]bool, len(keys))
	var all []*Session
	for _, key := range keys {
		sess, err := s.load(strings.TrimPrefix(key, keyPrefix))
		if err != nil {
			continue
		}
		exists[sess.Meta.ID] = true
		all = append(all, sess)
	}

	deleted := 0
	for _, sess := range all {
		if sess.Meta.UpdatedAt.Before(cutoff) {
			if err := s.delete(sess.Meta.ID); err != nil {
				return deleted, err
			}
			exists[sess.Meta.ID] = false
			deleted++
		}
	}

	// Orphan repair: drop dangling branch references left by earlier
	// external deletions.
	for _, sess := range all {
		if !exists[sess.Meta.ID] {
			continue
		}
		kept := sess.Meta.Branches[:0]
		for _, b := range sess.Meta.Branches {
			if exists[b] {
				kept = append(kept, b)
			}
		}
		if len(kept) != len(sess.Meta.Branches) {
			sess.Meta.Branches = kept
			if err := s.save(sess); err != nil {
				return deleted, err
			}
		}
	}

	if deleted > 0 {
		logging.Session("cleanup removed %d expired sessions", deleted)
	}
	return deleted, nil
}

// touch refreshes derived metadata and persists.
func (s *Store) touch(sess *Session) error {
	sess.Meta.MessageCount = len(sess.Messages)
	sess.Meta.UpdatedAt = time.Now().UTC()
	return s.save(sess)
}

func (s *Store) save(sess *Session) error {
	if err := store.PutJSON(s.st, keyPrefix+sess.Meta.ID, sess); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.Meta.ID, err)
	}
	return nil
}

func (s *Store) load(id string) (*Session, error) {
	var sess Session
	if err := store.GetJSON(s.st, keyPrefix+id, &sess); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return &sess, nil
}

func removeID(ids []string, id string) []string {
	kept := ids[:0]
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	return kept
}
