package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"tandem/internal/logging"
	"tandem/internal/types"
)

// MergeStrategy selects how two histories combine.
type MergeStrategy string

const (
	// MergeAppend places the source history after the destination's.
	MergeAppend MergeStrategy = "append"

	// MergeInterleave orders the combined history by message timestamp.
	// Messages within each source keep their relative order.
	MergeInterleave MergeStrategy = "interleave"
)

// Fork creates a new session sharing the parent's history up to and
// including message index at. The child records its parent and fork point;
// the parent records the new branch.
func (s *Store) Fork(parentID string, at int) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, err := s.load(parentID)
	if err != nil {
		return nil, err
	}
	if at < 0 || at >= len(parent.Messages) {
		return nil, fmt.Errorf("%w: index %d, parent has %d messages",
			ErrInvalidForkPoint, at, len(parent.Messages))
	}

	now := time.Now().UTC()
	child := &Session{
		Meta: types.SessionMetadata{
			ID:        uuid.NewString(),
			Name:      parent.Meta.Name + " (fork)",
			Model:     parent.Meta.Model,
			Tags:      append([]string(nil), parent.Meta.Tags...),
			CreatedAt: now,
			UpdatedAt: now,
			ParentID:  parent.Meta.ID,
			ForkPoint: at,
		},
		Messages: cloneMessages(parent.Messages[:at+1]),
	}
	child.Meta.MessageCount = len(child.Messages)

	if err := s.save(child); err != nil {
		return nil, err
	}
	parent.Meta.Branches = append(parent.Meta.Branches, child.Meta.ID)
	if err := s.save(parent); err != nil {
		return nil, err
	}

	logging.Session("forked session %s at message %d -> %s", parentID, at, child.Meta.ID)
	return child, nil
}

// Merge combines the source session's history into the destination and
// records the lineage in mergedFrom. The source session is left untouched.
func (s *Store) Merge(dstID, srcID string, strategy MergeStrategy) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dstID == srcID {
		return nil, ErrMergeSelf
	}
	dst, err := s.load(dstID)
	if err != nil {
		return nil, err
	}
	src, err := s.load(srcID)
	if err != nil {
		return nil, err
	}

	merged := append(cloneMessages(dst.Messages), cloneMessages(src.Messages)...)
	if strategy == MergeInterleave {
		// Stable sort: each source's internal order survives timestamp
		// ties.
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Timestamp.Before(merged[j].Timestamp)
		})
	}

	dst.Messages = merged
	dst.Meta.MergedFrom = append(dst.Meta.MergedFrom, srcID)
	if err := s.touch(dst); err != nil {
		return nil, err
	}

	logging.Session("merged session %s into %s (%s, %d messages)",
		srcID, dstID, strategy, len(merged))
	return dst, nil
}

func cloneMessages(msgs []types.Message) []types.Message {
	out := make([]types.Message, len(msgs))
	for i, m := range msgs {
		m.Content = append([]types.ContentBlock(nil), m.Content...)
		out[i] = m
	}
	return out
}
