package localstore

import (
	"context"
	"fmt"

	"github.com/agentworkforce/storysync/internal/story"
)

type Collection string

const (
	Cache     Collection = "cache"
	Bookmarks Collection = "bookmarks"
)

func (c Collection) Valid() bool {
	return c == Cache || c == Bookmarks
}

// Store is the on-device copy of server entities. Every operation is keyed by
// story ID and safe to retry. PutAll replaces a collection atomically:
// concurrent readers see either the old or the new contents.
type Store interface {
	GetAll(ctx context.Context, c Collection) ([]story.Story, error)
	Get(ctx context.Context, c Collection, id string) (story.Story, bool, error)
	Put(ctx context.Context, c Collection, s story.Story) error
	PutAll(ctx context.Context, c Collection, stories []story.Story) error
	Delete(ctx context.Context, c Collection, id string) error
	Clear(ctx context.Context, c Collection) error
	Close() error
}

func checkCollection(c Collection) error {
	if !c.Valid() {
		return fmt.Errorf("%w: collection %q", story.ErrInvalidInput, c)
	}
	return nil
}

// normalizeAll validates a replacement set and collapses repeated ids: the
// last value wins and keeps the position of the first occurrence.
func normalizeAll(stories []story.Story) ([]story.Story, error) {
	index := make(map[string]int, len(stories))
	out := make([]story.Story, 0, len(stories))
	for i, s := range stories {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("story %d: %w", i, err)
		}
		if at, ok := index[s.ID]; ok {
			out[at] = s
			continue
		}
		index[s.ID] = len(out)
		out = append(out, s)
	}
	return out, nil
}

// snapshot is the in-process representation shared by the memory and file
// backends. Each collection is kept as an ordered slice.
type snapshot map[Collection][]story.Story

func (s snapshot) clone() snapshot {
	out := make(snapshot, len(s))
	for c, items := range s {
		out[c] = story.CloneAll(items)
	}
	return out
}

func (s snapshot) get(c Collection, id string) (story.Story, bool) {
	for _, item := range s[c] {
		if item.ID == id {
			return item.Clone(), true
		}
	}
	return story.Story{}, false
}

func (s snapshot) put(c Collection, item story.Story) {
	items := s[c]
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item.Clone()
			return
		}
	}
	s[c] = append(items, item.Clone())
}

func (s snapshot) delete(c Collection, id string) bool {
	items := s[c]
	for i := range items {
		if items[i].ID == id {
			s[c] = append(items[:i:i], items[i+1:]...)
			return true
		}
	}
	return false
}
