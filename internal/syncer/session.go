package syncer

import (
	"sync"

	"github.com/agentworkforce/storysync/internal/story"
)

type Source string

const (
	SourceCache  Source = "cache"
	SourceRemote Source = "remote"
)

// View is the UI boundary of a listing. Implementations must be safe to call
// from a background goroutine.
type View interface {
	Loading()
	Render(stories []story.Story, source Source)
	Diagnostic(err error)
}

type nopView struct{}

func (nopView) Loading() {}
func (nopView) Render([]story.Story, Source) {}
func (nopView) Diagnostic(error) {}

// Session holds the listing most recently rendered for one page view.
type Session struct {
	mu      sync.RWMutex
	stories []story.Story
	source  Source
}

func NewSession() *Session {
	return &Session{}
}

func (s *Session) set(stories []story.Story, source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stories = story.CloneAll(stories)
	s.source = source
}

func (s *Session) Stories() []story.Story {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return story.CloneAll(s.stories)
}

func (s *Session) Source() Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// Search filters the current listing by name or description.
func (s *Session) Search(query string) []story.Story {
	return story.Filter(s.Stories(), query)
}

func (s *Session) Find(id string) (story.Story, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.stories {
		if item.ID == id {
			return item.Clone(), true
		}
	}
	return story.Story{}, false
}
