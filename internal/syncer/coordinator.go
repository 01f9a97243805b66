package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/storysync/internal/events"
	"github.com/agentworkforce/storysync/internal/localstore"
	"github.com/agentworkforce/storysync/internal/outbox"
	"github.com/agentworkforce/storysync/internal/remote"
	"github.com/agentworkforce/storysync/internal/story"
)

type Remote interface {
	ListStories(ctx context.Context, token string) ([]story.Story, error)
	GetStory(ctx context.Context, token, id string) (story.Story, error)
	PrepareCreateStory(token string, ns story.NewStory) (remote.Request, error)
	Send(ctx context.Context, req remote.Request) (remote.Response, error)
}

type TokenSource interface {
	Token() (string, error)
}

// Deferrer keeps a prepared request for later replay.
type Deferrer interface {
	Capture(ctx context.Context, req remote.Request, description string) (outbox.Record, error)
}

type Options struct {
	Store    localstore.Store
	Remote   Remote
	Tokens   TokenSource
	Deferrer Deferrer
	Bus      *events.Bus
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Coordinator serves reads from the local cache while refreshing it in the
// background, and routes writes either to the story service or the outbox.
type Coordinator struct {
	store    localstore.Store
	remote   Remote
	tokens   TokenSource
	deferrer Deferrer
	bus      *events.Bus
	logger   zerolog.Logger
	now      func() time.Time
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Store == nil || opts.Remote == nil || opts.Tokens == nil {
		return nil, fmt.Errorf("%w: store, remote and tokens are required", story.ErrInvalidInput)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		store:    opts.Store,
		remote:   opts.Remote,
		tokens:   opts.Tokens,
		deferrer: opts.Deferrer,
		bus:      opts.Bus,
		logger:   opts.Logger,
		now:      now,
	}, nil
}

// Revalidation reports the completion of a background refresh.
type Revalidation struct {
	done chan struct{}
	err  error
}

func newRevalidation() *Revalidation {
	return &Revalidation{done: make(chan struct{})}
}

func finishedRevalidation(err error) *Revalidation {
	r := newRevalidation()
	r.finish(err)
	return r
}

func (r *Revalidation) finish(err error) {
	r.err = err
	close(r.done)
}

func (r *Revalidation) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the refresh finished and returns its outcome. Canceling
// ctx stops the wait, not the refresh.
func (r *Revalidation) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListStories renders the cached listing immediately and refreshes it from
// the story service in the background. It returns an error only when there is
// nothing to show and no credential to fetch with.
func (c *Coordinator) ListStories(ctx context.Context, sess *Session, view View) (*Revalidation, error) {
	if sess == nil {
		sess = NewSession()
	}
	if view == nil {
		view = nopView{}
	}

	cached, err := c.store.GetAll(ctx, localstore.Cache)
	if err != nil {
		c.logger.Warn().Err(err).Msg("read cached stories")
		cached = nil
	}
	if len(cached) > 0 {
		cacheServedTotal.Inc()
		sess.set(cached, SourceCache)
		view.Render(cached, SourceCache)
	} else {
		view.Loading()
	}

	token, err := c.tokens.Token()
	if err != nil {
		if len(cached) == 0 {
			return nil, err
		}
		view.Diagnostic(err)
		return finishedRevalidation(err), nil
	}

	rv := newRevalidation()
	bg := context.WithoutCancel(ctx)
	go func() {
		rv.finish(c.refresh(bg, token, sess, view))
	}()
	return rv, nil
}

// Revalidate refreshes the cache without a page view attached.
func (c *Coordinator) Revalidate(ctx context.Context) error {
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}
	return c.refresh(ctx, token, nil, nopView{})
}

func (c *Coordinator) refresh(ctx context.Context, token string, sess *Session, view View) error {
	stories, err := c.remote.ListStories(ctx, token)
	if err == nil {
		if storeErr := c.store.PutAll(ctx, localstore.Cache, stories); storeErr != nil {
			err = fmt.Errorf("replace cached stories: %w", storeErr)
		}
	}
	if err != nil {
		revalidationsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		c.logger.Warn().Err(err).Msg("story listing revalidation failed")
		view.Diagnostic(err)
		return err
	}

	revalidationsTotal.WithLabelValues("ok").Inc()
	if sess != nil {
		sess.set(stories, SourceRemote)
	}
	view.Render(stories, SourceRemote)
	if c.bus != nil {
		if err := c.bus.CacheRevalidated.Publish(ctx, events.CacheRevalidated{Count: len(stories), At: c.now().UTC()}); err != nil {
			c.logger.Debug().Err(err).Msg("publish cache revalidated")
		}
	}
	return nil
}

type SubmitStatus string

const (
	SubmitPosted   SubmitStatus = "posted"
	SubmitDeferred SubmitStatus = "deferred"
)

type SubmitResult struct {
	Status   SubmitStatus
	RecordID uuid.UUID
}

// SubmitStory posts a new story. When the story service cannot be reached the
// prepared request is handed to the outbox and the submission counts as
// deferred; an explicit rejection is returned as is.
func (c *Coordinator) SubmitStory(ctx context.Context, ns story.NewStory) (SubmitResult, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return SubmitResult{}, err
	}
	req, err := c.remote.PrepareCreateStory(token, ns)
	if err != nil {
		return SubmitResult{}, err
	}

	_, err = c.remote.Send(ctx, req)
	switch {
	case err == nil:
		submissionsTotal.WithLabelValues("posted").Inc()
		return SubmitResult{Status: SubmitPosted}, nil
	case errors.Is(err, story.ErrUnreachable) && c.deferrer != nil:
		record, captureErr := c.deferrer.Capture(ctx, req, ns.Description)
		if captureErr != nil {
			submissionsTotal.WithLabelValues("failed").Inc()
			return SubmitResult{}, fmt.Errorf("story service unreachable and the submission could not be deferred: %w", captureErr)
		}
		submissionsTotal.WithLabelValues("deferred").Inc()
		return SubmitResult{Status: SubmitDeferred, RecordID: record.ID}, nil
	default:
		submissionsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return SubmitResult{}, err
	}
}

type Detail struct {
	Story      story.Story
	Bookmarked bool
	Source     Source
}

// GetStory fetches one story, falling back to the bookmarked or cached copy
// when the story service is unreachable.
func (c *Coordinator) GetStory(ctx context.Context, id string) (Detail, error) {
	bookmarked, err := c.IsBookmarked(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	token, err := c.tokens.Token()
	if err == nil {
		var s story.Story
		s, err = c.remote.GetStory(ctx, token, id)
		if err == nil {
			return Detail{Story: s, Bookmarked: bookmarked, Source: SourceRemote}, nil
		}
		if !errors.Is(err, story.ErrUnreachable) {
			return Detail{}, err
		}
	}
	for _, collection := range []localstore.Collection{localstore.Bookmarks, localstore.Cache} {
		s, ok, lookupErr := c.store.Get(ctx, collection, id)
		if lookupErr != nil {
			return Detail{}, lookupErr
		}
		if ok {
			return Detail{Story: s, Bookmarked: bookmarked, Source: SourceCache}, nil
		}
	}
	return Detail{}, err
}

func (c *Coordinator) Bookmark(ctx context.Context, s story.Story) error {
	return c.store.Put(ctx, localstore.Bookmarks, s)
}

// BookmarkFromSession bookmarks a story of the current listing, falling back
// to the cached collection.
func (c *Coordinator) BookmarkFromSession(ctx context.Context, sess *Session, id string) (story.Story, error) {
	if sess != nil {
		if s, ok := sess.Find(id); ok {
			return s, c.Bookmark(ctx, s)
		}
	}
	s, ok, err := c.store.Get(ctx, localstore.Cache, id)
	if err != nil {
		return story.Story{}, err
	}
	if !ok {
		return story.Story{}, fmt.Errorf("%w: story %s", story.ErrNotFound, id)
	}
	return s, c.Bookmark(ctx, s)
}

func (c *Coordinator) Unbookmark(ctx context.Context, id string) error {
	return c.store.Delete(ctx, localstore.Bookmarks, id)
}

func (c *Coordinator) Bookmarks(ctx context.Context) ([]story.Story, error) {
	return c.store.GetAll(ctx, localstore.Bookmarks)
}

func (c *Coordinator) IsBookmarked(ctx context.Context, id string) (bool, error) {
	_, ok, err := c.store.Get(ctx, localstore.Bookmarks, id)
	return ok, err
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, story.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, story.ErrRejected):
		return "rejected"
	default:
		return "failed"
	}
}
