package syncer

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/storysync/internal/events"
	"github.com/agentworkforce/storysync/internal/localstore"
	"github.com/agentworkforce/storysync/internal/outbox"
	"github.com/agentworkforce/storysync/internal/remote"
	"github.com/agentworkforce/storysync/internal/story"
)

func TestListStoriesRendersCacheThenRemote(t *testing.T) {
	store := localstore.NewMemoryStore()
	ctx := context.Background()
	if err := store.PutAll(ctx, localstore.Cache, []story.Story{{ID: "old", Name: "Old"}}); err != nil {
		t.Fatalf("seed cache failed: %v", err)
	}
	client := &fakeRemote{listing: []story.Story{{ID: "new-1", Name: "Fresh"}, {ID: "new-2", Name: "Fresher"}}}
	bus := events.NewBus(4)
	revalidated, cancel := bus.CacheRevalidated.Subscribe()
	defer cancel()
	coordinator := newTestCoordinator(t, store, client, &fakeTokens{token: "tok"}, nil, bus)

	sess := NewSession()
	view := &recordingView{}
	rv, err := coordinator.ListStories(ctx, sess, view)
	if err != nil {
		t.Fatalf("list stories failed: %v", err)
	}
	if err := rv.Wait(ctx); err != nil {
		t.Fatalf("revalidation failed: %v", err)
	}

	renders := view.renderSnapshot()
	if len(renders) != 2 {
		t.Fatalf("expected cache render then remote render, got %d renders", len(renders))
	}
	if renders[0].source != SourceCache || renders[0].ids[0] != "old" {
		t.Fatalf("unexpected first render: %+v", renders[0])
	}
	if renders[1].source != SourceRemote || len(renders[1].ids) != 2 {
		t.Fatalf("unexpected second render: %+v", renders[1])
	}

	cached, _ := store.GetAll(ctx, localstore.Cache)
	if len(cached) != 2 || cached[0].ID != "new-1" {
		t.Fatalf("expected cache to be replaced wholesale, got %+v", cached)
	}
	if got := sess.Stories(); len(got) != 2 || sess.Source() != SourceRemote {
		t.Fatalf("expected session to hold the remote listing, got %+v", got)
	}
	select {
	case evt := <-revalidated:
		if evt.Count != 2 {
			t.Fatalf("expected count 2, got %d", evt.Count)
		}
	default:
		t.Fatalf("expected cache revalidated event")
	}
}

func TestListStoriesKeepsCacheWhenOffline(t *testing.T) {
	store := localstore.NewMemoryStore()
	ctx := context.Background()
	seed := []story.Story{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}
	if err := store.PutAll(ctx, localstore.Cache, seed); err != nil {
		t.Fatalf("seed cache failed: %v", err)
	}
	client := &fakeRemote{listErr: &story.UnreachableError{Op: "list_stories", Err: errors.New("dial tcp: connection refused")}}
	coordinator := newTestCoordinator(t, store, client, &fakeTokens{token: "tok"}, nil, nil)

	view := &recordingView{}
	rv, err := coordinator.ListStories(ctx, NewSession(), view)
	if err != nil {
		t.Fatalf("list stories failed: %v", err)
	}
	if err := rv.Wait(ctx); !errors.Is(err, story.ErrUnreachable) {
		t.Fatalf("expected unreachable revalidation, got %v", err)
	}
	if renders := view.renderSnapshot(); len(renders) != 1 || renders[0].source != SourceCache {
		t.Fatalf("expected only the cached render, got %+v", renders)
	}
	if diags := view.diagnosticSnapshot(); len(diags) != 1 {
		t.Fatalf("expected one diagnostic, got %v", diags)
	}
	cached, _ := store.GetAll(ctx, localstore.Cache)
	if len(cached) != 2 {
		t.Fatalf("expected cache untouched, got %+v", cached)
	}
}

func TestListStoriesShowsLoadingForEmptyCache(t *testing.T) {
	client := &fakeRemote{listing: []story.Story{{ID: "1"}}}
	coordinator := newTestCoordinator(t, localstore.NewMemoryStore(), client, &fakeTokens{token: "tok"}, nil, nil)

	view := &recordingView{}
	rv, err := coordinator.ListStories(context.Background(), NewSession(), view)
	if err != nil {
		t.Fatalf("list stories failed: %v", err)
	}
	if err := rv.Wait(context.Background()); err != nil {
		t.Fatalf("revalidation failed: %v", err)
	}
	if view.loadingCount() != 1 {
		t.Fatalf("expected a loading indicator")
	}
	if renders := view.renderSnapshot(); len(renders) != 1 || renders[0].source != SourceRemote {
		t.Fatalf("expected one remote render, got %+v", renders)
	}
}

func TestListStoriesWithoutTokenAndCacheFails(t *testing.T) {
	client := &fakeRemote{}
	coordinator := newTestCoordinator(t, localstore.NewMemoryStore(), client, &fakeTokens{err: story.ErrUnauthenticated}, nil, nil)
	_, err := coordinator.ListStories(context.Background(), NewSession(), &recordingView{})
	if !errors.Is(err, story.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if client.listCalls() != 0 {
		t.Fatalf("expected no remote call without a token")
	}
}

func TestListStoriesWithoutTokenKeepsCachedRender(t *testing.T) {
	store := localstore.NewMemoryStore()
	ctx := context.Background()
	_ = store.PutAll(ctx, localstore.Cache, []story.Story{{ID: "a"}})
	coordinator := newTestCoordinator(t, store, &fakeRemote{}, &fakeTokens{err: story.ErrUnauthenticated}, nil, nil)

	view := &recordingView{}
	rv, err := coordinator.ListStories(ctx, NewSession(), view)
	if err != nil {
		t.Fatalf("expected cached render without error, got %v", err)
	}
	if err := rv.Wait(ctx); !errors.Is(err, story.ErrUnauthenticated) {
		t.Fatalf("expected finished revalidation with unauthenticated, got %v", err)
	}
	if len(view.renderSnapshot()) != 1 || len(view.diagnosticSnapshot()) != 1 {
		t.Fatalf("expected one render and one diagnostic")
	}
}

func TestRevalidationSurvivesCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	client := &fakeRemote{listing: []story.Story{{ID: "late"}}, gate: release}
	store := localstore.NewMemoryStore()
	coordinator := newTestCoordinator(t, store, client, &fakeTokens{token: "tok"}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	rv, err := coordinator.ListStories(ctx, NewSession(), nil)
	if err != nil {
		t.Fatalf("list stories failed: %v", err)
	}
	cancel()
	close(release)
	if err := rv.Wait(context.Background()); err != nil {
		t.Fatalf("expected revalidation to complete after the caller left, got %v", err)
	}
	cached, _ := store.GetAll(context.Background(), localstore.Cache)
	if len(cached) != 1 || cached[0].ID != "late" {
		t.Fatalf("expected cache to hold the late listing, got %+v", cached)
	}
}

func TestSubmitStoryPostsDirectly(t *testing.T) {
	client := &fakeRemote{}
	deferrer := &fakeDeferrer{}
	coordinator := newTestCoordinator(t, localstore.NewMemoryStore(), client, &fakeTokens{token: "tok"}, deferrer, nil)

	result, err := coordinator.SubmitStory(context.Background(), story.NewStory{Description: "hello", Photo: []byte("img")})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if result.Status != SubmitPosted {
		t.Fatalf("expected posted, got %s", result.Status)
	}
	if len(deferrer.captured) != 0 {
		t.Fatalf("expected nothing deferred")
	}
}

func TestSubmitStoryDefersWhenUnreachable(t *testing.T) {
	client := &fakeRemote{sendErr: &story.UnreachableError{Op: "send", Err: errors.New("no route to host")}}
	deferrer := &fakeDeferrer{}
	coordinator := newTestCoordinator(t, localstore.NewMemoryStore(), client, &fakeTokens{token: "tok"}, deferrer, nil)

	result, err := coordinator.SubmitStory(context.Background(), story.NewStory{Description: "offline story", Photo: []byte("img")})
	if err != nil {
		t.Fatalf("expected soft success, got %v", err)
	}
	if result.Status != SubmitDeferred || result.RecordID == uuid.Nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(deferrer.captured) != 1 {
		t.Fatalf("expected one captured request, got %d", len(deferrer.captured))
	}
	captured := deferrer.captured[0]
	if string(captured.req.Body) != string(client.prepared.Body) || captured.description != "offline story" {
		t.Fatalf("expected the prepared request to be captured verbatim")
	}
}

func TestSubmitStoryReturnsRejectionWithoutDeferring(t *testing.T) {
	client := &fakeRemote{sendErr: &story.RejectedError{StatusCode: http.StatusBadRequest, Message: "\"description\" is not allowed to be empty"}}
	deferrer := &fakeDeferrer{}
	coordinator := newTestCoordinator(t, localstore.NewMemoryStore(), client, &fakeTokens{token: "tok"}, deferrer, nil)

	_, err := coordinator.SubmitStory(context.Background(), story.NewStory{Description: " ", Photo: []byte("img")})
	var rejected *story.RejectedError
	if !errors.As(err, &rejected) || rejected.Message != "\"description\" is not allowed to be empty" {
		t.Fatalf("expected server message verbatim, got %v", err)
	}
	if len(deferrer.captured) != 0 {
		t.Fatalf("rejections must not be deferred")
	}
}

func TestSubmitStoryFailsWhenCaptureFails(t *testing.T) {
	client := &fakeRemote{sendErr: &story.UnreachableError{Op: "send", Err: errors.New("offline")}}
	deferrer := &fakeDeferrer{err: outbox.ErrQueueFull}
	coordinator := newTestCoordinator(t, localstore.NewMemoryStore(), client, &fakeTokens{token: "tok"}, deferrer, nil)

	_, err := coordinator.SubmitStory(context.Background(), story.NewStory{Description: "x", Photo: []byte("img")})
	if !errors.Is(err, outbox.ErrQueueFull) {
		t.Fatalf("expected capture failure to surface, got %v", err)
	}
}

func TestSubmitStoryRequiresToken(t *testing.T) {
	coordinator := newTestCoordinator(t, localstore.NewMemoryStore(), &fakeRemote{}, &fakeTokens{err: story.ErrUnauthenticated}, &fakeDeferrer{}, nil)
	_, err := coordinator.SubmitStory(context.Background(), story.NewStory{Description: "x", Photo: []byte("img")})
	if !errors.Is(err, story.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestBookmarksAreIndependentOfCache(t *testing.T) {
	store := localstore.NewMemoryStore()
	ctx := context.Background()
	client := &fakeRemote{listing: []story.Story{{ID: "1", Name: "One"}, {ID: "2", Name: "Two"}}}
	coordinator := newTestCoordinator(t, store, client, &fakeTokens{token: "tok"}, nil, nil)

	sess := NewSession()
	rv, err := coordinator.ListStories(ctx, sess, nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if err := rv.Wait(ctx); err != nil {
		t.Fatalf("revalidation failed: %v", err)
	}
	if _, err := coordinator.BookmarkFromSession(ctx, sess, "2"); err != nil {
		t.Fatalf("bookmark failed: %v", err)
	}
	if _, err := coordinator.BookmarkFromSession(ctx, sess, "missing"); !errors.Is(err, story.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	client.setListing([]story.Story{{ID: "3", Name: "Three"}})
	if err := coordinator.Revalidate(ctx); err != nil {
		t.Fatalf("revalidate failed: %v", err)
	}

	bookmarks, err := coordinator.Bookmarks(ctx)
	if err != nil {
		t.Fatalf("bookmarks failed: %v", err)
	}
	if len(bookmarks) != 1 || bookmarks[0].ID != "2" || bookmarks[0].Name != "Two" {
		t.Fatalf("expected bookmark to survive cache replacement, got %+v", bookmarks)
	}
	ok, _ := coordinator.IsBookmarked(ctx, "2")
	if !ok {
		t.Fatalf("expected story 2 to be bookmarked")
	}
	if err := coordinator.Unbookmark(ctx, "2"); err != nil {
		t.Fatalf("unbookmark failed: %v", err)
	}
	ok, _ = coordinator.IsBookmarked(ctx, "2")
	if ok {
		t.Fatalf("expected story 2 to be removed from bookmarks")
	}
}

func TestGetStoryFallsBackToLocalCopies(t *testing.T) {
	store := localstore.NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, localstore.Bookmarks, story.Story{ID: "b1", Name: "bookmarked copy"})
	_ = store.PutAll(ctx, localstore.Cache, []story.Story{{ID: "c1", Name: "cached copy"}, {ID: "b1", Name: "cache version"}})
	client := &fakeRemote{getErr: &story.UnreachableError{Op: "get_story", Err: errors.New("offline")}}
	coordinator := newTestCoordinator(t, store, client, &fakeTokens{token: "tok"}, nil, nil)

	detail, err := coordinator.GetStory(ctx, "b1")
	if err != nil {
		t.Fatalf("get story failed: %v", err)
	}
	if detail.Story.Name != "bookmarked copy" || !detail.Bookmarked || detail.Source != SourceCache {
		t.Fatalf("expected bookmarked copy first, got %+v", detail)
	}

	detail, err = coordinator.GetStory(ctx, "c1")
	if err != nil || detail.Story.Name != "cached copy" || detail.Bookmarked {
		t.Fatalf("expected cached copy, got %+v (%v)", detail, err)
	}

	if _, err := coordinator.GetStory(ctx, "none"); !errors.Is(err, story.ErrUnreachable) {
		t.Fatalf("expected unreachable for unknown story, got %v", err)
	}
}

func TestGetStoryPrefersRemote(t *testing.T) {
	store := localstore.NewMemoryStore()
	ctx := context.Background()
	_ = store.PutAll(ctx, localstore.Cache, []story.Story{{ID: "x", Name: "stale"}})
	client := &fakeRemote{detail: story.Story{ID: "x", Name: "fresh"}}
	coordinator := newTestCoordinator(t, store, client, &fakeTokens{token: "tok"}, nil, nil)

	detail, err := coordinator.GetStory(ctx, "x")
	if err != nil {
		t.Fatalf("get story failed: %v", err)
	}
	if detail.Story.Name != "fresh" || detail.Source != SourceRemote {
		t.Fatalf("unexpected detail: %+v", detail)
	}
}

func TestSessionSearch(t *testing.T) {
	sess := NewSession()
	sess.set([]story.Story{
		{ID: "1", Name: "Dimas", Description: "Trip to Bandung"},
		{ID: "2", Name: "Ayu", Description: "Beach day"},
	}, SourceCache)
	if got := sess.Search("bandung"); len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("unexpected search result: %+v", got)
	}
	if got := sess.Search("AYU"); len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("unexpected search result: %+v", got)
	}
	if got := sess.Search(""); len(got) != 2 {
		t.Fatalf("expected empty query to keep everything")
	}
}

func newTestCoordinator(t *testing.T, store localstore.Store, client Remote, tokens TokenSource, deferrer Deferrer, bus *events.Bus) *Coordinator {
	t.Helper()
	opts := Options{Store: store, Remote: client, Tokens: tokens, Bus: bus}
	if deferrer != nil {
		opts.Deferrer = deferrer
	}
	coordinator, err := NewCoordinator(opts)
	if err != nil {
		t.Fatalf("new coordinator failed: %v", err)
	}
	return coordinator
}

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) Token() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakeRemote struct {
	mu       sync.Mutex
	listing  []story.Story
	listErr  error
	detail   story.Story
	getErr   error
	sendErr  error
	gate     chan struct{}
	lists    int
	prepared remote.Request
}

func (f *fakeRemote) ListStories(ctx context.Context, token string) ([]story.Story, error) {
	if f.gate != nil {
		<-f.gate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return story.CloneAll(f.listing), nil
}

func (f *fakeRemote) setListing(listing []story.Story) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listing = listing
}

func (f *fakeRemote) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func (f *fakeRemote) GetStory(ctx context.Context, token, id string) (story.Story, error) {
	if f.getErr != nil {
		return story.Story{}, f.getErr
	}
	return f.detail, nil
}

func (f *fakeRemote) PrepareCreateStory(token string, ns story.NewStory) (remote.Request, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	f.prepared = remote.Request{Method: http.MethodPost, URL: "https://api.test/v1/stories", Header: header, Body: append([]byte(ns.Description+":"), ns.Photo...)}
	return f.prepared, nil
}

func (f *fakeRemote) Send(ctx context.Context, req remote.Request) (remote.Response, error) {
	if f.sendErr != nil {
		return remote.Response{}, f.sendErr
	}
	return remote.Response{StatusCode: http.StatusCreated}, nil
}

type capturedRequest struct {
	req         remote.Request
	description string
}

type fakeDeferrer struct {
	captured []capturedRequest
	err      error
}

func (f *fakeDeferrer) Capture(ctx context.Context, req remote.Request, description string) (outbox.Record, error) {
	if f.err != nil {
		return outbox.Record{}, f.err
	}
	f.captured = append(f.captured, capturedRequest{req: req, description: description})
	q := outbox.NewMemoryQueue(4)
	return q.Append(ctx, outbox.Record{Method: req.Method, URL: req.URL, Header: req.Header, Body: req.Body, EnqueuedAt: time.Now(), Description: description})
}

type render struct {
	ids    []string
	source Source
}

type recordingView struct {
	mu          sync.Mutex
	loading     int
	renders     []render
	diagnostics []error
}

func (v *recordingView) Loading() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loading++
}

func (v *recordingView) Render(stories []story.Story, source Source) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, len(stories))
	for i, s := range stories {
		ids[i] = s.ID
	}
	v.renders = append(v.renders, render{ids: ids, source: source})
}

func (v *recordingView) Diagnostic(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.diagnostics = append(v.diagnostics, err)
}

func (v *recordingView) loadingCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

func (v *recordingView) renderSnapshot() []render {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]render(nil), v.renders...)
}

func (v *recordingView) diagnosticSnapshot() []error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]error(nil), v.diagnostics...)
}
