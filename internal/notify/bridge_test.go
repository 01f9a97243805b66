package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/storysync/internal/events"
	"github.com/agentworkforce/storysync/internal/story"
)

type recordingDisplayer struct {
	mu    sync.Mutex
	shown []Notification
	err   error
}

func (d *recordingDisplayer) Display(_ context.Context, n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.shown = append(d.shown, n)
	return nil
}

func (d *recordingDisplayer) snapshot() []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Notification(nil), d.shown...)
}

type recordingNavigator struct {
	routes []string
}

func (n *recordingNavigator) Navigate(_ context.Context, route string) error {
	n.routes = append(n.routes, route)
	return nil
}

func newTestBridge(t *testing.T, bus *events.Bus) (*Bridge, *recordingDisplayer, *recordingNavigator) {
	t.Helper()
	displayer := &recordingDisplayer{}
	navigator := &recordingNavigator{}
	bridge, err := NewBridge(BridgeOptions{
		Displayer: displayer,
		Navigator: navigator,
		Bus:       bus,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return bridge, displayer, navigator
}

func TestNewBridgeRequiresDisplayer(t *testing.T) {
	_, err := NewBridge(BridgeOptions{})
	require.ErrorIs(t, err, story.ErrInvalidInput)
}

func TestFromPushMergesStructuredPayload(t *testing.T) {
	bridge, _, _ := newTestBridge(t, nil)

	n := bridge.FromPush([]byte(`{"title":"X","options":{"body":"Y","storyId":"42"}}`))

	require.Equal(t, "X", n.Title)
	require.Equal(t, "Y", n.Body)
	require.Equal(t, "story/42", n.TargetRoute)
	require.Equal(t, OriginPush, n.Origin)
	require.Equal(t, DefaultIcon, n.Icon)
	require.Equal(t, DefaultBadge, n.Badge)
	require.Equal(t, defaultActions(), n.Actions)
}

func TestFromPushEmptyPayloadUsesDefaults(t *testing.T) {
	bridge, _, _ := newTestBridge(t, nil)

	n := bridge.FromPush(nil)

	require.Equal(t, DefaultTitle, n.Title)
	require.Equal(t, DefaultBody, n.Body)
	require.Equal(t, RouteHome, n.TargetRoute)
	require.Len(t, n.Actions, 2)
}

func TestFromPushPlainTextBecomesBody(t *testing.T) {
	bridge, _, _ := newTestBridge(t, nil)

	n := bridge.FromPush([]byte("  a new story was posted nearby \n"))

	require.Equal(t, DefaultTitle, n.Title)
	require.Equal(t, "a new story was posted nearby", n.Body)
	require.Equal(t, RouteHome, n.TargetRoute)
}

func TestFromPushSchemaMismatchFallsBackToText(t *testing.T) {
	bridge, _, _ := newTestBridge(t, nil)

	payload := `{"title":7}`
	n := bridge.FromPush([]byte(payload))

	require.Equal(t, DefaultTitle, n.Title)
	require.Equal(t, payload, n.Body)
}

func TestFromPushCarriesExtraOptionsAndNumericStoryID(t *testing.T) {
	bridge, _, _ := newTestBridge(t, nil)

	n := bridge.FromPush([]byte(`{
		"title": "Nearby",
		"storyId": 420,
		"options": {
			"tag": "nearby",
			"vibrate": [100, 50],
			"actions": [{"action": "like"}],
			"data": {"source": "geo"}
		}
	}`))

	require.Equal(t, "story/420", n.TargetRoute)
	require.Equal(t, "nearby", n.Tag)
	require.Equal(t, []Action{{Action: "like", Title: "like"}}, n.Actions)
	require.Contains(t, n.Extra, "vibrate")
	require.Equal(t, map[string]any{"source": "geo"}, n.Extra["data"])
}

func TestFromPushStoryIDFromData(t *testing.T) {
	bridge, _, _ := newTestBridge(t, nil)

	n := bridge.FromPush([]byte(`{"options":{"data":{"storyId":"story-abc"}}}`))

	require.Equal(t, "story/story-abc", n.TargetRoute)
}

func TestFromReplayUsesExcerpt(t *testing.T) {
	bridge, _, _ := newTestBridge(t, nil)
	id := uuid.New()

	n := bridge.FromReplay(events.ReplaySucceeded{RecordID: id, Description: "a walk along the river at dusk"})

	require.Equal(t, "Story uploaded", n.Title)
	require.Equal(t, "Your story \"a walk along the riv…\" has been posted.", n.Body)
	require.Equal(t, "replay-"+id.String(), n.Tag)
	require.Equal(t, RouteHome, n.TargetRoute)
	require.Equal(t, OriginReplay, n.Origin)
}

func TestFromRejectionIncludesServerMessage(t *testing.T) {
	bridge, _, _ := newTestBridge(t, nil)

	n := bridge.FromRejection(events.ReplayRejected{RecordID: uuid.New(), Description: "short", StatusCode: 413, Message: "Payload too large"})

	require.Equal(t, "Story not posted", n.Title)
	require.Equal(t, "Your story \"short…\" could not be posted. Payload too large", n.Body)
}

func TestTapRoutes(t *testing.T) {
	bridge, _, navigator := newTestBridge(t, nil)
	ctx := context.Background()
	n := Notification{TargetRoute: StoryRoute("42")}

	route, err := bridge.Tap(ctx, n, ActionViewStory)
	require.NoError(t, err)
	require.Equal(t, "story/42", route)

	route, err = bridge.Tap(ctx, n, ActionOpenHome)
	require.NoError(t, err)
	require.Equal(t, RouteHome, route)

	route, err = bridge.Tap(ctx, Notification{}, "")
	require.NoError(t, err)
	require.Equal(t, RouteHome, route)

	require.Equal(t, []string{"story/42", RouteHome, RouteHome}, navigator.routes)
}

func TestRunDisplaysReplayAndPush(t *testing.T) {
	bus := events.NewBus(events.DefaultBuffer)
	bridge, displayer, _ := newTestBridge(t, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	push := make(chan []byte, 1)
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx, push) }()

	require.Eventually(t, func() bool {
		return bus.ReplaySucceeded.Subscribers() == 1 && bus.ReplayRejected.Subscribers() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.ReplaySucceeded.Publish(ctx, events.ReplaySucceeded{RecordID: uuid.New(), Description: "hello"}))
	require.Eventually(t, func() bool { return len(displayer.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	push <- []byte(`{"title":"Ping"}`)
	require.Eventually(t, func() bool { return len(displayer.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	shown := displayer.snapshot()
	require.Equal(t, OriginReplay, shown[0].Origin)
	require.Equal(t, "Ping", shown[1].Title)

	cancel()
	require.NoError(t, <-done)
}

func TestSubscribeBuffersOutcomesBeforeConsume(t *testing.T) {
	bus := events.NewBus(events.DefaultBuffer)
	bridge, displayer, _ := newTestBridge(t, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outcomes := bridge.Subscribe()
	defer outcomes.Close()
	require.NoError(t, bus.ReplaySucceeded.Publish(ctx, events.ReplaySucceeded{RecordID: uuid.New(), Description: "early"}))

	done := make(chan error, 1)
	go func() { done <- bridge.Consume(ctx, outcomes, nil) }()
	require.Eventually(t, func() bool { return len(displayer.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "Story uploaded", displayer.snapshot()[0].Title)

	cancel()
	require.NoError(t, <-done)
}

func TestDisplayWhileShowsMoreOutcomesThanTheBuffer(t *testing.T) {
	bus := events.NewBus(events.DefaultBuffer)
	bridge, displayer, _ := newTestBridge(t, bus)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	total := events.DefaultBuffer*2 + 3
	err := bridge.DisplayWhile(ctx, func() error {
		for i := 0; i < total; i++ {
			if err := bus.ReplaySucceeded.Publish(ctx, events.ReplaySucceeded{RecordID: uuid.New(), Description: "story"}); err != nil {
				return err
			}
		}
		return bus.ReplayRejected.Publish(ctx, events.ReplayRejected{RecordID: uuid.New(), Description: "bad", Message: "photo too large"})
	})
	require.NoError(t, err)

	titles := map[string]int{}
	for _, n := range displayer.snapshot() {
		titles[n.Title]++
	}
	require.Equal(t, map[string]int{"Story uploaded": total, "Story not posted": 1}, titles)
	require.Zero(t, bus.ReplaySucceeded.Subscribers())
}

func TestDisplayWhileReturnsFnError(t *testing.T) {
	bridge, displayer, _ := newTestBridge(t, nil)
	err := bridge.DisplayWhile(context.Background(), func() error { return errors.New("pass failed") })
	require.EqualError(t, err, "pass failed")
	require.Empty(t, displayer.snapshot())
}

func TestDisplayPropagatesErrors(t *testing.T) {
	bridge, displayer, _ := newTestBridge(t, nil)
	displayer.err = errors.New("no display")

	err := bridge.Display(context.Background(), Notification{Origin: OriginPush})
	require.EqualError(t, err, "no display")
}
