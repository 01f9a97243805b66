package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/storysync/internal/events"
	"github.com/agentworkforce/storysync/internal/story"
)

const replayExcerptRunes = 20

var displayedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "storysync",
		Subsystem: "notify",
		Name:      "displayed_total",
		Help:      "Notifications handed to the displayer, by origin.",
	},
	[]string{"origin"},
)

type Defaults struct {
	Title string
	Body  string
	Icon  string
	Badge string
}

type BridgeOptions struct {
	Displayer Displayer
	Navigator Navigator
	Bus       *events.Bus
	Defaults  Defaults
	Logger    zerolog.Logger
}

// Bridge merges replay confirmations and server push messages into one
// notification surface and routes taps back into the app.
type Bridge struct {
	displayer Displayer
	navigator Navigator
	bus       *events.Bus
	defaults  Defaults
	schema    *jsonschema.Schema
	logger    zerolog.Logger
}

func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Displayer == nil {
		return nil, fmt.Errorf("%w: displayer is required", story.ErrInvalidInput)
	}
	schema, err := compilePushSchema()
	if err != nil {
		return nil, fmt.Errorf("compile push payload schema: %w", err)
	}
	defaults := opts.Defaults
	if defaults.Title == "" {
		defaults.Title = DefaultTitle
	}
	if defaults.Body == "" {
		defaults.Body = DefaultBody
	}
	if defaults.Icon == "" {
		defaults.Icon = DefaultIcon
	}
	if defaults.Badge == "" {
		defaults.Badge = DefaultBadge
	}
	return &Bridge{
		displayer: opts.Displayer,
		navigator: opts.Navigator,
		bus:       opts.Bus,
		defaults:  defaults,
		schema:    schema,
		logger:    opts.Logger,
	}, nil
}

// FromReplay builds the confirmation shown after a deferred story reached
// the story service.
func (b *Bridge) FromReplay(evt events.ReplaySucceeded) Notification {
	return Notification{
		Title:       "Story uploaded",
		Body:        fmt.Sprintf("Your story \"%s\" has been posted.", excerpt(evt.Description)),
		Icon:        b.defaults.Icon,
		Badge:       b.defaults.Badge,
		Tag:         "replay-" + evt.RecordID.String(),
		Actions:     []Action{{Action: ActionOpenHome, Title: "See all stories"}},
		TargetRoute: RouteHome,
		Origin:      OriginReplay,
	}
}

func (b *Bridge) FromRejection(evt events.ReplayRejected) Notification {
	body := fmt.Sprintf("Your story \"%s\" could not be posted.", excerpt(evt.Description))
	if msg := strings.TrimSpace(evt.Message); msg != "" {
		body += " " + msg
	}
	return Notification{
		Title:       "Story not posted",
		Body:        body,
		Icon:        b.defaults.Icon,
		Badge:       b.defaults.Badge,
		Tag:         "replay-" + evt.RecordID.String(),
		Actions:     []Action{{Action: ActionOpenHome, Title: "See all stories"}},
		TargetRoute: RouteHome,
		Origin:      OriginReplay,
	}
}

func excerpt(description string) string {
	runes := []rune(description)
	if len(runes) > replayExcerptRunes {
		runes = runes[:replayExcerptRunes]
	}
	return string(runes) + "…"
}

func (b *Bridge) Display(ctx context.Context, n Notification) error {
	if err := b.displayer.Display(ctx, n); err != nil {
		return err
	}
	displayedTotal.WithLabelValues(n.Origin).Inc()
	return nil
}

// ResolveTap maps a tapped action to an app route.
func ResolveTap(n Notification, action string) string {
	switch action {
	case ActionOpenHome:
		return RouteHome
	}
	if n.TargetRoute == "" {
		return RouteHome
	}
	return n.TargetRoute
}

func (b *Bridge) Tap(ctx context.Context, n Notification, action string) (string, error) {
	route := ResolveTap(n, action)
	if b.navigator == nil {
		return route, nil
	}
	return route, b.navigator.Navigate(ctx, route)
}

// Outcomes is a live subscription to replay outcomes on the bus. Subscribing
// before a replay pass starts guarantees none of its outcomes is missed.
type Outcomes struct {
	succeeded <-chan events.ReplaySucceeded
	rejected  <-chan events.ReplayRejected
	cancels   []func()
}

// Subscribe starts buffering replay outcomes. Without a bus the
// subscription never yields anything.
func (b *Bridge) Subscribe() *Outcomes {
	o := &Outcomes{}
	if b.bus == nil {
		return o
	}
	succeeded, cancelSucceeded := b.bus.ReplaySucceeded.Subscribe()
	rejected, cancelRejected := b.bus.ReplayRejected.Subscribe()
	o.succeeded, o.rejected = succeeded, rejected
	o.cancels = []func(){cancelSucceeded, cancelRejected}
	return o
}

func (o *Outcomes) Close() {
	for _, cancel := range o.cancels {
		cancel()
	}
}

// Run displays replay outcomes from the bus and every message read from
// push until ctx is done.
func (b *Bridge) Run(ctx context.Context, push <-chan []byte) error {
	o := b.Subscribe()
	defer o.Close()
	return b.Consume(ctx, o, push)
}

// Consume displays outcomes from an existing subscription and messages from
// push until ctx is done.
func (b *Bridge) Consume(ctx context.Context, o *Outcomes, push <-chan []byte) error {
	b.consume(ctx, o, push, nil)
	return nil
}

// DisplayWhile displays the replay outcomes published while fn runs,
// including those still buffered when it returns, and returns fn's error.
func (b *Bridge) DisplayWhile(ctx context.Context, fn func() error) error {
	o := b.Subscribe()
	defer o.Close()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.consume(ctx, o, nil, stop)
	}()
	err := fn()
	close(stop)
	<-done
	return err
}

func (b *Bridge) consume(ctx context.Context, o *Outcomes, push <-chan []byte, stop <-chan struct{}) {
	succeeded, rejected := o.succeeded, o.rejected
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			b.drain(ctx, succeeded, rejected)
			return
		case evt, ok := <-succeeded:
			if !ok {
				succeeded = nil
				continue
			}
			b.show(ctx, b.FromReplay(evt))
		case evt, ok := <-rejected:
			if !ok {
				rejected = nil
				continue
			}
			b.show(ctx, b.FromRejection(evt))
		case payload, ok := <-push:
			if !ok {
				push = nil
				continue
			}
			b.show(ctx, b.FromPush(payload))
		}
	}
}

// drain shows whatever is already buffered without waiting for more.
func (b *Bridge) drain(ctx context.Context, succeeded <-chan events.ReplaySucceeded, rejected <-chan events.ReplayRejected) {
	for succeeded != nil || rejected != nil {
		select {
		case evt, ok := <-succeeded:
			if !ok {
				succeeded = nil
				continue
			}
			b.show(ctx, b.FromReplay(evt))
		case evt, ok := <-rejected:
			if !ok {
				rejected = nil
				continue
			}
			b.show(ctx, b.FromRejection(evt))
		default:
			return
		}
	}
}

func (b *Bridge) show(ctx context.Context, n Notification) {
	if err := b.Display(ctx, n); err != nil {
		if ctx.Err() != nil {
			return
		}
		b.logger.Warn().Err(err).Str("origin", n.Origin).Str("title", n.Title).Msg("display notification")
	}
}
