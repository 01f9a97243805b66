package notify

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

const (
	StateUnsupported  = "unsupported"
	StateDefault      = "default"
	StateGranted      = "granted"
	StateDenied       = "denied"
	StateSubscribed   = "subscribed"
	StateUnsubscribed = "unsubscribed"

	EventSupportDetected     = "support_detected"
	EventSupportLost         = "support_lost"
	EventPermissionGranted   = "permission_granted"
	EventPermissionDenied    = "permission_denied"
	EventPermissionReset     = "permission_reset"
	EventSubscriptionFound   = "subscription_found"
	EventSubscriptionMissing = "subscription_missing"
)

// Affordance tracks what the notification toggle should offer. It is always
// driven from what the platform reports, never from a remembered flag.
type Affordance struct {
	platform Platform
	logger   zerolog.Logger

	mu  sync.Mutex
	fsm *fsm.FSM
}

func NewAffordance(platform Platform, logger zerolog.Logger) *Affordance {
	a := &Affordance{platform: platform, logger: logger}
	a.fsm = fsm.NewFSM(
		StateUnsupported,
		fsm.Events{
			{Name: EventSupportDetected, Src: []string{StateUnsupported}, Dst: StateDefault},
			{Name: EventSupportLost, Src: []string{StateDefault, StateGranted, StateDenied, StateSubscribed, StateUnsubscribed}, Dst: StateUnsupported},
			{Name: EventPermissionGranted, Src: []string{StateDefault, StateDenied}, Dst: StateGranted},
			{Name: EventPermissionDenied, Src: []string{StateDefault, StateGranted, StateSubscribed, StateUnsubscribed}, Dst: StateDenied},
			{Name: EventPermissionReset, Src: []string{StateGranted, StateDenied, StateSubscribed, StateUnsubscribed}, Dst: StateDefault},
			{Name: EventSubscriptionFound, Src: []string{StateGranted, StateUnsubscribed}, Dst: StateSubscribed},
			{Name: EventSubscriptionMissing, Src: []string{StateGranted, StateSubscribed}, Dst: StateUnsubscribed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				a.logger.Debug().Str("from", e.Src).Str("to", e.Dst).Str("event", e.Event).Msg("notification affordance changed")
			},
		},
	)
	return a
}

func (a *Affordance) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fsm.Current()
}

// Refresh queries the platform and moves the machine to the observed state.
func (a *Affordance) Refresh(ctx context.Context) (string, error) {
	target, err := a.observe(ctx)
	if err != nil {
		return a.State(), err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, event := range a.plan(a.fsm.Current(), target) {
		if !a.fsm.Can(event) {
			continue
		}
		if err := a.fsm.Event(ctx, event); err != nil {
			return a.fsm.Current(), err
		}
	}
	return a.fsm.Current(), nil
}

func (a *Affordance) observe(ctx context.Context) (string, error) {
	if !a.platform.Supported() {
		return StateUnsupported, nil
	}
	permission, err := a.platform.Permission(ctx)
	if err != nil {
		return "", err
	}
	switch permission {
	case PermissionGranted:
	case PermissionDenied:
		return StateDenied, nil
	default:
		return StateDefault, nil
	}
	sub, err := a.platform.Subscription(ctx)
	if err != nil {
		return "", err
	}
	if sub != nil {
		return StateSubscribed, nil
	}
	return StateUnsubscribed, nil
}

// plan lists the events that lead from current to target. Events that do not
// apply to the state reached so far are skipped by the caller.
func (a *Affordance) plan(current, target string) []string {
	if current == target {
		return nil
	}
	var events []string
	if current == StateUnsupported && target != StateUnsupported {
		events = append(events, EventSupportDetected)
	}
	switch target {
	case StateUnsupported:
		events = append(events, EventSupportLost)
	case StateDefault:
		events = append(events, EventPermissionReset)
	case StateDenied:
		events = append(events, EventPermissionDenied)
	case StateSubscribed:
		events = append(events, EventPermissionGranted, EventSubscriptionFound)
	case StateUnsubscribed:
		events = append(events, EventPermissionGranted, EventSubscriptionMissing)
	}
	return events
}

// Toggle enables or disables notifications depending on the observed state
// and returns the state reached afterwards.
func (a *Affordance) Toggle(ctx context.Context, subs *Subscriptions) (string, error) {
	state, err := a.Refresh(ctx)
	if err != nil {
		return state, err
	}
	switch state {
	case StateUnsupported:
		return state, ErrUnsupported
	case StateSubscribed:
		err = subs.Disable(ctx)
	default:
		_, err = subs.Enable(ctx)
	}
	next, refreshErr := a.Refresh(ctx)
	if err != nil {
		return next, err
	}
	return next, refreshErr
}

type Label struct {
	Text    string
	Enabled bool
}

// Label describes the toggle for the current state.
func (a *Affordance) Label() Label {
	switch a.State() {
	case StateUnsupported:
		return Label{Text: "Notifications are not supported", Enabled: false}
	case StateDenied:
		return Label{Text: "Notifications are blocked", Enabled: false}
	case StateSubscribed:
		return Label{Text: "Disable notifications", Enabled: true}
	default:
		return Label{Text: "Enable notifications", Enabled: true}
	}
}
