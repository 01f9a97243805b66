package pushchan

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/agentworkforce/storysync/internal/notify"
)

const (
	defaultReadLimit    = 1 << 20
	defaultIdleInterval = 30 * time.Second
	defaultMinBackoff   = time.Second
	defaultMaxBackoff   = time.Minute
)

var (
	messagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "storysync",
			Subsystem: "pushchan",
			Name:      "messages_total",
			Help:      "Push messages received from the channel.",
		},
	)

	connectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storysync",
			Subsystem: "pushchan",
			Name:      "connects_total",
			Help:      "Push channel connection attempts, by outcome.",
		},
		[]string{"outcome"},
	)
)

// SubscriptionSource reports the active push subscription, nil when the
// user has not opted in.
type SubscriptionSource interface {
	Subscription(ctx context.Context) (*notify.PushSubscription, error)
}

type ListenerOptions struct {
	URL           string
	Subscriptions SubscriptionSource
	// IdleInterval is how often an unsubscribed listener checks again.
	IdleInterval time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	ReadLimit    int64
	Logger       zerolog.Logger
}

// Listener holds a websocket open to the push relay for the current
// subscription and forwards each message as opaque bytes.
type Listener struct {
	url           string
	subscriptions SubscriptionSource
	idleInterval  time.Duration
	minBackoff    time.Duration
	maxBackoff    time.Duration
	readLimit     int64
	logger        zerolog.Logger
}

func NewListener(opts ListenerOptions) (*Listener, error) {
	raw := strings.TrimSpace(opts.URL)
	if raw == "" {
		return nil, errors.New("push url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse push url: %w", err)
	}
	switch parsed.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("unsupported push url scheme %q", parsed.Scheme)
	}
	if opts.Subscriptions == nil {
		return nil, errors.New("subscription source is required")
	}
	l := &Listener{
		url:           raw,
		subscriptions: opts.Subscriptions,
		idleInterval:  opts.IdleInterval,
		minBackoff:    opts.MinBackoff,
		maxBackoff:    opts.MaxBackoff,
		readLimit:     opts.ReadLimit,
		logger:        opts.Logger,
	}
	if l.idleInterval <= 0 {
		l.idleInterval = defaultIdleInterval
	}
	if l.minBackoff <= 0 {
		l.minBackoff = defaultMinBackoff
	}
	if l.maxBackoff < l.minBackoff {
		l.maxBackoff = defaultMaxBackoff
	}
	if l.readLimit <= 0 {
		l.readLimit = defaultReadLimit
	}
	return l, nil
}

// Run delivers messages to out until ctx is done. Connection failures are
// retried with exponential backoff; they never end the loop.
func (l *Listener) Run(ctx context.Context, out chan<- []byte) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = l.minBackoff
	exp.MaxInterval = l.maxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	for {
		sub, err := l.subscriptions.Subscription(ctx)
		if err != nil {
			l.logger.Warn().Err(err).Msg("read push subscription")
		}
		wait := l.idleInterval
		if err == nil && sub != nil {
			connected, err := l.session(ctx, sub.Endpoint, out)
			if ctx.Err() != nil {
				return nil
			}
			if connected {
				exp.Reset()
			}
			wait = exp.NextBackOff()
			l.logger.Warn().Err(err).Dur("retry_in", wait).Msg("push channel disconnected")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (l *Listener) session(ctx context.Context, endpoint string, out chan<- []byte) (bool, error) {
	target, err := l.dialURL(endpoint)
	if err != nil {
		return false, err
	}
	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		connectsTotal.WithLabelValues("error").Inc()
		return false, err
	}
	connectsTotal.WithLabelValues("ok").Inc()
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(l.readLimit)
	l.logger.Info().Str("endpoint", endpoint).Msg("push channel connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return true, errors.New("push channel closed by server")
			}
			return true, err
		}
		messagesTotal.Inc()
		select {
		case out <- data:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func (l *Listener) dialURL(endpoint string) (string, error) {
	parsed, err := url.Parse(l.url)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("endpoint", endpoint)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
