package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/storysync/internal/remote"
	"github.com/agentworkforce/storysync/internal/story"
)

var ErrUnsupported = errors.New("push notifications are not supported on this platform")

type (
	PushSubscription = remote.PushSubscription
	PushKeys         = remote.PushKeys
)

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Platform is the host's push capability. It owns the subscription; the
// engine only reads and requests changes.
type Platform interface {
	Supported() bool
	Permission(ctx context.Context) (Permission, error)
	RequestPermission(ctx context.Context) (Permission, error)
	// Subscription returns nil when there is no active subscription.
	Subscription(ctx context.Context) (*PushSubscription, error)
	Subscribe(ctx context.Context, applicationServerKey []byte) (PushSubscription, error)
	Unsubscribe(ctx context.Context) error
}

type Registrar interface {
	ChannelKey(ctx context.Context) ([]byte, error)
	SubscribePush(ctx context.Context, token string, sub PushSubscription) error
	UnsubscribePush(ctx context.Context, token, endpoint string) error
}

type TokenSource interface {
	Token() (string, error)
}

type Subscriptions struct {
	platform  Platform
	registrar Registrar
	tokens    TokenSource
	logger    zerolog.Logger
}

func NewSubscriptions(platform Platform, registrar Registrar, tokens TokenSource, logger zerolog.Logger) *Subscriptions {
	return &Subscriptions{platform: platform, registrar: registrar, tokens: tokens, logger: logger}
}

// Enable opts in to push notifications. Every precondition is checked before
// anything is registered; a subscription created here is rolled back if the
// story service refuses it.
func (s *Subscriptions) Enable(ctx context.Context) (PushSubscription, error) {
	if !s.platform.Supported() {
		return PushSubscription{}, ErrUnsupported
	}
	permission, err := s.platform.Permission(ctx)
	if err != nil {
		return PushSubscription{}, err
	}
	if permission == PermissionDefault {
		if permission, err = s.platform.RequestPermission(ctx); err != nil {
			return PushSubscription{}, err
		}
	}
	if permission != PermissionGranted {
		return PushSubscription{}, story.ErrPermissionDenied
	}
	token, err := s.tokens.Token()
	if err != nil {
		return PushSubscription{}, fmt.Errorf("%w: %v", story.ErrUnauthenticated, err)
	}
	key, err := s.registrar.ChannelKey(ctx)
	if err != nil {
		if errors.Is(err, story.ErrChannelUnavailable) {
			return PushSubscription{}, err
		}
		return PushSubscription{}, fmt.Errorf("%w: %v", story.ErrChannelUnavailable, err)
	}

	existing, err := s.platform.Subscription(ctx)
	if err != nil {
		return PushSubscription{}, err
	}
	created := false
	var sub PushSubscription
	if existing != nil {
		sub = *existing
	} else {
		if sub, err = s.platform.Subscribe(ctx, key); err != nil {
			return PushSubscription{}, err
		}
		created = true
	}

	if err := s.registrar.SubscribePush(ctx, token, sub); err != nil {
		if created {
			if rollbackErr := s.platform.Unsubscribe(ctx); rollbackErr != nil {
				s.logger.Warn().Err(rollbackErr).Msg("roll back push subscription")
			}
		}
		return PushSubscription{}, err
	}
	s.logger.Info().Str("endpoint", sub.Endpoint).Bool("created", created).Msg("push notifications enabled")
	return sub, nil
}

// Disable opts out. Server-side unregistration is best effort and skipped
// without a token; the local subscription is always removed.
func (s *Subscriptions) Disable(ctx context.Context) error {
	if !s.platform.Supported() {
		return ErrUnsupported
	}
	sub, err := s.platform.Subscription(ctx)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}
	if token, tokenErr := s.tokens.Token(); tokenErr == nil {
		if err := s.registrar.UnsubscribePush(ctx, token, sub.Endpoint); err != nil {
			s.logger.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("unregister push subscription")
		}
	} else {
		s.logger.Debug().Err(tokenErr).Msg("no token, skipping server-side push unregistration")
	}
	if err := s.platform.Unsubscribe(ctx); err != nil {
		return err
	}
	s.logger.Info().Str("endpoint", sub.Endpoint).Msg("push notifications disabled")
	return nil
}
