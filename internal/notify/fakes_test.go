package notify

import (
	"context"
	"errors"
)

type fakePlatform struct {
	supported    bool
	permission   Permission
	prompt       Permission
	sub          *PushSubscription
	subscribeErr error
	prompts      int
	subscribes   int
	unsubscribes int
	receivedKey  []byte
}

func (p *fakePlatform) Supported() bool { return p.supported }

func (p *fakePlatform) Permission(context.Context) (Permission, error) { return p.permission, nil }

func (p *fakePlatform) RequestPermission(context.Context) (Permission, error) {
	p.prompts++
	p.permission = p.prompt
	return p.permission, nil
}

func (p *fakePlatform) Subscription(context.Context) (*PushSubscription, error) {
	if p.sub == nil {
		return nil, nil
	}
	sub := *p.sub
	return &sub, nil
}

func (p *fakePlatform) Subscribe(_ context.Context, key []byte) (PushSubscription, error) {
	p.subscribes++
	p.receivedKey = key
	if p.subscribeErr != nil {
		return PushSubscription{}, p.subscribeErr
	}
	p.sub = &PushSubscription{
		Endpoint: "https://push.example.test/abc",
		Keys:     PushKeys{P256dh: "p256", Auth: "auth"},
	}
	return *p.sub, nil
}

func (p *fakePlatform) Unsubscribe(context.Context) error {
	p.unsubscribes++
	p.sub = nil
	return nil
}

type fakeRegistrar struct {
	key            []byte
	keyErr         error
	subscribeErr   error
	unsubscribeErr error
	registered     []PushSubscription
	unregistered   []string
}

func (r *fakeRegistrar) ChannelKey(context.Context) ([]byte, error) {
	if r.keyErr != nil {
		return nil, r.keyErr
	}
	return r.key, nil
}

func (r *fakeRegistrar) SubscribePush(_ context.Context, _ string, sub PushSubscription) error {
	if r.subscribeErr != nil {
		return r.subscribeErr
	}
	r.registered = append(r.registered, sub)
	return nil
}

func (r *fakeRegistrar) UnsubscribePush(_ context.Context, _ string, endpoint string) error {
	r.unregistered = append(r.unregistered, endpoint)
	return r.unsubscribeErr
}

type fakeTokens struct {
	token string
}

func (f fakeTokens) Token() (string, error) {
	if f.token == "" {
		return "", errors.New("not logged in")
	}
	return f.token, nil
}
