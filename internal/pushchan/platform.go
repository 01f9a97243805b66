package pushchan

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agentworkforce/storysync/internal/backend"
	"github.com/agentworkforce/storysync/internal/notify"
	"github.com/agentworkforce/storysync/internal/story"
)

const authSecretBytes = 16

// Prompter asks the user for notification permission.
type Prompter interface {
	Prompt(ctx context.Context) (bool, error)
}

type PrompterFunc func(ctx context.Context) (bool, error)

func (f PrompterFunc) Prompt(ctx context.Context) (bool, error) { return f(ctx) }

type platformState struct {
	Permission   notify.Permission        `json:"permission"`
	Subscription *notify.PushSubscription `json:"subscription,omitempty"`
	PrivateKey   string                   `json:"privateKey,omitempty"`
}

// FilePlatform is a notify.Platform for hosts without a native push stack.
// Permission and subscription live in a JSON file; endpoints are minted
// under the relay's endpoint base.
type FilePlatform struct {
	path         string
	endpointBase string
	prompter     Prompter

	mu sync.Mutex
}

func NewFilePlatform(path, endpointBase string, prompter Prompter) (*FilePlatform, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: platform state path is required", story.ErrInvalidInput)
	}
	endpointBase = strings.TrimRight(strings.TrimSpace(endpointBase), "/")
	if endpointBase == "" {
		return nil, fmt.Errorf("%w: push endpoint base is required", story.ErrInvalidInput)
	}
	return &FilePlatform{path: path, endpointBase: endpointBase, prompter: prompter}, nil
}

func (p *FilePlatform) Supported() bool { return true }

func (p *FilePlatform) Permission(context.Context) (notify.Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, err := p.load()
	if err != nil {
		return "", err
	}
	return state.Permission, nil
}

// RequestPermission prompts only while the decision is still open. Without a
// prompter the permission stays at default.
func (p *FilePlatform) RequestPermission(ctx context.Context) (notify.Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, err := p.load()
	if err != nil {
		return "", err
	}
	if state.Permission != notify.PermissionDefault || p.prompter == nil {
		return state.Permission, nil
	}
	granted, err := p.prompter.Prompt(ctx)
	if err != nil {
		return "", err
	}
	if granted {
		state.Permission = notify.PermissionGranted
	} else {
		state.Permission = notify.PermissionDenied
	}
	if err := p.save(state); err != nil {
		return "", err
	}
	return state.Permission, nil
}

// SetPermission overrides the stored decision, the equivalent of the user
// changing site settings.
func (p *FilePlatform) SetPermission(permission notify.Permission) error {
	switch permission {
	case notify.PermissionDefault, notify.PermissionGranted, notify.PermissionDenied:
	default:
		return fmt.Errorf("%w: unknown permission %q", story.ErrInvalidInput, permission)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	state, err := p.load()
	if err != nil {
		return err
	}
	state.Permission = permission
	if permission != notify.PermissionGranted {
		state.Subscription = nil
		state.PrivateKey = ""
	}
	return p.save(state)
}

func (p *FilePlatform) Subscription(context.Context) (*notify.PushSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, err := p.load()
	if err != nil {
		return nil, err
	}
	if state.Subscription == nil {
		return nil, nil
	}
	sub := *state.Subscription
	return &sub, nil
}

func (p *FilePlatform) Subscribe(_ context.Context, applicationServerKey []byte) (notify.PushSubscription, error) {
	if _, err := ecdh.P256().NewPublicKey(applicationServerKey); err != nil {
		return notify.PushSubscription{}, fmt.Errorf("%w: %v", story.ErrChannelUnavailable, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	state, err := p.load()
	if err != nil {
		return notify.PushSubscription{}, err
	}
	if state.Permission != notify.PermissionGranted {
		return notify.PushSubscription{}, story.ErrPermissionDenied
	}
	if state.Subscription != nil {
		return *state.Subscription, nil
	}

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return notify.PushSubscription{}, fmt.Errorf("generate subscription key: %w", err)
	}
	secret := make([]byte, authSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return notify.PushSubscription{}, fmt.Errorf("generate auth secret: %w", err)
	}
	sub := notify.PushSubscription{
		Endpoint: p.endpointBase + "/" + uuid.NewString(),
		Keys: notify.PushKeys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(secret),
		},
	}
	state.Subscription = &sub
	state.PrivateKey = base64.RawURLEncoding.EncodeToString(key.Bytes())
	if err := p.save(state); err != nil {
		return notify.PushSubscription{}, err
	}
	return sub, nil
}

func (p *FilePlatform) Unsubscribe(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, err := p.load()
	if err != nil {
		return err
	}
	if state.Subscription == nil {
		return nil
	}
	state.Subscription = nil
	state.PrivateKey = ""
	return p.save(state)
}

func (p *FilePlatform) load() (platformState, error) {
	state := platformState{Permission: notify.PermissionDefault}
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state, nil
		}
		return state, err
	}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("decode platform state %s: %w", p.path, err)
	}
	if state.Permission == "" {
		state.Permission = notify.PermissionDefault
	}
	return state, nil
}

func (p *FilePlatform) save(state platformState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return backend.WriteFileAtomic(p.path, data, 0o600)
}
