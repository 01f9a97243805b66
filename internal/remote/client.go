package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/storysync/internal/story"
)

const (
	DefaultBaseURL    = "https://story-api.dicoding.dev/v1"
	DefaultChannelKey = "BCCs2eonMI-6H2ctvFaWg-UYdDv387Vno_bzUzALpB442r2lCnsHmtrx8biyPi_E-1fSGABK_Qs_GlvPoJJqxbk"
	defaultTimeout    = 15 * time.Second
)

type ClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	// ChannelKey is the base64url VAPID public key of the push service.
	ChannelKey string
	Logger     zerolog.Logger
}

// Client talks to the story service. It never retries: callers decide what
// an unreachable service means for them.
type Client struct {
	baseURL    string
	httpClient *http.Client
	channelKey string
	logger     zerolog.Logger
}

type LoginResult struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is the Web Push subscription descriptor shared between
// the platform and the story service.
type PushSubscription struct {
	Endpoint       string   `json:"endpoint"`
	ExpirationTime *int64   `json:"expirationTime"`
	Keys           PushKeys `json:"keys"`
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		channelKey: strings.TrimSpace(opts.ChannelKey),
		logger:     opts.Logger,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Register(ctx context.Context, name, email, password string) error {
	body := map[string]string{"name": name, "email": email, "password": password}
	return c.doJSON(ctx, "register", http.MethodPost, "/register", "", body, nil)
}

func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	body := map[string]string{"email": email, "password": password}
	var out struct {
		LoginResult LoginResult `json:"loginResult"`
	}
	if err := c.doJSON(ctx, "login", http.MethodPost, "/login", "", body, &out); err != nil {
		return LoginResult{}, err
	}
	if strings.TrimSpace(out.LoginResult.Token) == "" {
		return LoginResult{}, errors.New("login response carried no token")
	}
	return out.LoginResult, nil
}

func (c *Client) ListStories(ctx context.Context, token string) ([]story.Story, error) {
	q := url.Values{}
	q.Set("location", "1")
	var out struct {
		ListStory []story.Story `json:"listStory"`
	}
	if err := c.doJSON(ctx, "list_stories", http.MethodGet, "/stories?"+q.Encode(), token, nil, &out); err != nil {
		return nil, err
	}
	if out.ListStory == nil {
		out.ListStory = []story.Story{}
	}
	return out.ListStory, nil
}

func (c *Client) GetStory(ctx context.Context, token, id string) (story.Story, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return story.Story{}, story.ErrInvalidInput
	}
	var out struct {
		Story story.Story `json:"story"`
	}
	if err := c.doJSON(ctx, "get_story", http.MethodGet, "/stories/"+url.PathEscape(id), token, nil, &out); err != nil {
		return story.Story{}, err
	}
	return out.Story, nil
}

func (c *Client) CreateStory(ctx context.Context, token string, ns story.NewStory) error {
	req, err := c.PrepareCreateStory(token, ns)
	if err != nil {
		return err
	}
	_, err = c.Send(ctx, req)
	return err
}

// ChannelKey returns the decoded application server key used to create push
// subscriptions.
func (c *Client) ChannelKey(_ context.Context) ([]byte, error) {
	raw := strings.TrimRight(c.channelKey, "=")
	if raw == "" {
		return nil, story.ErrChannelUnavailable
	}
	key, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", story.ErrChannelUnavailable, err)
	}
	if len(key) != 65 || key[0] != 0x04 {
		return nil, fmt.Errorf("%w: key is not an uncompressed P-256 point", story.ErrChannelUnavailable)
	}
	return key, nil
}

func (c *Client) SubscribePush(ctx context.Context, token string, sub PushSubscription) error {
	body := map[string]any{
		"endpoint": sub.Endpoint,
		"keys":     sub.Keys,
	}
	return c.doJSON(ctx, "subscribe_push", http.MethodPost, "/notifications/subscribe", token, body, nil)
}

func (c *Client) UnsubscribePush(ctx context.Context, token, endpoint string) error {
	body := map[string]string{"endpoint": endpoint}
	return c.doJSON(ctx, "unsubscribe_push", http.MethodDelete, "/notifications/subscribe", token, body, nil)
}

// Send executes a prepared request exactly as captured.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	return c.do(ctx, "send", req)
}

func (c *Client) doJSON(ctx context.Context, op, method, requestPath, token string, body, out any) error {
	req := Request{Method: method, URL: c.baseURL + requestPath, Header: http.Header{}}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		req.Body = payload
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.do(ctx, op, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op string, r Request) (Response, error) {
	var bodyReader io.Reader
	if r.Body != nil {
		bodyReader = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bodyReader)
	if err != nil {
		return Response{}, err
	}
	for key, values := range r.Header {
		req.Header[key] = append([]string(nil), values...)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, ctxErr
		}
		requestsTotal.WithLabelValues(op, "unreachable").Inc()
		c.logger.Debug().Err(err).Str("op", op).Str("url", r.URL).Msg("story service unreachable")
		return Response{}, &story.UnreachableError{Op: op, Err: err}
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, ctxErr
		}
		requestsTotal.WithLabelValues(op, "unreachable").Inc()
		return Response{}, &story.UnreachableError{Op: op, Err: readErr}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		requestsTotal.WithLabelValues(op, "rejected").Inc()
		var errPayload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		c.logger.Debug().Str("op", op).Int("status", resp.StatusCode).Str("message", errPayload.Message).Msg("story service rejected request")
		return Response{}, &story.RejectedError{StatusCode: resp.StatusCode, Message: errPayload.Message}
	}
	requestsTotal.WithLabelValues(op, "ok").Inc()
	return Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: payload}, nil
}
