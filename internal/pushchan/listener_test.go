package pushchan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/agentworkforce/storysync/internal/notify"
)

type staticSource struct {
	sub *notify.PushSubscription
}

func (s staticSource) Subscription(context.Context) (*notify.PushSubscription, error) {
	return s.sub, nil
}

func TestListenerForwardsMessagesAndReconnects(t *testing.T) {
	var connects atomic.Int32
	var gotEndpoint atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEndpoint.Store(r.URL.Query().Get("endpoint"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n := connects.Add(1)
		msg := []byte(`{"title":"hello"}`)
		if n > 1 {
			msg = []byte("second connection")
		}
		_ = conn.Write(r.Context(), websocket.MessageText, msg)
		conn.Close(websocket.StatusNormalClosure, "bye")
	}))
	defer server.Close()

	listener, err := NewListener(ListenerOptions{
		URL:           server.URL + "/channel",
		Subscriptions: staticSource{sub: &notify.PushSubscription{Endpoint: "https://push.example.test/abc"}},
		MinBackoff:    10 * time.Millisecond,
		MaxBackoff:    20 * time.Millisecond,
		Logger:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new listener: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan []byte, 4)
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx, out) }()

	var received []string
	timeout := time.After(3 * time.Second)
	for len(received) < 2 {
		select {
		case msg := <-out:
			received = append(received, string(msg))
		case <-timeout:
			t.Fatalf("timed out waiting for messages, got %v", received)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if received[0] != `{"title":"hello"}` || received[1] != "second connection" {
		t.Fatalf("unexpected messages: %v", received)
	}
	if got, _ := gotEndpoint.Load().(string); got != "https://push.example.test/abc" {
		t.Fatalf("expected endpoint query parameter, got %q", got)
	}
}

func TestListenerIdlesWithoutSubscription(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	listener, err := NewListener(ListenerOptions{
		URL:           server.URL,
		Subscriptions: staticSource{},
		IdleInterval:  5 * time.Millisecond,
		Logger:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new listener: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := listener.Run(ctx, make(chan []byte)); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no dials without a subscription, got %d", hits.Load())
	}
}

func TestNewListenerValidatesURL(t *testing.T) {
	cases := []string{"", "ftp://push.example.test", "://bad"}
	for _, raw := range cases {
		_, err := NewListener(ListenerOptions{URL: raw, Subscriptions: staticSource{}})
		if err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
	if _, err := NewListener(ListenerOptions{URL: "wss://push.example.test"}); err == nil || !strings.Contains(err.Error(), "subscription source") {
		t.Fatalf("expected missing subscription source error, got %v", err)
	}
}
