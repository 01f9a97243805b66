package app

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/storysync/internal/notify"
)

// LogDisplayer shows notifications as log lines.
type LogDisplayer struct {
	logger zerolog.Logger
}

func NewLogDisplayer(logger zerolog.Logger) *LogDisplayer {
	return &LogDisplayer{logger: logger}
}

func (d *LogDisplayer) Display(_ context.Context, n notify.Notification) error {
	d.logger.Info().
		Str("origin", n.Origin).
		Str("title", n.Title).
		Str("body", n.Body).
		Str("route", n.TargetRoute).
		Msg("notification")
	return nil
}

// JSONDisplayer writes one JSON object per notification, for hosts that
// render notifications themselves.
type JSONDisplayer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONDisplayer(w io.Writer) *JSONDisplayer {
	return &JSONDisplayer{enc: json.NewEncoder(w)}
}

func (d *JSONDisplayer) Display(_ context.Context, n notify.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enc.Encode(n)
}
