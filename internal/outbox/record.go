package outbox

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/storysync/internal/remote"
	"github.com/agentworkforce/storysync/internal/story"
)

// Record is a mutation captured while the story service was unreachable.
// The request fields are never changed after capture.
type Record struct {
	ID          uuid.UUID   `json:"id"`
	Seq         int64       `json:"seq"`
	Method      string      `json:"method"`
	URL         string      `json:"url"`
	Header      http.Header `json:"header,omitempty"`
	Body        []byte      `json:"body,omitempty"`
	EnqueuedAt  time.Time   `json:"enqueuedAt"`
	Description string      `json:"description,omitempty"`
}

func (r Record) Request() remote.Request {
	return remote.Request{Method: r.Method, URL: r.URL, Header: r.Header, Body: r.Body}.Clone()
}

func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(r.EnqueuedAt)
}

func (r Record) clone() Record {
	out := r
	out.Header = r.Header.Clone()
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

func (r Record) validate() error {
	if strings.TrimSpace(r.Method) == "" || strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("%w: record needs a method and url", story.ErrInvalidInput)
	}
	return nil
}

// prepareAppend fills in the fields the queue owns.
func prepareAppend(r Record) (Record, error) {
	if err := r.validate(); err != nil {
		return Record{}, err
	}
	out := r.clone()
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	if out.EnqueuedAt.IsZero() {
		out.EnqueuedAt = time.Now().UTC()
	}
	return out, nil
}

func encodeRecord(r Record) (string, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func decodeRecord(payload string, seq int64) (Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return Record{}, err
	}
	r.Seq = seq
	return r, nil
}
