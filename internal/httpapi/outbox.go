package httpapi

import (
	"net/http"
	"time"
)

type outboxItem struct {
	ID          string    `json:"id"`
	Seq         int64     `json:"seq"`
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	Bytes       int       `json:"bytes"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
	AgeSeconds  int64     `json:"ageSeconds"`
}

func (s *Server) handleListOutbox(w http.ResponseWriter, r *http.Request, correlationID string) {
	queue := s.deps.Replayer.Queue()
	records, err := queue.List(r.Context())
	if err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	now := s.now()
	items := make([]outboxItem, 0, len(records))
	for _, record := range records {
		items = append(items, outboxItem{
			ID:          record.ID.String(),
			Seq:         record.Seq,
			Method:      record.Method,
			URL:         record.URL,
			Description: record.Description,
			Bytes:       len(record.Body),
			EnqueuedAt:  record.EnqueuedAt,
			AgeSeconds:  int64(record.Age(now).Seconds()),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    items,
		"capacity": queue.Capacity(),
	})
}

func (s *Server) handleReplayOutbox(w http.ResponseWriter, r *http.Request, correlationID string) {
	result, err := s.deps.Replayer.ReplayOnce(r.Context())
	if err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"replayed":  result.Replayed,
		"rejected":  result.Rejected,
		"expired":   result.Expired,
		"remaining": result.Remaining,
		"blocked":   result.Blocked,
	})
}
