package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/storysync/internal/notify"
	"github.com/agentworkforce/storysync/internal/outbox"
	"github.com/agentworkforce/storysync/internal/story"
	"github.com/agentworkforce/storysync/internal/syncer"
)

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	// RevalidateWait bounds how long a listing with wait=1 blocks.
	RevalidateWait time.Duration
}

// Deps are the engine components the API exposes.
type Deps struct {
	Coordinator   *syncer.Coordinator
	Replayer      *outbox.Replayer
	Subscriptions *notify.Subscriptions
	Affordance    *notify.Affordance
	Bridge        *notify.Bridge
	Logger        zerolog.Logger
}

// Server is the local API page-view clients use to reach the background
// engine. It shares one listing session across requests.
type Server struct {
	deps        Deps
	cfg         ServerConfig
	session     *syncer.Session
	rateLimiter *rateLimiter
	now         func() time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

// ErrMissingSecret is returned by NewServer when no signing secret is set.
var ErrMissingSecret = errors.New("httpapi: jwt secret is required")

func NewServer(deps Deps, cfg ServerConfig) (*Server, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, ErrMissingSecret
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if cfg.RevalidateWait <= 0 {
		cfg.RevalidateWait = 10 * time.Second
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		deps:        deps,
		cfg:         cfg,
		session:     syncer.NewSession(),
		rateLimiter: limiter,
		now:         time.Now,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	var requiredScope string
	var route string
	switch {
	case len(parts) == 2 && parts[1] == "stories" && r.Method == http.MethodGet:
		requiredScope, route = ScopeStoriesRead, "list_stories"
	case len(parts) == 2 && parts[1] == "stories" && r.Method == http.MethodPost:
		requiredScope, route = ScopeStoriesWrite, "submit_story"
	case len(parts) == 3 && parts[1] == "stories" && r.Method == http.MethodGet:
		requiredScope, route = ScopeStoriesRead, "get_story"
	case len(parts) == 2 && parts[1] == "bookmarks" && r.Method == http.MethodGet:
		requiredScope, route = ScopeStoriesRead, "list_bookmarks"
	case len(parts) == 3 && parts[1] == "bookmarks" && r.Method == http.MethodPut:
		requiredScope, route = ScopeStoriesWrite, "add_bookmark"
	case len(parts) == 3 && parts[1] == "bookmarks" && r.Method == http.MethodDelete:
		requiredScope, route = ScopeStoriesWrite, "remove_bookmark"
	case len(parts) == 2 && parts[1] == "outbox" && r.Method == http.MethodGet:
		requiredScope, route = ScopeOutboxRead, "list_outbox"
	case len(parts) == 3 && parts[1] == "outbox" && parts[2] == "replay" && r.Method == http.MethodPost:
		requiredScope, route = ScopeOutboxWrite, "replay_outbox"
	case len(parts) == 2 && parts[1] == "notifications" && r.Method == http.MethodGet:
		requiredScope, route = ScopeNotificationsRead, "notification_status"
	case len(parts) == 3 && parts[1] == "notifications" && parts[2] == "enable" && r.Method == http.MethodPost:
		requiredScope, route = ScopeNotificationsWrite, "enable_notifications"
	case len(parts) == 3 && parts[1] == "notifications" && parts[2] == "disable" && r.Method == http.MethodPost:
		requiredScope, route = ScopeNotificationsWrite, "disable_notifications"
	case len(parts) == 3 && parts[1] == "notifications" && parts[2] == "push" && r.Method == http.MethodPost:
		requiredScope, route = ScopeNotificationsWrite, "deliver_push"
	case len(parts) == 3 && parts[1] == "notifications" && parts[2] == "tap" && r.Method == http.MethodPost:
		requiredScope, route = ScopeNotificationsWrite, "tap_notification"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	correlationID := getCorrelationID(r)
	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, requiredScope, s.now())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(claims.Client, s.now()) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
		return
	}

	switch route {
	case "list_stories":
		s.handleListStories(w, r, correlationID)
	case "submit_story":
		s.handleSubmitStory(w, r, correlationID)
	case "get_story":
		s.handleGetStory(w, r, parts[2], correlationID)
	case "list_bookmarks":
		s.handleListBookmarks(w, r, correlationID)
	case "add_bookmark":
		s.handleAddBookmark(w, r, parts[2], correlationID)
	case "remove_bookmark":
		s.handleRemoveBookmark(w, r, parts[2], correlationID)
	case "list_outbox":
		s.handleListOutbox(w, r, correlationID)
	case "replay_outbox":
		s.handleReplayOutbox(w, r, correlationID)
	case "notification_status":
		s.handleNotificationStatus(w, r, correlationID)
	case "enable_notifications":
		s.handleEnableNotifications(w, r, correlationID)
	case "disable_notifications":
		s.handleDisableNotifications(w, r, correlationID)
	case "deliver_push":
		s.handleDeliverPush(w, r, correlationID)
	case "tap_notification":
		s.handleTapNotification(w, r, correlationID)
	}
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

// writeEngineError maps engine errors onto HTTP statuses. Rejections from
// the story service keep their message verbatim.
func (s *Server) writeEngineError(w http.ResponseWriter, err error, correlationID string) {
	var rejected *story.RejectedError
	switch {
	case errors.Is(err, story.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "login required: "+err.Error(), correlationID)
	case errors.As(err, &rejected):
		status := rejected.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		writeError(w, status, "rejected", rejected.Message, correlationID)
	case errors.Is(err, story.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, story.ErrInvalidInput), errors.Is(err, story.ErrInvalidEntity):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	case errors.Is(err, story.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission_denied", err.Error(), correlationID)
	case errors.Is(err, notify.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, "unsupported", err.Error(), correlationID)
	case errors.Is(err, story.ErrChannelUnavailable), errors.Is(err, story.ErrUnreachable), errors.Is(err, outbox.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error(), correlationID)
	default:
		s.deps.Logger.Error().Err(err).Str("correlation_id", correlationID).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error", correlationID)
	}
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
