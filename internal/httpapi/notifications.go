package httpapi

import (
	"net/http"

	"github.com/agentworkforce/storysync/internal/notify"
)

func (s *Server) writeAffordance(w http.ResponseWriter, r *http.Request, correlationID string) {
	state, err := s.deps.Affordance.Refresh(r.Context())
	if err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	label := s.deps.Affordance.Label()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":   state,
		"label":   label.Text,
		"enabled": label.Enabled,
	})
}

func (s *Server) handleNotificationStatus(w http.ResponseWriter, r *http.Request, correlationID string) {
	s.writeAffordance(w, r, correlationID)
}

func (s *Server) handleEnableNotifications(w http.ResponseWriter, r *http.Request, correlationID string) {
	if _, err := s.deps.Subscriptions.Enable(r.Context()); err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	s.writeAffordance(w, r, correlationID)
}

func (s *Server) handleDisableNotifications(w http.ResponseWriter, r *http.Request, correlationID string) {
	if err := s.deps.Subscriptions.Disable(r.Context()); err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	s.writeAffordance(w, r, correlationID)
}

// handleDeliverPush accepts a raw push message from a host that receives
// pushes itself and shows it through the bridge.
func (s *Server) handleDeliverPush(w http.ResponseWriter, r *http.Request, correlationID string) {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	n := s.deps.Bridge.FromPush(body)
	if err := s.deps.Bridge.Display(r.Context(), n); err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusAccepted, n)
}

type tapRequest struct {
	Notification notify.Notification `json:"notification"`
	Action       string              `json:"action"`
}

func (s *Server) handleTapNotification(w http.ResponseWriter, r *http.Request, correlationID string) {
	var req tapRequest
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	route, err := s.deps.Bridge.Tap(r.Context(), req.Notification, req.Action)
	if err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"route": route})
}
