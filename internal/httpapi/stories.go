package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/agentworkforce/storysync/internal/story"
	"github.com/agentworkforce/storysync/internal/syncer"
)

// captureView keeps the last diagnostic of a listing.
type captureView struct {
	mu         sync.Mutex
	diagnostic error
}

func (v *captureView) Loading() {}

func (v *captureView) Render([]story.Story, syncer.Source) {}

func (v *captureView) Diagnostic(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.diagnostic = err
}

func (v *captureView) lastDiagnostic() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.diagnostic
}

type listResponse struct {
	Stories     []story.Story `json:"stories"`
	Source      syncer.Source `json:"source,omitempty"`
	Revalidated bool          `json:"revalidated"`
	Diagnostic  string        `json:"diagnostic,omitempty"`
}

// handleListStories answers from the cache right away. With wait=1 it also
// waits for the background refresh and answers with the fresh listing.
func (s *Server) handleListStories(w http.ResponseWriter, r *http.Request, correlationID string) {
	view := &captureView{}
	rv, err := s.deps.Coordinator.ListStories(r.Context(), s.session, view)
	if err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	resp := listResponse{}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RevalidateWait)
		defer cancel()
		if err := rv.Wait(ctx); err == nil {
			resp.Revalidated = true
		} else if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			resp.Diagnostic = err.Error()
		}
	}
	if diag := view.lastDiagnostic(); diag != nil && resp.Diagnostic == "" {
		resp.Diagnostic = diag.Error()
	}
	resp.Stories = s.session.Search(r.URL.Query().Get("q"))
	resp.Source = s.session.Source()
	if resp.Stories == nil {
		resp.Stories = []story.Story{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetStory(w http.ResponseWriter, r *http.Request, id, correlationID string) {
	detail, err := s.deps.Coordinator.GetStory(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"story":      detail.Story,
		"bookmarked": detail.Bookmarked,
		"source":     detail.Source,
	})
}

func (s *Server) handleSubmitStory(w http.ResponseWriter, r *http.Request, correlationID string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxBodyBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", "invalid multipart body", correlationID)
		return
	}
	ns := story.NewStory{Description: r.FormValue("description")}
	file, header, err := r.FormFile("photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "photo is required", correlationID)
		return
	}
	defer file.Close()
	if ns.Photo, err = io.ReadAll(file); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read photo", correlationID)
		return
	}
	ns.PhotoName = header.Filename
	ns.PhotoType = header.Header.Get("Content-Type")
	if ns.Lat, ns.Lon, err = parseLocation(r.FormValue("lat"), r.FormValue("lon")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		return
	}

	result, err := s.deps.Coordinator.SubmitStory(r.Context(), ns)
	if err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	status := http.StatusCreated
	resp := map[string]any{"status": result.Status}
	if result.Status == syncer.SubmitDeferred {
		status = http.StatusAccepted
		resp["recordId"] = result.RecordID.String()
	}
	writeJSON(w, status, resp)
}

func parseLocation(rawLat, rawLon string) (*float64, *float64, error) {
	rawLat, rawLon = strings.TrimSpace(rawLat), strings.TrimSpace(rawLon)
	if rawLat == "" && rawLon == "" {
		return nil, nil, nil
	}
	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return nil, nil, errors.New("invalid lat")
	}
	lon, err := strconv.ParseFloat(rawLon, 64)
	if err != nil {
		return nil, nil, errors.New("invalid lon")
	}
	return &lat, &lon, nil
}

func (s *Server) handleListBookmarks(w http.ResponseWriter, r *http.Request, correlationID string) {
	bookmarks, err := s.deps.Coordinator.Bookmarks(r.Context())
	if err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	if bookmarks == nil {
		bookmarks = []story.Story{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookmarks": bookmarks})
}

// handleAddBookmark bookmarks the story from the body when one is sent,
// otherwise the matching story of the current listing.
func (s *Server) handleAddBookmark(w http.ResponseWriter, r *http.Request, id, correlationID string) {
	var body story.Story
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	if body.ID != "" {
		if body.ID != id {
			writeError(w, http.StatusBadRequest, "bad_request", "story id does not match path", correlationID)
			return
		}
		if err := s.deps.Coordinator.Bookmark(r.Context(), body); err != nil {
			s.writeEngineError(w, err, correlationID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"story": body, "bookmarked": true})
		return
	}
	bookmarked, err := s.deps.Coordinator.BookmarkFromSession(r.Context(), s.session, id)
	if err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"story": bookmarked, "bookmarked": true})
}

func (s *Server) handleRemoveBookmark(w http.ResponseWriter, r *http.Request, id, correlationID string) {
	if err := s.deps.Coordinator.Unbookmark(r.Context(), id); err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "bookmarked": false})
}
