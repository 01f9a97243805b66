package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/storysync/internal/backend"
	"github.com/agentworkforce/storysync/internal/story"
)

// Session is what a successful login leaves behind.
type Session struct {
	Token   string    `json:"token"`
	UserID  string    `json:"userId,omitempty"`
	Name    string    `json:"name,omitempty"`
	SavedAt time.Time `json:"savedAt"`
}

// FileTokenStore keeps the bearer token in a single JSON file so every
// process on the host (CLI invocations and the agent) shares one login.
type FileTokenStore struct {
	path   string
	now    func() time.Time
	logger zerolog.Logger

	mu sync.Mutex
}

func NewFileTokenStore(path string, logger zerolog.Logger) (*FileTokenStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: token file path is required", story.ErrInvalidInput)
	}
	return &FileTokenStore{path: path, now: time.Now, logger: logger}, nil
}

func (s *FileTokenStore) Path() string {
	return s.path
}

func (s *FileTokenStore) Save(session Session) error {
	if strings.TrimSpace(session.Token) == "" {
		return fmt.Errorf("%w: token is required", story.ErrInvalidInput)
	}
	if session.SavedAt.IsZero() {
		session.SavedAt = s.now().UTC()
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return backend.WriteFileAtomic(s.path, data, 0o600)
}

func (s *FileTokenStore) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileTokenStore) Session() (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Session{}, story.ErrUnauthenticated
		}
		return Session{}, err
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, fmt.Errorf("decode token file %s: %w", s.path, err)
	}
	if strings.TrimSpace(session.Token) == "" {
		return Session{}, story.ErrUnauthenticated
	}
	return session, nil
}

// Token returns the stored bearer token. Tokens that are JWTs with a past
// exp claim are treated as missing; opaque tokens are returned as is.
func (s *FileTokenStore) Token() (string, error) {
	session, err := s.Session()
	if err != nil {
		return "", err
	}
	if expired(session.Token, s.now()) {
		return "", fmt.Errorf("%w: token expired", story.ErrUnauthenticated)
	}
	return session.Token, nil
}

func (s *FileTokenStore) IsLoggedIn() bool {
	_, err := s.Token()
	return err == nil
}

func expired(token string, now time.Time) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time)
}

// Watch calls fn whenever the token file is written, replaced or removed,
// until ctx is done. The parent directory is watched so atomic renames are
// seen.
func (s *FileTokenStore) Watch(ctx context.Context, fn func(loggedIn bool)) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create token watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				fn(s.IsLoggedIn())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("token watcher error")
		}
	}
}
