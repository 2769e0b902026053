package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Session is a saved login against one daemon.
type Session struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	ServerURL string    `json:"server_url"`
}

func (s *Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// SessionManager keeps at most one session in <dir>/session.json.
type SessionManager struct {
	path string
	now  func() time.Time
}

// NewSessionManager uses ~/.playwatch, or ./.playwatch without a home dir.
func NewSessionManager() *SessionManager {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return newSessionManagerAt(filepath.Join(home, ".playwatch"))
}

func newSessionManagerAt(dir string) *SessionManager {
	return &SessionManager{path: filepath.Join(dir, "session.json"), now: time.Now}
}

// SaveSession replaces the stored session. The file is written next to the
// target and renamed over it, readable by the owner only.
func (sm *SessionManager) SaveSession(s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(sm.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "session-*.json")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), sm.path)
}

// LoadSession returns nil, nil when nothing usable is stored. An expired
// session is deleted on the way.
func (sm *SessionManager) LoadSession() (*Session, error) {
	data, err := os.ReadFile(sm.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.expired(sm.now()) {
		return nil, sm.ClearSession()
	}
	return &s, nil
}

func (sm *SessionManager) ClearSession() error {
	err := os.Remove(sm.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
