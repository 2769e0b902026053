package client

import (
	"fmt"
	"time"
)

// IntervalResponse mirrors the detector's game-state notification.
type IntervalResponse struct {
	State  string  `json:"state"`
	AppID  *string `json:"appId"`
	Source *string `json:"source"`
	Name   *string `json:"name"`
}

// Process is the tracked OS process.
type Process struct {
	PID             int       `json:"pid"`
	ParentPID       int       `json:"parent_pid,omitempty"`
	Name            string    `json:"name"`
	ExecutablePath  string    `json:"executable_path,omitempty"`
	CommandLine     string    `json:"command_line,omitempty"`
	SessionID       int       `json:"session_id"`
	FileDescription string    `json:"file_description,omitempty"`
	StartedAt       time.Time `json:"started_at,omitzero"`
}

type Classification struct {
	Score      int      `json:"score"`
	Reasons    []string `json:"reasons"`
	LikelyGame bool     `json:"likely_game"`
}

type Tracked struct {
	Process        Process        `json:"process"`
	Classification Classification `json:"classification"`
	Since          time.Time      `json:"since,omitzero"`
}

// State is the body of GET /state.
type State struct {
	Response IntervalResponse `json:"response"`
	Tracked  *Tracked         `json:"tracked,omitempty"`
	Degraded bool             `json:"degraded"`
}

type Game struct {
	ID         int64  `json:"id,omitempty"`
	AppID      string `json:"app_id"`
	Source     string `json:"source"`
	Name       string `json:"name"`
	Executable string `json:"executable,omitempty"`
	Path       string `json:"path"`
}

// LookupQuery selects a game by exactly one of Executable or Path.
type LookupQuery struct {
	Executable string
	Path       string
}

type ScanResult struct {
	Root      string   `json:"root"`
	Libraries []string `json:"libraries"`
	Stored    int      `json:"stored"`
	Failed    int      `json:"failed"`
}

type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse is the server's error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// APIError is returned for any non-2xx reply.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error %d %s: %s", e.Status, e.Code, e.Message)
}
