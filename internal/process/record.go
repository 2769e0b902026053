package process

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// UnknownSession marks a record whose enumeration did not report a session id.
// Only an explicit 0 denotes the non-interactive service session.
const UnknownSession = -1

// ErrEnumeration is returned when the OS process table could not be read or parsed.
var ErrEnumeration = errors.New("process enumeration failed")

// Record is a single row of the OS process table as observed by one poll.
// Records are rebuilt on every poll and never persisted.
type Record struct {
	PID             int       `json:"pid"`
	ParentPID       int       `json:"parent_pid,omitempty"`
	Name            string    `json:"name"`
	ExecutablePath  string    `json:"executable_path,omitempty"`
	CommandLine     string    `json:"command_line,omitempty"`
	SessionID       int       `json:"session_id"`
	FileDescription string    `json:"file_description,omitempty"`
	StartedAt       time.Time `json:"started_at,omitzero"`
}

// Lister enumerates the processes visible to the current user.
type Lister interface {
	List(ctx context.Context) ([]Record, error)
}

// ListerFunc adapts a plain function to the Lister interface.
type ListerFunc func(ctx context.Context) ([]Record, error)

func (f ListerFunc) List(ctx context.Context) ([]Record, error) { return f(ctx) }

// Lister kinds accepted by NewLister.
const (
	KindAuto   = "auto"
	KindCIM    = "cim"
	KindPsutil = "psutil"
)

// NewLister returns the lister for kind. KindAuto selects the CIM query on
// Windows and gopsutil everywhere else.
func NewLister(kind, powershell string) (Lister, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindAuto:
		if runtime.GOOS == "windows" {
			return &CIMLister{Shell: powershell}, nil
		}
		return &PsutilLister{}, nil
	case KindCIM:
		return &CIMLister{Shell: powershell}, nil
	case KindPsutil:
		return &PsutilLister{}, nil
	default:
		return nil, fmt.Errorf("unknown process lister %q", kind)
	}
}
