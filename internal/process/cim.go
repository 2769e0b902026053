package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// DefaultShell is the PowerShell binary used by CIMLister when Shell is empty.
const DefaultShell = "powershell.exe"

// cimQuery lists interactive-session processes through WMI/CIM. FileDescription
// is read from the executable's version resource.
const cimQuery = "$ErrorActionPreference='Stop'; " +
	"Get-CimInstance -ClassName Win32_Process | " +
	"Where-Object { $_.SessionId -ne 0 } | " +
	`Select-Object ProcessId, ParentProcessId, Name, ExecutablePath, CommandLine, SessionId, @{Name="FileDescription";Expression={if ($_.ExecutablePath) { (Get-Item $_.ExecutablePath).VersionInfo.FileDescription } else { $null }}} | ` +
	"ConvertTo-Json -Compress"

// CIMLister enumerates processes with a PowerShell Get-CimInstance query.
type CIMLister struct {
	Shell string
	// ExeFallback resolves an executable path when CIM reports none.
	// Defaults to gopsutil, which uses QueryFullProcessImageName on Windows.
	ExeFallback func(ctx context.Context, pid int) string
}

type cimProcess struct {
	ProcessID       int     `json:"ProcessId"`
	ParentProcessID *int    `json:"ParentProcessId"`
	Name            *string `json:"Name"`
	ExecutablePath  *string `json:"ExecutablePath"`
	CommandLine     *string `json:"CommandLine"`
	SessionID       *int    `json:"SessionId"`
	FileDescription *string `json:"FileDescription"`
}

func (l *CIMLister) List(ctx context.Context) ([]Record, error) {
	shell := l.Shell
	if shell == "" {
		shell = DefaultShell
	}
	// #nosec G204 -- fixed query, shell comes from configuration
	cmd := exec.CommandContext(ctx, shell, "-NoProfile", "-NonInteractive", "-Command", cimQuery)
	hideWindow(cmd)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrEnumeration, ctx.Err())
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return nil, fmt.Errorf("%w: %s exited with %d: %s", ErrEnumeration, shell, ee.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: %w", ErrEnumeration, err)
	}
	recs, err := ParseCIM(out)
	if err != nil {
		return nil, err
	}
	fallback := l.ExeFallback
	if fallback == nil {
		fallback = exeFromPID
	}
	for i := range recs {
		if recs[i].ExecutablePath == "" {
			recs[i].ExecutablePath = fallback(ctx, recs[i].PID)
		}
	}
	return recs, nil
}

// ParseCIM decodes ConvertTo-Json output. PowerShell emits a bare object when
// the pipeline yields one item and an array otherwise; empty output means no
// processes matched.
func ParseCIM(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var raw []cimProcess
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: decode process list: %w", ErrEnumeration, err)
		}
	} else {
		var one cimProcess
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("%w: decode process: %w", ErrEnumeration, err)
		}
		raw = []cimProcess{one}
	}
	out := make([]Record, 0, len(raw))
	for _, p := range raw {
		rec := Record{
			PID:             p.ProcessID,
			Name:            deref(p.Name),
			ExecutablePath:  deref(p.ExecutablePath),
			CommandLine:     deref(p.CommandLine),
			FileDescription: deref(p.FileDescription),
			SessionID:       UnknownSession,
		}
		if p.ParentProcessID != nil {
			rec.ParentPID = *p.ParentProcessID
		}
		if p.SessionID != nil {
			rec.SessionID = *p.SessionID
		}
		out = append(out, rec)
	}
	return out, nil
}

func exeFromPID(ctx context.Context, pid int) string {
	if pid <= 0 {
		return ""
	}
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return ""
	}
	exe, err := p.ExeWithContext(ctx)
	if err != nil {
		return ""
	}
	return exe
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
