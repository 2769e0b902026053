package process

import (
	"context"
	"fmt"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// PsutilLister enumerates processes through gopsutil. Platforms without
// interactive sessions map the real uid onto SessionID, so processes owned by
// root (uid 0) land in the service session and are never classified as games.
type PsutilLister struct{}

func (l *PsutilLister) List(ctx context.Context) ([]Record, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnumeration, err)
	}
	out := make([]Record, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEnumeration, err)
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// exited between listing and inspection
			continue
		}
		rec := Record{PID: int(p.Pid), Name: name, SessionID: UnknownSession}
		if ppid, err := p.PpidWithContext(ctx); err == nil {
			rec.ParentPID = int(ppid)
		}
		if exe, err := p.ExeWithContext(ctx); err == nil {
			rec.ExecutablePath = exe
		}
		if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
			rec.CommandLine = cmdline
		}
		if uids, err := p.UidsWithContext(ctx); err == nil && len(uids) > 0 {
			rec.SessionID = int(uids[0])
		}
		rec.StartedAt = startTime(ctx, rec.PID)
		out = append(out, rec)
	}
	return out, nil
}
