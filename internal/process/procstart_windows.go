//go:build windows

package process

import (
	"context"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// startTime returns when pid was created, or the zero time when unknown.
func startTime(ctx context.Context, pid int) time.Time {
	if pid <= 0 {
		return time.Time{}
	}
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return time.Time{}
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
