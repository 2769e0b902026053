// Package cron runs named background tasks on cron schedules.
//
// Schedules accept the standard five fields, an optional leading seconds
// field, and descriptors such as "@hourly" or "@every 30m". A task never
// overlaps itself: a tick that arrives while the previous run is still active
// is skipped.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates expr and returns its schedule.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("empty schedule")
	}
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return s, nil
}

type job struct {
	name     string
	schedule string
	fn       func(ctx context.Context)
	running  atomic.Bool
	runs     atomic.Int64
}

// Entry describes a registered task.
type Entry struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitzero"`
	Prev     time.Time `json:"prev,omitzero"`
	Runs     int64     `json:"runs"`
}

// Scheduler owns one robfig cron instance. Tasks receive a context that is
// canceled by Stop.
type Scheduler struct {
	mu      sync.Mutex
	c       *cron.Cron
	jobs    map[string]*job
	ids     map[string]cron.EntryID
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		c:      cron.New(cron.WithParser(parser)),
		jobs:   make(map[string]*job),
		ids:    make(map[string]cron.EntryID),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn under a unique name. It may be called before or after Start.
func (s *Scheduler) Add(name, schedule string, fn func(ctx context.Context)) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("cron task requires a name")
	}
	if fn == nil {
		return fmt.Errorf("cron task %s: nil func", name)
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("cron task %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("cron task %q already exists", name)
	}
	j := &job{name: name, schedule: strings.TrimSpace(schedule), fn: fn}
	s.jobs[name] = j
	s.ids[name] = s.c.Schedule(sched, cron.FuncJob(func() { s.run(j) }))
	s.logger.Info("cron task scheduled", "name", name, "schedule", j.schedule)
	return nil
}

// Remove unschedules a task. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.ids[name]; ok {
		s.c.Remove(id)
		delete(s.ids, name)
		delete(s.jobs, name)
	}
}

func (s *Scheduler) run(j *job) {
	if !j.running.CompareAndSwap(false, true) {
		s.logger.Debug("cron task still running, tick skipped", "name", j.name)
		return
	}
	defer j.running.Store(false)
	if s.ctx.Err() != nil {
		return
	}
	j.runs.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cron task panicked", "name", j.name, "panic", r)
		}
	}()
	j.fn(s.ctx)
}

// Start begins firing tasks. Starting twice is an error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	if s.ctx.Err() != nil {
		return errors.New("scheduler stopped")
	}
	s.started = true
	s.c.Start()
	return nil
}

// Stop cancels running tasks and waits for them to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries lists registered tasks by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.jobs))
	for name, j := range s.jobs {
		e := s.c.Entry(s.ids[name])
		out = append(out, Entry{Name: name, Schedule: j.schedule, Next: e.Next, Prev: e.Prev, Runs: j.runs.Load()})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}
