// Package monitor polls the process table and tracks the one process most
// likely to be a running game.
//
// The monitor has two states. It is idle when no likely game is running and
// tracking when one is. Among several candidates the lowest pid wins. A poll
// that confirms the tracked process changes nothing; onChange fires only when
// the winner appears, is replaced by a different process, or disappears.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/playwatch/internal/classifier"
	"github.com/loykin/playwatch/internal/metrics"
	"github.com/loykin/playwatch/internal/process"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 10 * time.Second
)

// ErrPollInFlight is returned by Poll while another poll is running.
var ErrPollInFlight = errors.New("monitor: poll already in flight")

// Tracked is a classified process. Since is set when the monitor starts
// tracking it.
type Tracked struct {
	Process        process.Record            `json:"process"`
	Classification classifier.Classification `json:"classification"`
	Since          time.Time                 `json:"since,omitzero"`
}

// Change is the outcome of one poll.
type Change struct {
	Changed bool
	// Current is the tracked process after the poll, nil when idle.
	Current *Tracked
}

type Options struct {
	Interval time.Duration
	// Timeout bounds a single enumeration.
	Timeout time.Duration
	Logger  *slog.Logger
}

type Monitor struct {
	lister   process.Lister
	rules    classifier.Rules
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	inFlight atomic.Bool

	mu      sync.RWMutex
	current *Tracked
}

func New(lister process.Lister, rules classifier.Rules, opts Options) *Monitor {
	m := &Monitor{
		lister:   lister,
		rules:    rules,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Snapshot enumerates and classifies every process, ordered by pid.
func (m *Monitor) Snapshot(ctx context.Context) ([]Tracked, error) {
	recs, err := m.lister.List(ctx)
	if err != nil {
		if !errors.Is(err, process.ErrEnumeration) {
			err = fmt.Errorf("%w: %w", process.ErrEnumeration, err)
		}
		return nil, err
	}
	out := make([]Tracked, 0, len(recs))
	for _, r := range recs {
		out = append(out, Tracked{Process: r, Classification: classifier.Classify(r, m.rules)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Process.PID < out[j].Process.PID })
	return out, nil
}

// Candidates returns the likely-game processes, lowest pid first.
func (m *Monitor) Candidates(ctx context.Context) ([]Tracked, error) {
	all, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if t.Classification.LikelyGame {
			out = append(out, t)
		}
	}
	return out, nil
}

// Tracked returns a copy of the tracked process, or nil when idle.
func (m *Monitor) Tracked() *Tracked {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	c := *m.current
	return &c
}

// Poll runs one cycle. Polls never overlap: a concurrent call returns
// ErrPollInFlight. An enumeration failure leaves the tracked state untouched.
func (m *Monitor) Poll(ctx context.Context) (Change, error) {
	if !m.inFlight.CompareAndSwap(false, true) {
		metrics.IncPoll("skipped")
		return Change{}, ErrPollInFlight
	}
	defer m.inFlight.Store(false)

	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	start := time.Now()
	cands, err := m.Candidates(pctx)
	metrics.ObservePollDuration(time.Since(start).Seconds())
	if err == nil {
		// a result that lands after cancellation is discarded
		err = ctx.Err()
	}
	if err != nil {
		metrics.IncPoll("failed")
		return Change{Current: m.Tracked()}, err
	}
	metrics.IncPoll("ok")
	metrics.SetCandidates(len(cands))

	var winner *Tracked
	if len(cands) > 0 {
		w := cands[0]
		winner = &w
	}

	m.mu.Lock()
	prev := m.current
	changed := false
	switch {
	case winner == nil:
		changed = prev != nil
		m.current = nil
	case prev == nil || !sameProcess(prev.Process, winner.Process):
		winner.Since = time.Now()
		m.current = winner
		changed = true
	}
	var cur *Tracked
	if m.current != nil {
		c := *m.current
		cur = &c
	}
	m.mu.Unlock()

	if changed {
		if cur != nil {
			metrics.RecordTransition("started")
			m.logger.Info("game process detected", "pid", cur.Process.PID, "name", cur.Process.Name, "score", cur.Classification.Score)
		} else {
			metrics.RecordTransition("stopped")
			m.logger.Info("game process gone", "pid", prev.Process.PID, "name", prev.Process.Name)
		}
	}
	return Change{Changed: changed, Current: cur}, nil
}

// sameProcess compares pids, and start times when both are known so a reused
// pid counts as a new process.
func sameProcess(a, b process.Record) bool {
	if a.PID != b.PID {
		return false
	}
	if !a.StartedAt.IsZero() && !b.StartedAt.IsZero() {
		return a.StartedAt.Equal(b.StartedAt)
	}
	return true
}

// Start polls immediately and then every interval until ctx is done or the
// returned cancel func is called. onChange runs on the polling goroutine and
// receives nil when the tracked game stops. After cancel returns onChange is
// never called again. onChange must not call cancel itself.
func (m *Monitor) Start(ctx context.Context, onChange func(*Tracked)) (cancel func()) {
	ctx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			m.cycle(ctx, onChange)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			wg.Wait()
		})
	}
}

func (m *Monitor) cycle(ctx context.Context, onChange func(*Tracked)) {
	ch, err := m.Poll(ctx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, ErrPollInFlight):
			m.logger.Debug("poll skipped; previous poll still running")
		default:
			m.logger.Warn("process enumeration failed; skipping cycle", "error", err)
		}
		return
	}
	if ch.Changed && onChange != nil && ctx.Err() == nil {
		onChange(ch.Current)
	}
}
