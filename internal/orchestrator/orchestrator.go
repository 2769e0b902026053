// Package orchestrator wires the process monitor to the game catalog and turns
// tracked-game transitions into IntervalResponse notifications and play
// history events.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/playwatch/internal/history"
	"github.com/loykin/playwatch/internal/metrics"
	"github.com/loykin/playwatch/internal/monitor"
	"github.com/loykin/playwatch/internal/steam"
	"github.com/loykin/playwatch/internal/store"
)

const (
	DefaultScanRetry      = 30 * time.Second
	DefaultHistoryTimeout = 5 * time.Second

	SettingSteamRoot = "steam.root"
	SettingLastScan  = "catalog.last_scan"
)

// ErrNoRepository is returned by ScanCatalog in degraded mode.
var ErrNoRepository = errors.New("orchestrator: no catalog repository")

// CatalogScanner fills the repository from a storefront's install metadata.
type CatalogScanner interface {
	ScanCatalog(ctx context.Context, repo store.Repository) (steam.ScanResult, error)
}

type Options struct {
	// Repo may be nil; the orchestrator then runs degraded and reports only
	// process names.
	Repo    store.Repository
	Scanner CatalogScanner
	Monitor *monitor.Monitor
	Sinks   []history.Sink
	Logger  *slog.Logger

	ScanRetry      time.Duration
	HistoryTimeout time.Duration
	// AllowDegraded keeps Run going without the catalog when the first scan
	// cannot write to the repository.
	AllowDegraded bool
}

type listener struct {
	id int
	fn func(IntervalResponse)
}

type Orchestrator struct {
	opts     Options
	logger   *slog.Logger
	sessions *history.Sessions

	scanMu sync.Mutex

	mu        sync.RWMutex
	repo      store.Repository
	current   IntervalResponse
	listeners []listener
	nextID    int
	lastScan  *steam.ScanResult

	running sync.Mutex
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Monitor == nil {
		return nil, errors.New("orchestrator requires a monitor")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ScanRetry <= 0 {
		opts.ScanRetry = DefaultScanRetry
	}
	if opts.HistoryTimeout <= 0 {
		opts.HistoryTimeout = DefaultHistoryTimeout
	}
	return &Orchestrator{
		opts:     opts,
		logger:   opts.Logger,
		sessions: history.NewSessions(),
		repo:     opts.Repo,
		current:  Stopped(),
	}, nil
}

func (o *Orchestrator) repository() store.Repository {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.repo
}

// Degraded reports whether the orchestrator runs without a catalog.
func (o *Orchestrator) Degraded() bool { return o.repository() == nil }

// Repository returns the catalog, nil when degraded.
func (o *Orchestrator) Repository() store.Repository { return o.repository() }

// Subscribe registers fn for every IntervalResponse. Listeners run
// synchronously on the polling goroutine, in subscription order.
func (o *Orchestrator) Subscribe(fn func(IntervalResponse)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	id := o.nextID
	o.listeners = append(o.listeners, listener{id: id, fn: fn})
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, l := range o.listeners {
			if l.id == id {
				o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
				return
			}
		}
	}
}

// Current returns the last emitted response; Stopped before any transition.
func (o *Orchestrator) Current() IntervalResponse {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// Tracked returns the process currently tracked by the monitor.
func (o *Orchestrator) Tracked() *monitor.Tracked { return o.opts.Monitor.Tracked() }

// LastScan returns the result of the last successful catalog scan.
func (o *Orchestrator) LastScan() (steam.ScanResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.lastScan == nil {
		return steam.ScanResult{}, false
	}
	return *o.lastScan, true
}

// ScanCatalog runs one catalog scan. Scans are serialized.
func (o *Orchestrator) ScanCatalog(ctx context.Context) (steam.ScanResult, error) {
	repo := o.repository()
	if repo == nil {
		return steam.ScanResult{}, ErrNoRepository
	}
	if o.opts.Scanner == nil {
		return steam.ScanResult{}, steam.ErrClientNotFound
	}
	o.scanMu.Lock()
	defer o.scanMu.Unlock()

	res, err := o.opts.Scanner.ScanCatalog(ctx, repo)
	metrics.AddManifestFailures(res.Failed)
	if err != nil {
		if errors.Is(err, steam.ErrClientNotFound) {
			metrics.IncScan("client_not_found")
		} else {
			metrics.IncScan("failed")
		}
		return res, err
	}
	metrics.IncScan("ok")

	if err := repo.SetSetting(ctx, SettingSteamRoot, res.Root); err != nil {
		return res, err
	}
	if err := repo.SetSetting(ctx, SettingLastScan, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return res, err
	}
	if games, err := repo.GetAll(ctx); err == nil {
		metrics.SetCatalogGames(len(games))
	}
	o.mu.Lock()
	o.lastScan = &res
	o.mu.Unlock()
	return res, nil
}

// Run scans the catalog, starts the monitor and blocks until ctx is done. A
// repository write failure during the first scan is returned unless
// AllowDegraded is set. While the storefront client is missing the scan is
// retried every ScanRetry in the background. Run may not be called
// concurrently with itself.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.TryLock() {
		return errors.New("orchestrator already running")
	}
	defer o.running.Unlock()

	var wg sync.WaitGroup
	if o.repository() != nil {
		_, err := o.ScanCatalog(ctx)
		switch {
		case err == nil:
		case errors.Is(err, steam.ErrClientNotFound):
			o.logger.Warn("game client not found; retrying catalog scan", "every", o.opts.ScanRetry, "error", err)
			wg.Add(1)
			go func() {
				defer wg.Done()
				o.retryScan(ctx)
			}()
		case errors.Is(err, store.ErrWrite):
			if !o.opts.AllowDegraded {
				return fmt.Errorf("initial catalog scan: %w", err)
			}
			o.logger.Error("catalog unavailable; running degraded", "error", err)
			o.mu.Lock()
			o.repo = nil
			o.mu.Unlock()
		case ctx.Err() != nil:
			return nil
		default:
			o.logger.Warn("initial catalog scan failed", "error", err)
		}
	} else {
		o.logger.Warn("no catalog repository; running degraded")
	}

	cancel := o.opts.Monitor.Start(ctx, func(t *monitor.Tracked) { o.handle(ctx, t) })
	<-ctx.Done()
	cancel()
	wg.Wait()
	o.closeSession()
	return nil
}

func (o *Orchestrator) retryScan(ctx context.Context) {
	ticker := time.NewTicker(o.opts.ScanRetry)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		_, err := o.ScanCatalog(ctx)
		switch {
		case err == nil:
			return
		case errors.Is(err, steam.ErrClientNotFound):
			o.logger.Debug("game client still not found", "error", err)
		case ctx.Err() != nil:
			return
		default:
			o.logger.Error("catalog scan failed", "error", err)
			return
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, t *monitor.Tracked) {
	resp := Stopped()
	var next *history.Event
	if t != nil {
		g, ok := o.Resolve(ctx, t.Process)
		resp = Build(t.Process, g, ok)
		next = &history.Event{
			PID:        t.Process.PID,
			AppID:      deref(resp.AppID),
			Source:     deref(resp.Source),
			Name:       deref(resp.Name),
			Executable: t.Process.Name,
		}
	}
	o.mu.Lock()
	o.current = resp
	ls := make([]listener, len(o.listeners))
	copy(ls, o.listeners)
	o.mu.Unlock()

	o.logger.Info("game state changed", "state", resp.State, "app_id", deref(resp.AppID), "source", deref(resp.Source), "name", deref(resp.Name))
	for _, l := range ls {
		o.notify(l, resp)
	}
	o.record(o.sessions.Transition(next))
}

func (o *Orchestrator) notify(l listener, resp IntervalResponse) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("listener panicked", "panic", r)
		}
	}()
	l.fn(resp)
}

// closeSession emits the stopped event for a session still open at shutdown.
func (o *Orchestrator) closeSession() {
	if _, open := o.sessions.Open(); open {
		o.record(o.sessions.Transition(nil))
	}
}

func (o *Orchestrator) record(events []history.Event) {
	for _, e := range events {
		for _, s := range o.opts.Sinks {
			ctx, cancel := context.WithTimeout(context.Background(), o.opts.HistoryTimeout)
			err := s.Send(ctx, e)
			cancel()
			if err != nil {
				metrics.IncHistoryEvent(string(e.Type), "failed")
				o.logger.Warn("history sink failed", "event", e.Type, "session", e.SessionID, "error", err)
				continue
			}
			metrics.IncHistoryEvent(string(e.Type), "ok")
		}
	}
}
