// Package playwatch detects which game is being played on this machine.
//
// It polls the OS process table, scores every process with a heuristic
// classifier, tracks the most likely game and resolves it against a catalog
// of installed titles built from the Steam library metadata. Consumers
// subscribe to IntervalResponse notifications.
package playwatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/playwatch/internal/auth"
	"github.com/loykin/playwatch/internal/catalog"
	"github.com/loykin/playwatch/internal/classifier"
	cfg "github.com/loykin/playwatch/internal/config"
	"github.com/loykin/playwatch/internal/cron"
	"github.com/loykin/playwatch/internal/history"
	hfactory "github.com/loykin/playwatch/internal/history/factory"
	"github.com/loykin/playwatch/internal/metrics"
	"github.com/loykin/playwatch/internal/monitor"
	"github.com/loykin/playwatch/internal/orchestrator"
	"github.com/loykin/playwatch/internal/process"
	"github.com/loykin/playwatch/internal/server"
	"github.com/loykin/playwatch/internal/steam"
	"github.com/loykin/playwatch/internal/store"
	sfactory "github.com/loykin/playwatch/internal/store/factory"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Game = store.Game

type Repository = store.Repository

type IntervalResponse = orchestrator.IntervalResponse

type ProcessRecord = process.Record

type ProcessLister = process.Lister

type Classification = classifier.Classification

type Rules = classifier.Rules

type ClassifierOptions = classifier.Options

type Tracked = monitor.Tracked

type ScanResult = steam.ScanResult

type SteamLocator = steam.Locator

type HistorySink = history.Sink

type HistoryEvent = history.Event

type Config = cfg.Config

// Duration is the config duration type; it reads and writes "15s" style text.
type Duration = cfg.Duration

// CatalogRescanTask names the scheduled rescan in the cron scheduler.
const CatalogRescanTask = "catalog-rescan"

var (
	ErrEnumeration     = process.ErrEnumeration
	ErrClientNotFound  = steam.ErrClientNotFound
	ErrManifestParse   = steam.ErrManifestParse
	ErrRepositoryWrite = store.ErrWrite
	ErrNotFound        = store.ErrNotFound
)

func Classify(rec ProcessRecord, rules Rules) Classification { return classifier.Classify(rec, rules) }

func DefaultRules() Rules { return classifier.DefaultRules() }

func CompileRules(opts ClassifierOptions) (Rules, error) { return classifier.Compile(opts) }

func DefaultConfig() Config { return cfg.Default() }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewLister returns the process lister for kind: "auto", "cim" or "psutil".
func NewLister(kind, powershell string) (ProcessLister, error) {
	return process.NewLister(kind, powershell)
}

// OpenRepository opens the catalog named by dsn and creates its schema.
func OpenRepository(ctx context.Context, dsn string) (Repository, error) {
	repo, err := sfactory.NewFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

func MetricsHandler() http.Handler { return metrics.Handler() }

// Option customizes New.
type Option func(*options)

type options struct {
	lister        process.Lister
	locator       steam.Locator
	repo          store.Repository
	sinks         []history.Sink
	allowDegraded bool
	seedClient    *http.Client
}

// WithLister replaces the configured process lister.
func WithLister(l ProcessLister) Option { return func(o *options) { o.lister = l } }

// WithSteamLocator replaces Steam client discovery.
func WithSteamLocator(l SteamLocator) Option { return func(o *options) { o.locator = l } }

// WithRepository uses repo instead of opening database.dsn. The caller keeps
// ownership; Close does not close it.
func WithRepository(repo Repository) Option { return func(o *options) { o.repo = repo } }

// WithHistorySinks adds sinks to those named in history.sinks.
func WithHistorySinks(s ...HistorySink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s...) }
}

// WithAllowDegraded keeps the app usable without a catalog: an unopenable
// database or a failing first scan is logged instead of returned.
func WithAllowDegraded() Option { return func(o *options) { o.allowDegraded = true } }

// WithSeedClient sets the HTTP client used for a remote catalog seed.
func WithSeedClient(c *http.Client) Option { return func(o *options) { o.seedClient = c } }

// App is a fully wired detector.
type App struct {
	cfg      Config
	logger   *slog.Logger
	rules    Rules
	repo     store.Repository
	ownsRepo bool
	sinks    []history.Sink
	closers  []io.Closer
	lister   process.Lister
	mon      *monitor.Monitor
	resolver *steam.Resolver
	orch     *orchestrator.Orchestrator
	sched    *cron.Scheduler
	auth     *auth.Service
	seedHTTP *http.Client
}

// New assembles the detector described by c.
func New(c Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	rules, err := classifier.Compile(c.Classifier)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: c, logger: logger, rules: rules, seedHTTP: o.seedClient}
	if a.seedHTTP == nil {
		a.seedHTTP = &http.Client{Timeout: 30 * time.Second}
	}

	a.lister = o.lister
	if a.lister == nil {
		if a.lister, err = process.NewLister(c.Monitor.Lister, c.Monitor.PowerShell); err != nil {
			return nil, err
		}
	}

	a.repo = o.repo
	if a.repo == nil && c.Database.DSN != "" {
		repo, err := OpenRepository(context.Background(), c.Database.DSN)
		switch {
		case err == nil:
			a.repo, a.ownsRepo = repo, true
		case o.allowDegraded:
			logger.Error("catalog database unavailable; running degraded", "dsn", c.Database.DSN, "error", err)
		default:
			return nil, fmt.Errorf("open catalog: %w", err)
		}
	}

	for _, dsn := range c.History.Sinks {
		s, err := hfactory.NewSinkFromDSN(dsn)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("history sink %q: %w", dsn, err)
		}
		a.sinks = append(a.sinks, s)
		if cl, ok := s.(io.Closer); ok {
			a.closers = append(a.closers, cl)
		}
	}
	a.sinks = append(a.sinks, o.sinks...)

	a.mon = monitor.New(a.lister, rules, monitor.Options{
		Interval: c.Monitor.Interval.Std(),
		Timeout:  c.Monitor.Timeout.Std(),
		Logger:   logger.With("component", "monitor"),
	})

	var scanner orchestrator.CatalogScanner
	if c.Steam.Enabled {
		loc := o.locator
		if loc == nil {
			loc = a.defaultLocator()
		}
		a.resolver = steam.NewResolver(loc, logger.With("component", "steam"))
		scanner = a.resolver
	}

	a.orch, err = orchestrator.New(orchestrator.Options{
		Repo:           a.repo,
		Scanner:        scanner,
		Monitor:        a.mon,
		Sinks:          a.sinks,
		Logger:         logger.With("component", "orchestrator"),
		ScanRetry:      c.Steam.ScanRetry.Std(),
		HistoryTimeout: c.History.Timeout.Std(),
		AllowDegraded:  o.allowDegraded,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.sched = cron.NewScheduler(logger.With("component", "cron"))
	if c.Steam.Enabled && c.Steam.RescanSchedule != "" {
		err := a.sched.Add(CatalogRescanTask, c.Steam.RescanSchedule, func(ctx context.Context) {
			if _, err := a.orch.ScanCatalog(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("scheduled catalog rescan failed", "error", err)
			}
		})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	a.auth, err = auth.NewService(auth.Config{
		Enabled:      c.Server.Auth.Enabled,
		Username:     c.Server.Auth.Username,
		PasswordHash: c.Server.Auth.PasswordHash,
		JWTSecret:    c.Server.Auth.JWTSecret,
		TokenTTL:     c.Server.Auth.TokenTTL.Std(),
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// defaultLocator tries the configured root, the running client, the registry,
// the root remembered from the last scan and the usual install locations.
func (a *App) defaultLocator() steam.Locator {
	if a.cfg.Steam.Root != "" {
		return steam.StaticLocator{Root: a.cfg.Steam.Root}
	}
	chain := steam.Chain{
		steam.ProcessLocator{Lister: a.lister},
		steam.RegistryLocator{},
	}
	if a.repo != nil {
		repo := a.repo
		chain = append(chain, steam.LocatorFunc(func(ctx context.Context) (string, error) {
			root, err := repo.GetSetting(ctx, orchestrator.SettingSteamRoot)
			if err != nil {
				return "", fmt.Errorf("%w: no remembered root", steam.ErrClientNotFound)
			}
			return steam.StaticLocator{Root: root}.Locate(ctx)
		}))
	}
	for _, root := range defaultSteamRoots() {
		chain = append(chain, steam.StaticLocator{Root: root})
	}
	return chain
}

func defaultSteamRoots() []string {
	if runtime.GOOS == "windows" {
		return []string{`C:\Program Files (x86)\Steam`, `C:\Program Files\Steam`}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".local", "share", "Steam"),
		filepath.Join(home, ".steam", "steam"),
		filepath.Join(home, "Library", "Application Support", "Steam"),
	}
}

// Run seeds and scans the catalog, starts scheduled rescans and library
// watching, and tracks games until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.seedCatalog(ctx)

	if err := a.sched.Start(); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.sched.Stop(sctx); err != nil {
			a.logger.Warn("cron tasks did not stop in time", "error", err)
		}
	}()

	var wg sync.WaitGroup
	wctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		wg.Wait()
	}()
	if a.resolver != nil && a.cfg.Steam.Watch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.watchLibraries(wctx)
		}()
	}
	return a.orch.Run(ctx)
}

func (a *App) seedCatalog(ctx context.Context) {
	if a.cfg.Catalog.Seed == "" || a.orch.Degraded() {
		return
	}
	games, err := catalog.LoadSeed(ctx, a.cfg.Catalog.Seed, a.seedHTTP)
	if err != nil {
		a.logger.Warn("catalog seed unavailable", "location", a.cfg.Catalog.Seed, "error", err)
		return
	}
	n, err := catalog.Apply(ctx, a.orch.Repository(), games)
	if err != nil {
		a.logger.Error("catalog seed failed", "applied", n, "error", err)
		return
	}
	a.logger.Info("catalog seeded", "location", a.cfg.Catalog.Seed, "games", n)
}

// watchLibraries waits for the client to be found, then rescans whenever a
// library's manifests change.
func (a *App) watchLibraries(ctx context.Context) {
	retry := a.cfg.Steam.ScanRetry.Std()
	for {
		_, libs, err := a.resolver.ResolveLibraries(ctx)
		if err == nil {
			err = steam.Watch(ctx, libs, a.cfg.Steam.WatchDebounce.Std(), a.logger.With("component", "steam-watch"), func() {
				if _, err := a.orch.ScanCatalog(ctx); err != nil && ctx.Err() == nil {
					a.logger.Warn("catalog rescan after library change failed", "error", err)
				}
			})
			if err == nil || ctx.Err() != nil {
				return
			}
			a.logger.Warn("library watch stopped", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// Subscribe registers fn for every IntervalResponse.
func (a *App) Subscribe(fn func(IntervalResponse)) (unsubscribe func()) { return a.orch.Subscribe(fn) }

func (a *App) Current() IntervalResponse { return a.orch.Current() }

func (a *App) Tracked() *Tracked { return a.orch.Tracked() }

func (a *App) ScanCatalog(ctx context.Context) (ScanResult, error) { return a.orch.ScanCatalog(ctx) }

// Snapshot enumerates and classifies every visible process.
func (a *App) Snapshot(ctx context.Context) ([]Tracked, error) { return a.mon.Snapshot(ctx) }

// Repository returns the catalog, nil when degraded.
func (a *App) Repository() Repository { return a.orch.Repository() }

func (a *App) Rules() Rules { return a.rules }

// Handler returns the HTTP API mounted under server.base_path.
func (a *App) Handler() http.Handler { return a.Router().Handler() }

// Router exposes the API routes for mounting in another gin engine.
func (a *App) Router() *server.Router {
	return server.NewRouter(a.orch, a.rules, a.auth, a.cfg.Server.BasePath).WithLogger(a.logger.With("component", "http"))
}

// Close releases the catalog and history sinks opened by New.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	if a.ownsRepo && a.repo != nil {
		errs = append(errs, a.repo.Close())
		a.repo = nil
	}
	return errors.Join(errs...)
}
