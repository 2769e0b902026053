package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/loykin/playwatch"
	"github.com/loykin/playwatch/internal/catalog"
	"github.com/loykin/playwatch/internal/config"
	"github.com/loykin/playwatch/internal/store"
	"github.com/loykin/playwatch/pkg/client"
)

type command struct {
	out      io.Writer
	in       io.Reader
	sessions *SessionManager
	// lister overrides the configured process lister.
	lister playwatch.ProcessLister
	logger *slog.Logger
}

func newCommand() command {
	return command{
		out:      os.Stdout,
		in:       os.Stdin,
		sessions: NewSessionManager(),
		logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
}

func (c *command) processLister(cfg *playwatch.Config) (playwatch.ProcessLister, error) {
	if c.lister != nil {
		return c.lister, nil
	}
	return playwatch.NewLister(cfg.Monitor.Lister, cfg.Monitor.PowerShell)
}

// Scan runs one catalog scan against the local database.
func (c *command) Scan(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	lister, err := c.processLister(cfg)
	if err != nil {
		return err
	}
	cfg.Steam.Enabled = true
	app, err := playwatch.New(*cfg, c.logger, playwatch.WithLister(lister))
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	res, err := app.ScanCatalog(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Scanned %s: %d libraries, %d games stored, %d manifests failed\n",
		res.Root, len(res.Libraries), res.Stored, res.Failed)
	return nil
}

func (c *command) openRepo(ctx context.Context, configPath string) (playwatch.Repository, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return playwatch.OpenRepository(ctx, cfg.Database.DSN)
}

// GamesList prints the catalog, optionally limited to one source.
func (c *command) GamesList(ctx context.Context, f GamesFlags) error {
	var games []playwatch.Game
	if f.API.APIUrl != "" {
		cl, err := c.apiClient(f.API)
		if err != nil {
			return err
		}
		remote, err := cl.Games(ctx)
		if err != nil {
			return err
		}
		for _, g := range remote {
			games = append(games, playwatch.Game(g))
		}
	} else {
		repo, err := c.openRepo(ctx, f.ConfigPath)
		if err != nil {
			return err
		}
		defer func() { _ = repo.Close() }()
		if games, err = repo.GetAll(ctx); err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SOURCE\tAPP ID\tNAME\tEXECUTABLE\tPATH")
	for _, g := range games {
		if f.Source != "" && !strings.EqualFold(g.Source, f.Source) {
			continue
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", g.Source, g.AppID, orDash(g.Name), orDash(g.Executable), orDash(g.Path))
	}
	return tw.Flush()
}

// GamesGet prints one game by app id. An empty source matches any.
func (c *command) GamesGet(ctx context.Context, f GamesFlags, appID string) error {
	if f.API.APIUrl != "" {
		if f.Source == "" {
			return errors.New("--source is required with --api-url")
		}
		cl, err := c.apiClient(f.API)
		if err != nil {
			return err
		}
		g, err := cl.Game(ctx, f.Source, appID)
		if err != nil {
			return err
		}
		printJSON(c.out, g)
		return nil
	}
	repo, err := c.openRepo(ctx, f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()
	g, err := repo.GetByAppID(ctx, appID, f.Source)
	if err != nil {
		return fmt.Errorf("game %s: %w", appID, err)
	}
	printJSON(c.out, g)
	return nil
}

// GamesLookup resolves a game by executable name or install path.
func (c *command) GamesLookup(ctx context.Context, f GamesFlags) error {
	if (f.Executable == "") == (f.Path == "") {
		return errors.New("exactly one of --executable or --path is required")
	}
	if f.API.APIUrl != "" {
		cl, err := c.apiClient(f.API)
		if err != nil {
			return err
		}
		g, err := cl.Lookup(ctx, client.LookupQuery{Executable: f.Executable, Path: f.Path})
		if err != nil {
			return err
		}
		printJSON(c.out, g)
		return nil
	}

	repo, err := c.openRepo(ctx, f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()
	key := catalog.Normalize(store.Game{Executable: f.Executable, Path: f.Path})
	var g playwatch.Game
	if key.Executable != "" {
		g, err = repo.GetByExecutable(ctx, key.Executable)
	} else {
		g, err = repo.GetByPath(ctx, key.Path)
	}
	if err != nil {
		return err
	}
	printJSON(c.out, g)
	return nil
}

// State prints the daemon's current game state.
func (c *command) State(ctx context.Context, configPath string, f APIFlags) error {
	if f.APIUrl == "" && !c.hasSession() {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		f.APIUrl = apiURLFromConfig(cfg)
	}
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	st, err := cl.State(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}

// Processes lists the visible processes with their game score.
func (c *command) Processes(ctx context.Context, f ProcessesFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	lister, err := c.processLister(cfg)
	if err != nil {
		return err
	}
	rules, err := playwatch.CompileRules(cfg.Classifier)
	if err != nil {
		return err
	}
	recs, err := lister.List(ctx)
	if err != nil {
		return err
	}

	type row struct {
		Process        playwatch.ProcessRecord  `json:"process"`
		Classification playwatch.Classification `json:"classification"`
	}
	rows := make([]row, 0, len(recs))
	for _, r := range recs {
		cl := playwatch.Classify(r, rules)
		if !f.All && !cl.LikelyGame {
			continue
		}
		rows = append(rows, row{Process: r, Classification: cl})
	}
	if f.JSON {
		printJSON(c.out, rows)
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PID\tNAME\tSCORE\tGAME\tPATH")
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\t%t\t%s\n", r.Process.PID, r.Process.Name,
			r.Classification.Score, r.Classification.LikelyGame, orDash(r.Process.ExecutablePath))
	}
	return tw.Flush()
}

// Classify scores a hand-described process.
func (c *command) Classify(f ClassifyFlags) error {
	if f.Name == "" && f.Path == "" {
		return errors.New("--name or --path is required")
	}
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	rules, err := playwatch.CompileRules(cfg.Classifier)
	if err != nil {
		return err
	}
	rec := playwatch.ProcessRecord{
		PID:             1,
		Name:            f.Name,
		ExecutablePath:  f.Path,
		CommandLine:     f.CommandLine,
		FileDescription: f.Description,
		SessionID:       f.SessionID,
	}
	printJSON(c.out, playwatch.Classify(rec, rules))
	return nil
}

// ConfigInit writes the default configuration.
func (c *command) ConfigInit(f ConfigInitFlags) error {
	if f.Path == "" {
		f.Path = "playwatch.toml"
	}
	if err := config.Write(f.Path, playwatch.DefaultConfig(), f.Force); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Wrote %s\n", f.Path)
	return nil
}
