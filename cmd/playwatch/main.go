package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/playwatch"
	"github.com/loykin/playwatch/internal/logger"
	"github.com/loykin/playwatch/internal/server"
	pwtls "github.com/loykin/playwatch/internal/tls"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot(newCommand())
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot wires every subcommand onto the root command.
func buildRoot(pw command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createScanCommand(pw, globalFlags),
		createGamesCommand(pw, globalFlags),
		createStateCommand(pw, globalFlags),
		createProcessesCommand(pw, globalFlags),
		createClassifyCommand(pw, globalFlags),
		createConfigCommand(pw),
		createAuthCommand(pw, globalFlags),
		createVersionCommand(pw),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "playwatch",
		Short: "Detect which game is being played",
		Long: `Playwatch watches the process table, recognizes running games and
resolves them against a catalog built from the Steam library.

Examples:
  playwatch serve --config=playwatch.toml   # Run the detector and its API
  playwatch scan                            # Rebuild the catalog once
  playwatch processes --all                 # Show every process with its score
  playwatch state --api-url=http://host:8787/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8787/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.Token, "token", os.Getenv("PLAYWATCH_TOKEN"), "bearer token (default from saved login)")
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the detector daemon",
		Long: `Run the detector: scan the catalog, poll processes and serve the HTTP API
and metrics as configured.

Examples:
  playwatch serve
  playwatch serve playwatch.toml --allow-degraded
  playwatch serve --daemonize --pidfile=/run/playwatch.pid --logfile=/var/log/playwatch.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				flags.ConfigPath = args[0]
			}
			return runServeCommand(*flags)
		},
	}
	cmd.Flags().BoolVar(&flags.AllowDegraded, "allow-degraded", false, "keep running without a catalog database")
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func runServeCommand(flags ServeFlags) error {
	cfg, err := loadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}
	if flags.Daemonize {
		return daemonize(flags.LogFile)
	}

	log, closer, err := logger.New(cfg.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closer.Close() }()

	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	var opts []playwatch.Option
	if flags.AllowDegraded {
		opts = append(opts, playwatch.WithAllowDegraded())
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, log, opts...)
}

// serve runs the detector with its listeners until ctx is done or a
// listener fails.
func serve(ctx context.Context, cfg *playwatch.Config, log *slog.Logger, opts ...playwatch.Option) error {
	app, err := playwatch.New(*cfg, log, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	var servers []*http.Server
	if cfg.Metrics.Enabled {
		if err := playwatch.RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", playwatch.MetricsHandler())
		servers = append(servers, server.NewServer(cfg.Metrics.Listen, mux))
	}
	if cfg.Server.Enabled {
		api := server.NewServer(cfg.Server.Listen, app.Handler())
		if api.TLSConfig, err = pwtls.Setup(cfg.Server.TLS); err != nil {
			return fmt.Errorf("server.tls: %w", err)
		}
		servers = append(servers, api)
	}

	listenErr := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *http.Server) {
			log.Info("listening", "addr", s.Addr, "tls", s.TLSConfig != nil)
			var err error
			if s.TLSConfig != nil {
				err = s.ListenAndServeTLS("", "")
			} else {
				err = s.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				listenErr <- fmt.Errorf("listen %s: %w", s.Addr, err)
			}
		}(s)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(runCtx) }()

	select {
	case err = <-runErr:
		runErr = nil
	case err = <-listenErr:
	}
	cancel()
	if runErr != nil {
		if rerr := <-runErr; err == nil {
			err = rerr
		}
	}

	log.Info("shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	for _, s := range servers {
		_ = s.Shutdown(sctx)
	}
	return err
}

func createScanCommand(pw command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan the Steam libraries into the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pw.Scan(cmd.Context(), globalFlags.ConfigPath)
		},
	}
}

func createGamesCommand(pw command, globalFlags *GlobalFlags) *cobra.Command {
	games := &cobra.Command{
		Use:   "games",
		Short: "Query the game catalog",
		Long: `Query the local catalog database, or a daemon with --api-url.

Examples:
  playwatch games list --source=steam
  playwatch games get 1145360
  playwatch games lookup --executable=Hades.exe
  playwatch games lookup --path='steamapps\common\Hades' --api-url=http://host:8787/api`,
	}

	listFlags := &GamesFlags{}
	list := &cobra.Command{
		Use:   "list",
		Short: "List catalog games",
		RunE: func(cmd *cobra.Command, args []string) error {
			listFlags.ConfigPath = globalFlags.ConfigPath
			return pw.GamesList(cmd.Context(), *listFlags)
		},
	}
	list.Flags().StringVar(&listFlags.Source, "source", "", "only this source")
	addAPIFlags(list, &listFlags.API)

	getFlags := &GamesFlags{}
	get := &cobra.Command{
		Use:   "get <app-id>",
		Short: "Show one game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			getFlags.ConfigPath = globalFlags.ConfigPath
			return pw.GamesGet(cmd.Context(), *getFlags, args[0])
		},
	}
	get.Flags().StringVar(&getFlags.Source, "source", "", "game source (required with --api-url)")
	addAPIFlags(get, &getFlags.API)

	lookupFlags := &GamesFlags{}
	lookup := &cobra.Command{
		Use:   "lookup",
		Short: "Find a game by executable or install path",
		RunE: func(cmd *cobra.Command, args []string) error {
			lookupFlags.ConfigPath = globalFlags.ConfigPath
			return pw.GamesLookup(cmd.Context(), *lookupFlags)
		},
	}
	lookup.Flags().StringVar(&lookupFlags.Executable, "executable", "", "executable file name")
	lookup.Flags().StringVar(&lookupFlags.Path, "path", "", "install path relative to the storefront root")
	lookup.MarkFlagsMutuallyExclusive("executable", "path")
	addAPIFlags(lookup, &lookupFlags.API)

	games.AddCommand(list, get, lookup)
	return games
}

func createStateCommand(pw command, globalFlags *GlobalFlags) *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the daemon's current game",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pw.State(cmd.Context(), globalFlags.ConfigPath, *flags)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createProcessesCommand(pw command, globalFlags *GlobalFlags) *cobra.Command {
	flags := &ProcessesFlags{}
	cmd := &cobra.Command{
		Use:   "processes",
		Short: "List running processes the classifier considers games",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = globalFlags.ConfigPath
			return pw.Processes(cmd.Context(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.All, "all", false, "include processes below the game threshold")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON")
	return cmd
}

func createClassifyCommand(pw command, globalFlags *GlobalFlags) *cobra.Command {
	flags := &ClassifyFlags{}
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Score a process description against the classifier rules",
		Long: `Score a process without running it.

Examples:
  playwatch classify --name=Hades.exe --path='C:\Steam\steamapps\common\Hades\Hades.exe'
  playwatch classify --name=cyber.exe --cmdline='cyber.exe -vulkan'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = globalFlags.ConfigPath
			return pw.Classify(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "process name")
	cmd.Flags().StringVar(&flags.Path, "path", "", "executable path")
	cmd.Flags().StringVar(&flags.CommandLine, "cmdline", "", "command line")
	cmd.Flags().StringVar(&flags.Description, "description", "", "file description")
	cmd.Flags().IntVar(&flags.SessionID, "session", 1, "session id (0 is the service session)")
	return cmd
}

func createConfigCommand(pw command) *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	flags := &ConfigInitFlags{}
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				flags.Path = args[0]
			}
			return pw.ConfigInit(*flags)
		},
	}
	initCmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite an existing file")
	cfg.AddCommand(initCmd)
	return cfg
}

func createAuthCommand(pw command, globalFlags *GlobalFlags) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "API authentication helpers",
	}

	var password string
	hash := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for server.auth.password_hash",
		Long: `Print a bcrypt hash. The password is read from stdin unless --password is given.

Examples:
  echo 's3cret' | playwatch auth hash-password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pw.HashPassword(password)
		},
	}
	hash.Flags().StringVar(&password, "password", "", "password to hash")

	tokenFlags := &TokenFlags{}
	token := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			tokenFlags.ConfigPath = globalFlags.ConfigPath
			return pw.Token(*tokenFlags)
		},
	}
	token.Flags().StringVar(&tokenFlags.Subject, "subject", "", "token subject (default server.auth.username)")
	token.Flags().DurationVar(&tokenFlags.TTL, "ttl", 0, "token lifetime (default server.auth.token_ttl)")

	loginFlags := &LoginFlags{}
	login := &cobra.Command{
		Use:   "login",
		Short: "Log in to a daemon and save the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pw.Login(cmd.Context(), *loginFlags)
		},
	}
	login.Flags().StringVar(&loginFlags.Username, "username", "", "user name")
	login.Flags().StringVar(&loginFlags.Password, "password", "", "password (read from stdin when empty)")
	login.Flags().StringVar(&loginFlags.API.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8787/api)")
	login.Flags().DurationVar(&loginFlags.API.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pw.Logout()
		},
	}

	authCmd.AddCommand(hash, token, login, logout)
	return authCmd
}

func createVersionCommand(pw command) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(pw.out, "playwatch %s\n", version)
		},
	}
}
