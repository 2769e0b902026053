package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/loykin/playwatch/internal/classifier"
	"github.com/loykin/playwatch/internal/logger"
	"github.com/loykin/playwatch/internal/process"
)

// EnvPrefix prefixes environment overrides, e.g. PLAYWATCH_DATABASE_DSN.
const EnvPrefix = "PLAYWATCH"

// Config is the top-level TOML structure.
type Config struct {
	// EnvFiles are .env files loaded before environment overrides are read.
	// Variables already set in the process environment win.
	EnvFiles   []string           `mapstructure:"env_files" toml:"env_files"`
	Database   DatabaseConfig     `mapstructure:"database" toml:"database"`
	Monitor    MonitorConfig      `mapstructure:"monitor" toml:"monitor"`
	Classifier classifier.Options `mapstructure:"classifier" toml:"classifier"`
	Steam      SteamConfig        `mapstructure:"steam" toml:"steam"`
	Catalog    CatalogConfig      `mapstructure:"catalog" toml:"catalog"`
	History    HistoryConfig      `mapstructure:"history" toml:"history"`
	Metrics    MetricsConfig      `mapstructure:"metrics" toml:"metrics"`
	Server     ServerConfig       `mapstructure:"server" toml:"server"`
	Log        logger.Config      `mapstructure:"log" toml:"log"`
}

type DatabaseConfig struct {
	// DSN selects the catalog backend: a SQLite path or sqlite:// URL, or a
	// postgres:// URL. Empty runs without a catalog.
	DSN string `mapstructure:"dsn" toml:"dsn"`
}

type MonitorConfig struct {
	Interval   Duration `mapstructure:"interval" toml:"interval"`
	Timeout    Duration `mapstructure:"timeout" toml:"timeout"`
	Lister     string   `mapstructure:"lister" toml:"lister"`
	PowerShell string   `mapstructure:"powershell" toml:"powershell"`
}

type SteamConfig struct {
	Enabled bool `mapstructure:"enabled" toml:"enabled"`
	// Root skips client discovery when set.
	Root           string   `mapstructure:"root" toml:"root"`
	ScanRetry      Duration `mapstructure:"scan_retry" toml:"scan_retry"`
	RescanSchedule string   `mapstructure:"rescan_schedule" toml:"rescan_schedule"`
	Watch          bool     `mapstructure:"watch" toml:"watch"`
	WatchDebounce  Duration `mapstructure:"watch_debounce" toml:"watch_debounce"`
}

type CatalogConfig struct {
	// Seed is a file path or http(s) URL of a JSON/YAML mappings list.
	Seed string `mapstructure:"seed" toml:"seed"`
}

type HistoryConfig struct {
	Sinks   []string `mapstructure:"sinks" toml:"sinks"`
	Timeout Duration `mapstructure:"timeout" toml:"timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Listen  string `mapstructure:"listen" toml:"listen"`
}

type ServerConfig struct {
	Enabled  bool       `mapstructure:"enabled" toml:"enabled"`
	Listen   string     `mapstructure:"listen" toml:"listen"`
	BasePath string     `mapstructure:"base_path" toml:"base_path"`
	Auth     AuthConfig `mapstructure:"auth" toml:"auth"`
	TLS      TLSConfig  `mapstructure:"tls" toml:"tls"`
}

// TLSConfig serves the API over HTTPS. CertFile and KeyFile take precedence;
// otherwise tls.crt and tls.key are read from Dir, generated there first
// when AutoGenerate is set.
type TLSConfig struct {
	Enabled      bool       `mapstructure:"enabled" toml:"enabled"`
	CertFile     string     `mapstructure:"cert_file" toml:"cert_file"`
	KeyFile      string     `mapstructure:"key_file" toml:"key_file"`
	Dir          string     `mapstructure:"dir" toml:"dir"`
	AutoGenerate bool       `mapstructure:"auto_generate" toml:"auto_generate"`
	AutoGen      AutoGenTLS `mapstructure:"auto_gen" toml:"auto_gen"`
	// MinVersion and MaxVersion accept "1.2" or "1.3"; both default to 1.3.
	MinVersion string `mapstructure:"min_version" toml:"min_version"`
	MaxVersion string `mapstructure:"max_version" toml:"max_version"`
}

// AutoGenTLS describes the self-signed certificate written by auto_generate.
type AutoGenTLS struct {
	CommonName   string   `mapstructure:"common_name" toml:"common_name"`
	Organization string   `mapstructure:"organization" toml:"organization"`
	DNSNames     []string `mapstructure:"dns_names" toml:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses" toml:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days" toml:"valid_days"`
}

type AuthConfig struct {
	Enabled      bool     `mapstructure:"enabled" toml:"enabled"`
	Username     string   `mapstructure:"username" toml:"username"`
	PasswordHash string   `mapstructure:"password_hash" toml:"password_hash"`
	JWTSecret    string   `mapstructure:"jwt_secret" toml:"jwt_secret"`
	TokenTTL     Duration `mapstructure:"token_ttl" toml:"token_ttl"`
}

// Default returns the built-in configuration.
func Default() Config {
	w := classifier.DefaultWeights()
	return Config{
		EnvFiles: []string{},
		Database: DatabaseConfig{DSN: "playwatch.db"},
		Monitor: MonitorConfig{
			Interval: Duration(15 * time.Second),
			Timeout:  Duration(10 * time.Second),
			Lister:   process.KindAuto,
		},
		Classifier: classifier.Options{
			Ignore:        []string{},
			LauncherPaths: []string{},
			GenericPaths:  []string{},
			LauncherNames: []string{},
			EngineTokens:  []string{},
			Weights:       &w,
		},
		Steam: SteamConfig{
			Enabled:       true,
			ScanRetry:     Duration(30 * time.Second),
			Watch:         true,
			WatchDebounce: Duration(2 * time.Second),
		},
		History: HistoryConfig{Sinks: []string{}, Timeout: Duration(5 * time.Second)},
		Metrics: MetricsConfig{Listen: "127.0.0.1:9464"},
		Server: ServerConfig{
			Listen:   "127.0.0.1:8787",
			BasePath: "/api",
			Auth:     AuthConfig{Username: "admin", TokenTTL: Duration(24 * time.Hour)},
			TLS:      TLSConfig{AutoGen: AutoGenTLS{DNSNames: []string{}, IPAddresses: []string{}}},
		},
		Log: logger.Config{Level: "info", Format: "text", Color: "auto"},
	}
}

func setDefaults(v *viper.Viper, d Config) {
	set := map[string]any{
		"env_files":                        d.EnvFiles,
		"database.dsn":                     d.Database.DSN,
		"monitor.interval":                 d.Monitor.Interval.String(),
		"monitor.timeout":                  d.Monitor.Timeout.String(),
		"monitor.lister":                   d.Monitor.Lister,
		"monitor.powershell":               d.Monitor.PowerShell,
		"classifier.ignore":                d.Classifier.Ignore,
		"classifier.launcher_paths":        d.Classifier.LauncherPaths,
		"classifier.generic_paths":         d.Classifier.GenericPaths,
		"classifier.launcher_names":        d.Classifier.LauncherNames,
		"classifier.engine_tokens":         d.Classifier.EngineTokens,
		"classifier.weights.path":          d.Classifier.Weights.Path,
		"classifier.weights.parent":        d.Classifier.Weights.Parent,
		"classifier.weights.engine":        d.Classifier.Weights.Engine,
		"classifier.weights.token":         d.Classifier.Weights.Token,
		"steam.enabled":                    d.Steam.Enabled,
		"steam.root":                       d.Steam.Root,
		"steam.scan_retry":                 d.Steam.ScanRetry.String(),
		"steam.rescan_schedule":            d.Steam.RescanSchedule,
		"steam.watch":                      d.Steam.Watch,
		"steam.watch_debounce":             d.Steam.WatchDebounce.String(),
		"catalog.seed":                     d.Catalog.Seed,
		"history.sinks":                    d.History.Sinks,
		"history.timeout":                  d.History.Timeout.String(),
		"metrics.enabled":                  d.Metrics.Enabled,
		"metrics.listen":                   d.Metrics.Listen,
		"server.enabled":                   d.Server.Enabled,
		"server.listen":                    d.Server.Listen,
		"server.base_path":                 d.Server.BasePath,
		"server.auth.enabled":              d.Server.Auth.Enabled,
		"server.auth.username":             d.Server.Auth.Username,
		"server.auth.password_hash":        d.Server.Auth.PasswordHash,
		"server.auth.jwt_secret":           d.Server.Auth.JWTSecret,
		"server.auth.token_ttl":            d.Server.Auth.TokenTTL.String(),
		"server.tls.enabled":               d.Server.TLS.Enabled,
		"server.tls.cert_file":             d.Server.TLS.CertFile,
		"server.tls.key_file":              d.Server.TLS.KeyFile,
		"server.tls.dir":                   d.Server.TLS.Dir,
		"server.tls.auto_generate":         d.Server.TLS.AutoGenerate,
		"server.tls.auto_gen.common_name":  d.Server.TLS.AutoGen.CommonName,
		"server.tls.auto_gen.organization": d.Server.TLS.AutoGen.Organization,
		"server.tls.auto_gen.dns_names":    d.Server.TLS.AutoGen.DNSNames,
		"server.tls.auto_gen.ip_addresses": d.Server.TLS.AutoGen.IPAddresses,
		"server.tls.auto_gen.valid_days":   d.Server.TLS.AutoGen.ValidDays,
		"server.tls.min_version":           d.Server.TLS.MinVersion,
		"server.tls.max_version":           d.Server.TLS.MaxVersion,
		"log.level":                        d.Log.Level,
		"log.format":                       d.Log.Format,
		"log.color":                        d.Log.Color,
		"log.file.path":                    d.Log.File.Path,
		"log.file.max_size_mb":             d.Log.File.MaxSizeMB,
		"log.file.max_backups":             d.Log.File.MaxBackups,
		"log.file.max_age_days":            d.Log.File.MaxAgeDays,
		"log.file.compress":                d.Log.File.Compress,
	}
	for k, val := range set {
		v.SetDefault(k, val)
	}
}

// Load reads the TOML file at path (optional) over the defaults, then applies
// PLAYWATCH_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for _, f := range v.GetStringSlice("env_files") {
		if path != "" && !filepath.IsAbs(f) {
			f = filepath.Join(filepath.Dir(path), f)
		}
		if err := applyEnvFile(f); err != nil {
			return nil, err
		}
	}

	var c Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&c, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive"))
	}
	if c.Monitor.Timeout <= 0 {
		errs = append(errs, errors.New("monitor.timeout must be positive"))
	}
	switch c.Monitor.Lister {
	case "", process.KindAuto, process.KindCIM, process.KindPsutil:
	default:
		errs = append(errs, fmt.Errorf("monitor.lister must be one of auto, cim, psutil (got %q)", c.Monitor.Lister))
	}
	if _, err := classifier.Compile(c.Classifier); err != nil {
		errs = append(errs, err)
	}
	if c.Steam.Enabled && c.Steam.ScanRetry <= 0 {
		errs = append(errs, errors.New("steam.scan_retry must be positive"))
	}
	if c.History.Timeout <= 0 {
		errs = append(errs, errors.New("history.timeout must be positive"))
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Listen) == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}
	if c.Server.Enabled && strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required when the server is enabled"))
	}
	if a := c.Server.Auth; a.Enabled {
		if a.JWTSecret == "" {
			errs = append(errs, errors.New("server.auth.jwt_secret is required when auth is enabled"))
		}
		if a.Username == "" || a.PasswordHash == "" {
			errs = append(errs, errors.New("server.auth.username and password_hash are required when auth is enabled"))
		}
		if a.TokenTTL <= 0 {
			errs = append(errs, errors.New("server.auth.token_ttl must be positive"))
		}
	}
	if t := c.Server.TLS; t.Enabled {
		hasFiles := t.CertFile != "" && t.KeyFile != ""
		if !hasFiles && t.Dir == "" {
			errs = append(errs, errors.New("server.tls needs cert_file and key_file, or dir"))
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Write renders cfg as TOML at path. Existing files are kept unless overwrite
// is set. The file may hold secrets, so it is created 0600.
func Write(path string, cfg Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	b, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, b, 0o600)
}

// applyEnvFile sets variables from a KEY=VALUE file that are not already set.
func applyEnvFile(path string) error {
	m, err := loadEnvFile(path)
	if err != nil {
		return err
	}
	for k, val := range m {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, val); err != nil {
			return err
		}
	}
	return nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
