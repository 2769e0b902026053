package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 15*time.Second, c.Monitor.Interval.Std())
	assert.Equal(t, 10*time.Second, c.Monitor.Timeout.Std())
	assert.Equal(t, 30*time.Second, c.Steam.ScanRetry.Std())
}

func TestLoad_NoFileMatchesDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	d := Default()
	assert.Equal(t, d.Monitor, c.Monitor)
	assert.Equal(t, d.Steam, c.Steam)
	assert.Equal(t, d.Server, c.Server)
	assert.Equal(t, d.Database, c.Database)
	require.NotNil(t, c.Classifier.Weights)
	assert.Equal(t, *d.Classifier.Weights, *c.Classifier.Weights)
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "playwatch.toml", `
[database]
dsn = "postgres://u:p@localhost/playwatch"

[monitor]
interval = "5s"
lister = "psutil"

[classifier]
ignore = ["overlay.exe"]
[classifier.weights]
path = 40

[steam]
root = "/srv/steam"
rescan_schedule = "@every 1h"
watch = false

[history]
sinks = ["sqlite://history.db", "opensearch://localhost:9200"]

[server]
enabled = true
listen = ":9000"
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost/playwatch", c.Database.DSN)
	assert.Equal(t, 5*time.Second, c.Monitor.Interval.Std())
	assert.Equal(t, 10*time.Second, c.Monitor.Timeout.Std(), "unset keys keep defaults")
	assert.Equal(t, "psutil", c.Monitor.Lister)
	assert.Equal(t, []string{"overlay.exe"}, c.Classifier.Ignore)
	require.NotNil(t, c.Classifier.Weights)
	assert.Equal(t, 40, c.Classifier.Weights.Path)
	assert.Equal(t, 30, c.Classifier.Weights.Parent)
	assert.Equal(t, "/srv/steam", c.Steam.Root)
	assert.Equal(t, "@every 1h", c.Steam.RescanSchedule)
	assert.False(t, c.Steam.Watch)
	assert.Len(t, c.History.Sinks, 2)
	assert.True(t, c.Server.Enabled)
	assert.Equal(t, ":9000", c.Server.Listen)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "playwatch.toml", "[monitor]\ninterval = \"5s\"\n")
	t.Setenv("PLAYWATCH_MONITOR_INTERVAL", "45s")
	t.Setenv("PLAYWATCH_DATABASE_DSN", "env.db")
	t.Setenv("PLAYWATCH_HISTORY_SINKS", "sqlite://a.db,sqlite://b.db")

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, c.Monitor.Interval.Std())
	assert.Equal(t, "env.db", c.Database.DSN)
	assert.Equal(t, []string{"sqlite://a.db", "sqlite://b.db"}, c.History.Sinks)
}

func TestLoad_EnvFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "secrets.env", `
# comment
PLAYWATCH_SERVER_AUTH_JWT_SECRET=from-file
PLAYWATCH_SERVER_AUTH_USERNAME=file-user
`)
	p := writeFile(t, dir, "playwatch.toml", `
env_files = ["secrets.env"]
[server.auth]
enabled = true
password_hash = "$2a$10$abcdefghijklmnopqrstuv"
`)
	// process environment wins over env files
	t.Setenv("PLAYWATCH_SERVER_AUTH_USERNAME", "env-user")
	t.Cleanup(func() { _ = os.Unsetenv("PLAYWATCH_SERVER_AUTH_JWT_SECRET") })

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "from-file", c.Server.Auth.JWTSecret)
	assert.Equal(t, "env-user", c.Server.Auth.Username)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)

	bad := writeFile(t, dir, "bad.toml", "[monitor\ninterval=")
	_, err = Load(bad)
	require.Error(t, err)

	dur := writeFile(t, dir, "dur.toml", "[monitor]\ninterval = \"soon\"\n")
	_, err = Load(dur)
	require.Error(t, err)

	envMissing := writeFile(t, dir, "env.toml", "env_files = [\"nope.env\"]\n")
	_, err = Load(envMissing)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"zero interval", func(c *Config) { c.Monitor.Interval = 0 }, "monitor.interval"},
		{"zero timeout", func(c *Config) { c.Monitor.Timeout = 0 }, "monitor.timeout"},
		{"bad lister", func(c *Config) { c.Monitor.Lister = "wmi" }, "monitor.lister"},
		{"bad classifier pattern", func(c *Config) { c.Classifier.EngineTokens = []string{"("} }, "engine_tokens"},
		{"steam retry", func(c *Config) { c.Steam.ScanRetry = 0 }, "steam.scan_retry"},
		{"history timeout", func(c *Config) { c.History.Timeout = 0 }, "history.timeout"},
		{"metrics listen", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Listen = "" }, "metrics.listen"},
		{"server listen", func(c *Config) { c.Server.Enabled = true; c.Server.Listen = " " }, "server.listen"},
		{"auth secret", func(c *Config) {
			c.Server.Auth.Enabled = true
			c.Server.Auth.PasswordHash = "x"
		}, "jwt_secret"},
		{"auth credentials", func(c *Config) {
			c.Server.Auth.Enabled = true
			c.Server.Auth.JWTSecret = "s"
		}, "password_hash"},
		{"tls without certificates", func(c *Config) { c.Server.TLS.Enabled = true; c.Server.TLS.CertFile = "a.crt" }, "server.tls"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteThenLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "conf", "playwatch.toml")

	c := Default()
	c.Monitor.Interval = Duration(90 * time.Second)
	c.Steam.Root = `C:\Program Files (x86)\Steam`
	c.History.Sinks = []string{"sqlite://history.db"}
	require.NoError(t, Write(p, c, false))

	info, err := os.Stat(p)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	got, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, got.Monitor.Interval.Std())
	assert.Equal(t, c.Steam.Root, got.Steam.Root)
	assert.Equal(t, c.History.Sinks, got.History.Sinks)

	require.Error(t, Write(p, c, false), "existing file is kept")
	require.NoError(t, Write(p, c, true))
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 1m30s ")))
	assert.Equal(t, 90*time.Second, d.Std())
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))

	require.NoError(t, d.UnmarshalText(nil))
	assert.Zero(t, d)
	require.Error(t, d.UnmarshalText([]byte("later")))
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a.env", "A=1\n# skipped\n\n B = two \nnoequals\nC=x=y\n")
	m, err := loadEnvFile(p)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "two", "C": "x=y"}, m)
}
