// Package catalog loads curated game mappings into the repository.
//
// A seed is a JSON or YAML list of {appId, source, name, executable, path}
// entries. It fills in executables and names that a storefront scan cannot
// know about, and lets non-Steam titles be recognized at all.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loykin/playwatch/internal/store"
)

// maxSeedBytes bounds a remote seed document.
const maxSeedBytes = 8 << 20

type seedEntry struct {
	AppID      any    `yaml:"appId"`
	Source     string `yaml:"source"`
	Name       string `yaml:"name"`
	Executable string `yaml:"executable"`
	Path       string `yaml:"path"`
}

// ParseSeed decodes a seed document. JSON is accepted as YAML. appId may be a
// string or a number.
func ParseSeed(data []byte) ([]store.Game, error) {
	var entries []seedEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	out := make([]store.Game, 0, len(entries))
	for i, e := range entries {
		g := store.Game{Source: e.Source, Name: e.Name, Executable: e.Executable, Path: e.Path}
		if e.AppID != nil {
			g.AppID = fmt.Sprint(e.AppID)
		}
		g = Normalize(g)
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("seed entry %d: %w", i, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Normalize brings a hand-written record into the stored form: executable
// lower-cased, path lower-cased with forward slashes and no outer slashes.
func Normalize(g store.Game) store.Game {
	g.AppID = strings.TrimSpace(g.AppID)
	g.Source = strings.TrimSpace(g.Source)
	g.Name = strings.TrimSpace(g.Name)
	g.Executable = strings.ToLower(strings.TrimSpace(g.Executable))
	g.Path = normalizePath(g.Path)
	return g
}

func normalizePath(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	p = strings.ReplaceAll(p, `\`, "/")
	return strings.Trim(p, "/")
}

// LoadSeed reads a seed from a file path or an http(s) URL.
func LoadSeed(ctx context.Context, location string, client *http.Client) ([]store.Game, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, nil
	}
	var (
		data []byte
		err  error
	)
	lower := strings.ToLower(location)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		data, err = fetch(ctx, location, client)
	} else {
		data, err = os.ReadFile(location)
	}
	if err != nil {
		return nil, fmt.Errorf("load seed %s: %w", location, err)
	}
	return ParseSeed(data)
}

func fetch(ctx context.Context, url string, client *http.Client) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSeedBytes))
}

// Apply upserts every game and returns how many were written. It stops at the
// first repository error.
func Apply(ctx context.Context, repo store.Repository, games []store.Game) (int, error) {
	n := 0
	for _, g := range games {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := repo.Upsert(ctx, g); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
