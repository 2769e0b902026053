package steam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/loykin/playwatch/internal/store"
)

// Resolver turns a located Steam install into catalog rows.
type Resolver struct {
	locator Locator
	logger  *slog.Logger
}

func NewResolver(loc Locator, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{locator: loc, logger: logger}
}

// ScanResult summarizes one catalog scan.
type ScanResult struct {
	Root      string   `json:"root"`
	Libraries []string `json:"libraries"`
	Stored    int      `json:"stored"`
	Failed    int      `json:"failed"`
}

// ResolveLibraries locates the client and reads its library list.
func (r *Resolver) ResolveLibraries(ctx context.Context) (string, []string, error) {
	if r.locator == nil {
		return "", nil, ErrClientNotFound
	}
	root, err := r.locator.Locate(ctx)
	if err != nil {
		return "", nil, err
	}
	libs, err := ReadLibraryFolders(root)
	if err != nil {
		return root, nil, err
	}
	return root, libs, nil
}

// ScanCatalog upserts every installed app found in every library. A manifest
// that cannot be read is logged and counted; a repository write failure stops
// the scan.
func (r *Resolver) ScanCatalog(ctx context.Context, repo store.Repository) (ScanResult, error) {
	root, libs, err := r.ResolveLibraries(ctx)
	res := ScanResult{Root: root, Libraries: libs}
	if err != nil {
		return res, err
	}
	for _, lib := range libs {
		dir := filepath.Join(lib, "steamapps")
		entries, err := os.ReadDir(dir)
		if err != nil {
			r.logger.Warn("steam library unreadable", "dir", dir, "error", err)
			continue
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			appID, ok := AppIDFromFilename(name)
			if !ok {
				continue
			}
			p := filepath.Join(dir, name)
			m, err := readManifest(p)
			if err != nil {
				res.Failed++
				r.logger.Error("failed to read manifest", "path", p, "error", err)
				continue
			}
			_, err = repo.Upsert(ctx, store.Game{
				AppID:  appID,
				Source: store.SourceSteam,
				Name:   m.Name,
				Path:   m.GamePath(),
			})
			if err != nil {
				if !errors.Is(err, store.ErrWrite) {
					err = fmt.Errorf("%w: %w", store.ErrWrite, err)
				}
				return res, err
			}
			res.Stored++
		}
	}
	r.logger.Info("steam catalog scanned", "root", root, "libraries", len(libs), "games", res.Stored, "failed", res.Failed)
	return res, nil
}

func readManifest(path string) (InstallManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return InstallManifest{}, fmt.Errorf("%w: %w", ErrManifestParse, err)
	}
	defer func() { _ = f.Close() }()
	return ParseManifest(f)
}
