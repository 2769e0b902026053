package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/loykin/playwatch/internal/process"
	"github.com/loykin/playwatch/internal/store"
)

const steamCommon = "steamapps/common/"

// Resolve matches rec against the catalog: by executable name first, then by
// install directory. A directory match with no recorded executable is
// enriched with this process's executable name.
func (o *Orchestrator) Resolve(ctx context.Context, rec process.Record) (store.Game, bool) {
	repo := o.repository()
	if repo == nil {
		return store.Game{}, false
	}
	exe := strings.ToLower(strings.TrimSpace(rec.Name))
	if exe != "" {
		g, err := repo.GetByExecutable(ctx, exe)
		if err == nil {
			return g, true
		}
		if !errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("catalog lookup by executable failed", "executable", exe, "error", err)
			return store.Game{}, false
		}
	}

	g, ok := o.matchPath(ctx, repo, rec.ExecutablePath)
	if !ok {
		return store.Game{}, false
	}
	if g.Executable == "" && exe != "" {
		if _, err := repo.Upsert(ctx, store.Game{AppID: g.AppID, Source: g.Source, Executable: exe}); err != nil {
			o.logger.Warn("failed to record game executable", "app_id", g.AppID, "source", g.Source, "error", err)
		} else {
			o.logger.Info("game executable learned", "app_id", g.AppID, "source", g.Source, "executable", exe)
			g.Executable = exe
		}
	}
	return g, true
}

func (o *Orchestrator) matchPath(ctx context.Context, repo store.Repository, exePath string) (store.Game, bool) {
	norm := normalizePath(exePath)
	if norm == "" {
		return store.Game{}, false
	}
	if dir := steamInstallDir(norm); dir != "" {
		g, err := repo.GetByPath(ctx, dir)
		if err == nil {
			return g, true
		}
		if !errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("catalog lookup by path failed", "path", dir, "error", err)
			return store.Game{}, false
		}
	}
	games, err := repo.GetAll(ctx)
	if err != nil {
		o.logger.Warn("catalog scan for path match failed", "error", err)
		return store.Game{}, false
	}
	var best store.Game
	found := false
	for _, g := range games {
		if g.Path == "" || len(g.Path) <= len(best.Path) {
			continue
		}
		if strings.Contains(norm, "/"+g.Path+"/") {
			best, found = g, true
		}
	}
	return best, found
}

// normalizePath lower-cases p, uses forward slashes and adds a leading slash
// so directory matches can anchor on "/".
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = strings.ToLower(strings.ReplaceAll(p, `\`, "/"))
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// steamInstallDir extracts "steamapps/common/<dir>" from a normalized
// executable path.
func steamInstallDir(norm string) string {
	i := strings.LastIndex(norm, "/"+steamCommon)
	if i < 0 {
		return ""
	}
	rest := norm[i+1+len(steamCommon):]
	dir, _, ok := strings.Cut(rest, "/")
	if !ok || dir == "" {
		return ""
	}
	return steamCommon + dir
}
