package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// Source identifiers for catalog records.
const (
	SourceSteam = "steam"
)

var (
	// ErrNotFound is returned by point lookups that match no row.
	ErrNotFound = errors.New("store: not found")
	// ErrWrite wraps failures to write to the backing database.
	ErrWrite = errors.New("store: write failed")
	// ErrInvalidGame is returned when a record lacks its (app id, source) key.
	ErrInvalidGame = errors.New("store: game requires app id and source")
)

// Game is one catalog entry. (AppID, Source) is unique.
// Empty Name, Executable or Path on Upsert means "keep what is stored".
// Path is storefront-relative and lower-cased, e.g. "steamapps/common/hades".
type Game struct {
	ID         int64  `json:"id,omitempty" yaml:"-"`
	AppID      string `json:"app_id" yaml:"appId"`
	Source     string `json:"source" yaml:"source"`
	Name       string `json:"name" yaml:"name"`
	Executable string `json:"executable,omitempty" yaml:"executable"`
	Path       string `json:"path" yaml:"path"`
}

// Validate trims the key fields and checks they are present.
func (g *Game) Validate() error {
	g.AppID = strings.TrimSpace(g.AppID)
	g.Source = strings.TrimSpace(g.Source)
	if g.AppID == "" || g.Source == "" {
		return ErrInvalidGame
	}
	return nil
}

// Repository is the catalog store. Implementations must make Upsert a single
// atomic statement so concurrent catalog scans and executable enrichment never
// lose each other's fields.
type Repository interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, g Game) (int64, error)
	// GetByAppID returns the row for (appID, source). With an empty source it
	// returns the earliest inserted row for appID.
	GetByAppID(ctx context.Context, appID, source string) (Game, error)
	GetByPath(ctx context.Context, path string) (Game, error)
	GetByExecutable(ctx context.Context, executable string) (Game, error)
	GetAll(ctx context.Context) ([]Game, error)
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	Close() error
}

// NullIfEmpty maps "" to SQL NULL.
func NullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// RowScanner is satisfied by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// ScanGame reads the column list id, app_id, source, name, executable, path.
func ScanGame(r RowScanner) (Game, error) {
	var (
		g    Game
		exe  sql.NullString
		name sql.NullString
		path sql.NullString
	)
	if err := r.Scan(&g.ID, &g.AppID, &g.Source, &name, &exe, &path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Game{}, ErrNotFound
		}
		return Game{}, err
	}
	g.Name = name.String
	g.Executable = exe.String
	g.Path = path.String
	return g, nil
}

// ScanGames drains rows into a slice.
func ScanGames(rows *sql.Rows) ([]Game, error) {
	out := make([]Game, 0)
	for rows.Next() {
		g, err := ScanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
