package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/playwatch/internal/store"
)

// DB implements store.Repository for SQLite (modernc.org/sqlite driver, CGO-free).
// The DSN is a filesystem path to the database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

var _ store.Repository = (*DB)(nil)

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", p, err)
	}
	// single connection: pragmas below are per-connection and every connection
	// to :memory: is a separate database
	d.SetMaxOpenConns(1)
	ctx := context.Background()
	if err := d.PingContext(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", p, err)
	}
	// busy timeout helps with short concurrent locks between scans and enrichment
	if _, err := d.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", p, err)
	}
	if !isMemory(p) {
		if _, err := d.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("set WAL mode on %s: %w", p, err)
		}
	}
	return &DB{db: d}, nil
}

func isMemory(p string) bool {
	return p == ":memory:" || strings.Contains(p, "mode=memory")
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS games(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			app_id TEXT NOT NULL,
			source TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			executable TEXT NULL,
			path TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_games_app_id_source ON games(app_id, source);`,
		`CREATE INDEX IF NOT EXISTS idx_games_path ON games(path);`,
		`CREATE INDEX IF NOT EXISTS idx_games_executable ON games(executable);`,
		`CREATE TABLE IF NOT EXISTS settings(
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%w: ensure schema: %w", store.ErrWrite, err)
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Upsert(ctx context.Context, g store.Game) (int64, error) {
	if err := g.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO games(app_id, source, name, executable, path)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(app_id, source) DO UPDATE SET
			name=COALESCE(NULLIF(excluded.name, ''), games.name),
			executable=COALESCE(NULLIF(excluded.executable, ''), games.executable),
			path=COALESCE(NULLIF(excluded.path, ''), games.path)
		RETURNING id;`,
		g.AppID, g.Source, strings.TrimSpace(g.Name), store.NullIfEmpty(g.Executable), strings.TrimSpace(g.Path)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: upsert %s/%s: %w", store.ErrWrite, g.Source, g.AppID, err)
	}
	return id, nil
}

const selectGame = `SELECT id, app_id, source, name, executable, path FROM games`

func (s *DB) GetByAppID(ctx context.Context, appID, source string) (store.Game, error) {
	if source == "" {
		return store.ScanGame(s.db.QueryRowContext(ctx,
			selectGame+` WHERE app_id=? ORDER BY id ASC LIMIT 1;`, appID))
	}
	return store.ScanGame(s.db.QueryRowContext(ctx,
		selectGame+` WHERE app_id=? AND source=?;`, appID, source))
}

func (s *DB) GetByPath(ctx context.Context, path string) (store.Game, error) {
	return store.ScanGame(s.db.QueryRowContext(ctx,
		selectGame+` WHERE path=? ORDER BY id ASC LIMIT 1;`, path))
}

func (s *DB) GetByExecutable(ctx context.Context, executable string) (store.Game, error) {
	return store.ScanGame(s.db.QueryRowContext(ctx,
		selectGame+` WHERE executable=? ORDER BY id ASC LIMIT 1;`, executable))
}

func (s *DB) GetAll(ctx context.Context) ([]store.Game, error) {
	rows, err := s.db.QueryContext(ctx, selectGame+` ORDER BY id ASC;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return store.ScanGames(rows)
}

func (s *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?;`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return v, err
}

func (s *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, key, value)
	if err != nil {
		return fmt.Errorf("%w: set setting %s: %w", store.ErrWrite, key, err)
	}
	return nil
}
