package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/playwatch/internal/store"
)

// DB implements store.Repository on PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

var _ store.Repository = (*DB)(nil)

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS games(
			id BIGSERIAL PRIMARY KEY,
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
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%w: ensure schema: %w", store.ErrWrite, err)
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Upsert(ctx context.Context, g store.Game) (int64, error) {
	if err := g.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO games(app_id, source, name, executable, path)
		VALUES($1,$2,$3,$4,$5)
		ON CONFLICT(app_id, source) DO UPDATE SET
			name=COALESCE(NULLIF(EXCLUDED.name, ''), games.name),
			executable=COALESCE(NULLIF(EXCLUDED.executable, ''), games.executable),
			path=COALESCE(NULLIF(EXCLUDED.path, ''), games.path)
		RETURNING id;`,
		g.AppID, g.Source, strings.TrimSpace(g.Name), store.NullIfEmpty(g.Executable), strings.TrimSpace(g.Path)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: upsert %s/%s: %w", store.ErrWrite, g.Source, g.AppID, err)
	}
	return id, nil
}

const selectGame = `SELECT id, app_id, source, name, executable, path FROM games`

func (p *DB) GetByAppID(ctx context.Context, appID, source string) (store.Game, error) {
	if source == "" {
		return store.ScanGame(p.db.QueryRowContext(ctx,
			selectGame+` WHERE app_id=$1 ORDER BY id ASC LIMIT 1;`, appID))
	}
	return store.ScanGame(p.db.QueryRowContext(ctx,
		selectGame+` WHERE app_id=$1 AND source=$2;`, appID, source))
}

func (p *DB) GetByPath(ctx context.Context, path string) (store.Game, error) {
	return store.ScanGame(p.db.QueryRowContext(ctx,
		selectGame+` WHERE path=$1 ORDER BY id ASC LIMIT 1;`, path))
}

func (p *DB) GetByExecutable(ctx context.Context, executable string) (store.Game, error) {
	return store.ScanGame(p.db.QueryRowContext(ctx,
		selectGame+` WHERE executable=$1 ORDER BY id ASC LIMIT 1;`, executable))
}

func (p *DB) GetAll(ctx context.Context) ([]store.Game, error) {
	rows, err := p.db.QueryContext(ctx, selectGame+` ORDER BY id ASC;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return store.ScanGames(rows)
}

func (p *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=$1;`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return v, err
}

func (p *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO settings(key, value) VALUES($1,$2)
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value;`, key, value)
	if err != nil {
		return fmt.Errorf("%w: set setting %s: %w", store.ErrWrite, key, err)
	}
	return nil
}
