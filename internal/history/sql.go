package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Dialect holds what differs between SQL backends of the play_history table.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Column types for the session id, timestamps and the duration.
	SessionType, TimeType, BigIntType string
}

var (
	SQLite = Dialect{
		Name:        "sqlite",
		Placeholder: func(int) string { return "?" },
		SessionType: "TEXT", TimeType: "TIMESTAMP", BigIntType: "INTEGER",
	}
	Postgres = Dialect{
		Name:        "postgres",
		Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		SessionType: "UUID", TimeType: "TIMESTAMPTZ", BigIntType: "BIGINT",
	}
)

var historyColumns = []string{
	"occurred_at", "event", "session_id", "pid", "app_id", "source", "name", "executable", "duration_ms",
}

// SQLTable appends events to play_history. A (session_id, event) pair is
// stored once, so resending an event is a no-op.
type SQLTable struct {
	db      *sql.DB
	dialect Dialect
	insert  string
}

func NewSQLTable(db *sql.DB, d Dialect) *SQLTable {
	args := make([]string, len(historyColumns))
	for i := range args {
		args[i] = d.Placeholder(i + 1)
	}
	q := fmt.Sprintf(`INSERT INTO play_history(%s) VALUES(%s) ON CONFLICT(session_id, event) DO NOTHING;`,
		strings.Join(historyColumns, ", "), strings.Join(args, ", "))
	return &SQLTable{db: db, dialect: d, insert: q}
}

// EnsureSchema creates play_history and its indexes when missing.
func (t *SQLTable) EnsureSchema(ctx context.Context) error {
	d := t.dialect
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS play_history(
			occurred_at %s NOT NULL,
			event TEXT NOT NULL,
			session_id %s NOT NULL,
			pid INTEGER NOT NULL,
			app_id TEXT NULL,
			source TEXT NULL,
			name TEXT NULL,
			executable TEXT NULL,
			duration_ms %s NOT NULL DEFAULT 0
		);`, d.TimeType, d.SessionType, d.BigIntType),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_play_history_session_event ON play_history(session_id, event);`,
		`CREATE INDEX IF NOT EXISTS idx_play_history_app ON play_history(app_id);`,
	}
	for _, q := range stmts {
		if _, err := t.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s play_history schema: %w", d.Name, err)
		}
	}
	return nil
}

func (t *SQLTable) Send(ctx context.Context, e Event) error {
	_, err := t.db.ExecContext(ctx, t.insert,
		e.OccurredAt.UTC(), string(e.Type), e.SessionID, e.PID,
		nullable(e.AppID), nullable(e.Source), nullable(e.Name), nullable(e.Executable),
		e.Duration.Milliseconds())
	return err
}

func nullable(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
