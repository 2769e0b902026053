package factory

import (
	"errors"
	"strings"

	"github.com/loykin/playwatch/internal/store"
	pg "github.com/loykin/playwatch/internal/store/postgres"
	sq "github.com/loykin/playwatch/internal/store/sqlite"
)

// NewFromDSN selects a repository implementation based on DSN.
// Supported:
//   - sqlite:  "sqlite:///<path>", "sqlite://:memory:" or a bare filepath
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (store.Repository, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(d[len("sqlite://"):])
	}
	return sq.New(d)
}
