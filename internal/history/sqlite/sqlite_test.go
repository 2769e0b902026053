package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/playwatch/internal/history"
)

func TestSQLiteSink_SessionRoundTrip(t *testing.T) {
	sink, err := New("sqlite://" + filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	ctx := context.Background()

	start := history.Event{
		Type:       history.EventStarted,
		OccurredAt: time.Now().Add(-time.Hour).UTC(),
		SessionID:  "2f1d6c7e-8f8e-4c71-9d0a-3f3f2b1a0c11",
		PID:        4242,
		AppID:      "1145360",
		Source:     "steam",
		Name:       "Hades",
	}
	require.NoError(t, sink.Send(ctx, start))

	stop := start
	stop.Type = history.EventStopped
	stop.OccurredAt = time.Now().UTC()
	stop.Duration = time.Hour
	require.NoError(t, sink.Send(ctx, stop))
	// a retried event is stored once
	require.NoError(t, sink.Send(ctx, stop))

	var n int
	require.NoError(t, sink.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM play_history WHERE session_id = ?`, start.SessionID).Scan(&n))
	assert.Equal(t, 2, n)

	var ms int64
	require.NoError(t, sink.db.QueryRowContext(ctx,
		`SELECT duration_ms FROM play_history WHERE event = 'stopped'`).Scan(&ms))
	assert.Equal(t, time.Hour.Milliseconds(), ms)
}

func TestSQLiteSink_DegradedEventHasNullCatalogFields(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	ctx := context.Background()

	require.NoError(t, sink.Send(ctx, history.Event{
		Type: history.EventStarted, OccurredAt: time.Now(), SessionID: "s", PID: 1, Name: "unknown.exe",
	}))
	var appID sql.NullString
	require.NoError(t, sink.db.QueryRowContext(ctx, `SELECT app_id FROM play_history`).Scan(&appID))
	assert.False(t, appID.Valid)
}

func TestSQLiteSink_Errors(t *testing.T) {
	_, err := New(" ")
	assert.Error(t, err)

	sink, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, sink.Send(ctx, history.Event{Type: history.EventStarted, SessionID: "s"}))
}
