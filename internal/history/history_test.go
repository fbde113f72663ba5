package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLSink_SQLiteRoundTrip(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLSinkFromDSN(dsn)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.Send(ctx, Event{Type: EventStart, OccurredAt: now, Service: "web.prod", Package: "core/web/1.0/1", PID: 42}))
	require.NoError(t, s.Send(ctx, Event{Type: EventExit, OccurredAt: now.Add(time.Second), Service: "web.prod", Package: "core/web/1.0/1", PID: 42, ExitCode: 3, Error: "exit status 3"}))
	require.NoError(t, s.Send(ctx, Event{Type: EventStart, Service: "redis.prod", Package: "core/redis/7/1"}))

	got, err := s.Recent(ctx, "web.prod", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, EventExit, got[0].Type)
	assert.Equal(t, 3, got[0].ExitCode)
	assert.Equal(t, "exit status 3", got[0].Error)
	assert.Equal(t, EventStart, got[1].Type)
	assert.Equal(t, 42, got[1].PID)
	assert.Empty(t, got[1].Reason)
	assert.True(t, got[1].OccurredAt.Equal(now), "%v != %v", got[1].OccurredAt, now)

	got, err = s.Recent(ctx, "web.prod", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLSink_Memory(t *testing.T) {
	s, err := NewSQLSinkFromDSN(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.Send(context.Background(), Event{Type: EventStop, Service: "x"}))
	got, err := s.Recent(context.Background(), "x", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNewSQLSinkFromDSN_Empty(t *testing.T) {
	_, err := NewSQLSinkFromDSN("  ")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &SQLSink{dialect: "postgres"}
	assert.Equal(t, "a=$1 AND b=$2 LIMIT $10", pg.rebind("a=? AND b=? LIMIT $10"))
	lite := &SQLSink{dialect: "sqlite"}
	assert.Equal(t, "a=?", lite.rebind("a=?"))
}
