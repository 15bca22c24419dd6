package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dancing-Pierre/alibaba-bailian-api/log"
	"github.com/Dancing-Pierre/alibaba-bailian-api/store"
	memstore "github.com/Dancing-Pierre/alibaba-bailian-api/store/memory"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(Config{Enabled: true}, memstore.NewLogStore(), &log.NoOpLogger{})
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManager_RecordLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	key := store.Key("alice", "main")

	id := m.RecordRequest(ctx, key, "", map[string]any{"model": "qwen-plus", "message": "hello"})
	require.NotEmpty(t, id)
	m.RecordResponse(ctx, key, id, map[string]any{"content": "hi there", "total_tokens": 15})

	records, err := m.Query(ctx, store.LogFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first.
	assert.Equal(t, store.RecordResponse, records[0].Kind)
	assert.Equal(t, store.RecordRequest, records[1].Kind)
	assert.Equal(t, id, records[0].RequestID)
	assert.Equal(t, id, records[1].RequestID)
	assert.Equal(t, "alice", records[0].UserID)
	assert.Equal(t, "main", records[0].SessionID)
}

func TestManager_RecordError(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	key := store.Key("alice", "main")

	id := m.RecordRequest(ctx, key, "", map[string]any{"message": "hello"})
	m.RecordError(ctx, key, id, map[string]any{"error": "connection refused"})

	records, err := m.Query(ctx, store.LogFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, store.RecordError, records[0].Kind)
	assert.Equal(t, "connection refused", records[0].Payload["error"])
}

func TestManager_ProvidedRequestIDKept(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	id := m.RecordRequest(ctx, store.Key("alice", "main"), "req-42", nil)
	assert.Equal(t, "req-42", id)
}

func TestManager_QueryFilters(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	m.RecordRequest(ctx, store.Key("alice", "main"), "a1", nil)
	m.RecordRequest(ctx, store.Key("bob", "main"), "b1", nil)
	m.RecordRequest(ctx, store.Key("alice", "other"), "a2", nil)

	records, err := m.Query(ctx, store.LogFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = m.Query(ctx, store.LogFilter{UserID: "alice", SessionID: "other"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a2", records[0].RequestID)

	records, err = m.Query(ctx, store.LogFilter{Until: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestManager_Disabled(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(Config{Enabled: false}, nil, &log.NoOpLogger{})
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ctx))

	id := m.RecordRequest(ctx, store.Key("alice", "main"), "", nil)
	assert.NotEmpty(t, id, "request IDs are still issued when disabled")

	records, err := m.Query(ctx, store.LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
	require.NoError(t, m.Close())
}

// failingLogStore errors on every operation.
type failingLogStore struct{}

var errBroken = errors.New("store unavailable")

func (failingLogStore) Initialize(context.Context) error { return nil }
func (failingLogStore) AppendRecord(context.Context, *store.LogRecord) error {
	return errBroken
}
func (failingLogStore) QueryRecords(context.Context, store.LogFilter) ([]*store.LogRecord, error) {
	return nil, errBroken
}
func (failingLogStore) Close() error { return nil }

func TestManager_WriteFailureSwallowed(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(Config{Enabled: true}, failingLogStore{}, &log.NoOpLogger{})
	require.NoError(t, err)

	id := m.RecordRequest(ctx, store.Key("alice", "main"), "", map[string]any{"message": "hello"})
	assert.NotEmpty(t, id)
	m.RecordResponse(ctx, store.Key("alice", "main"), id, nil)
}

func TestManager_QueryFailurePropagates(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(Config{Enabled: true}, failingLogStore{}, &log.NoOpLogger{})
	require.NoError(t, err)

	_, err = m.Query(ctx, store.LogFilter{})
	assert.ErrorIs(t, err, errBroken)
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Config{Enabled: true}, nil, nil)
	assert.Error(t, err)
}
