package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"

	"github.com/Dancing-Pierre/alibaba-bailian-api/store"
)

func TestHistoryStore(t *testing.T) {
	// Start miniredis
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	hs := NewHistoryStore(Options{Addr: mr.Addr()})
	defer hs.Close()

	ctx := context.Background()
	key := store.Key("alice", "sess-1")

	err = hs.Initialize(ctx)
	assert.NoError(t, err)

	// Append a few turns
	for i := 0; i < 12; i++ {
		err = hs.AppendTurn(ctx, key, &store.Turn{
			Role:      store.RoleUser,
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: time.Now(),
			Metadata:  map[string]any{"seq": i},
		})
		assert.NoError(t, err)
	}

	// Full read, ascending
	turns, err := hs.History(ctx, key, 0)
	assert.NoError(t, err)
	assert.Len(t, turns, 12)
	assert.Equal(t, "message 0", turns[0].Content)
	assert.Equal(t, "message 11", turns[11].Content)

	// Limited read returns the most recent turns
	turns, err = hs.History(ctx, key, 3)
	assert.NoError(t, err)
	assert.Len(t, turns, 3)
	assert.Equal(t, "message 9", turns[0].Content)

	// Trim drops the oldest turns
	err = hs.TrimHistory(ctx, key, 10)
	assert.NoError(t, err)
	turns, err = hs.History(ctx, key, 0)
	assert.NoError(t, err)
	assert.Len(t, turns, 10)
	assert.Equal(t, "message 2", turns[0].Content)

	// Other keys are untouched
	other, err := hs.History(ctx, store.Key("bob", "sess-1"), 0)
	assert.NoError(t, err)
	assert.Len(t, other, 0)

	// Clear
	err = hs.ClearHistory(ctx, key)
	assert.NoError(t, err)
	turns, err = hs.History(ctx, key, 0)
	assert.NoError(t, err)
	assert.Len(t, turns, 0)
}

func TestHistoryStore_Closed(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	hs := NewHistoryStore(Options{Addr: mr.Addr()})
	assert.NoError(t, hs.Close())

	err = hs.AppendTurn(context.Background(), store.Key("u", "s"), &store.Turn{})
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestLogStore(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	ls := NewLogStore(Options{Addr: mr.Addr()})
	defer ls.Close()

	ctx := context.Background()
	err = ls.Initialize(ctx)
	assert.NoError(t, err)

	base := time.Now().Truncate(time.Millisecond)
	kinds := []store.RecordKind{store.RecordRequest, store.RecordResponse, store.RecordError}
	for i := 0; i < 6; i++ {
		user := "alice"
		if i >= 3 {
			user = "bob"
		}
		err = ls.AppendRecord(ctx, &store.LogRecord{
			Kind:      kinds[i%3],
			UserID:    user,
			SessionID: "s1",
			RequestID: fmt.Sprintf("r%d", i),
			Payload:   map[string]any{"model": "qwen-plus"},
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		assert.NoError(t, err)
	}

	// Newest records come back first
	out, err := ls.QueryRecords(ctx, store.LogFilter{})
	assert.NoError(t, err)
	assert.Len(t, out, 6)
	assert.Equal(t, "r5", out[0].RequestID)
	assert.Equal(t, "r0", out[5].RequestID)

	// Filter by user
	out, err = ls.QueryRecords(ctx, store.LogFilter{UserID: "bob"})
	assert.NoError(t, err)
	assert.Len(t, out, 3)

	// Limit caps the result
	out, err = ls.QueryRecords(ctx, store.LogFilter{Limit: 2})
	assert.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, "r5", out[0].RequestID)

	// Time range
	out, err = ls.QueryRecords(ctx, store.LogFilter{Since: base.Add(4 * time.Second)})
	assert.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestHistoryStore_TTL(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	hs := NewHistoryStore(Options{Addr: mr.Addr(), TTL: time.Minute})
	defer hs.Close()

	ctx := context.Background()
	key := store.Key("alice", "sess-1")
	err = hs.AppendTurn(ctx, key, &store.Turn{Role: store.RoleUser, Content: "hello"})
	assert.NoError(t, err)

	// Key carries an expiration
	ttl := mr.TTL("bailian:history:" + key.String())
	assert.Equal(t, time.Minute, ttl)

	// After the TTL elapses the history reads as empty
	mr.FastForward(2 * time.Minute)
	turns, err := hs.History(ctx, key, 0)
	assert.NoError(t, err)
	assert.Len(t, turns, 0)
}
