package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Dancing-Pierre/alibaba-bailian-api/store"
)

func TestHistoryStore_New(t *testing.T) {
	t.Parallel()

	hs := NewHistoryStore()
	if hs == nil {
		t.Fatal("Store should not be nil")
	}

	var _ store.HistoryStore = hs
}

func TestHistoryStore_AppendAndRead(t *testing.T) {
	t.Parallel()

	hs := NewHistoryStore()
	ctx := context.Background()
	key := store.Key("alice", "sess-1")

	for i := 0; i < 5; i++ {
		err := hs.AppendTurn(ctx, key, &store.Turn{
			Role:      store.RoleUser,
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: time.Now().Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}

	turns, err := hs.History(ctx, key, 0)
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	if len(turns) != 5 {
		t.Fatalf("Expected 5 turns, got %d", len(turns))
	}
	if turns[0].Content != "message 0" || turns[4].Content != "message 4" {
		t.Error("Turns should be in append order")
	}

	// Limited read returns the most recent turns, still ascending.
	turns, err = hs.History(ctx, key, 2)
	if err != nil {
		t.Fatalf("Failed to read limited history: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}
	if turns[0].Content != "message 3" || turns[1].Content != "message 4" {
		t.Errorf("Unexpected limited window: %q, %q", turns[0].Content, turns[1].Content)
	}
}

func TestHistoryStore_Isolation(t *testing.T) {
	t.Parallel()

	hs := NewHistoryStore()
	ctx := context.Background()

	keys := []store.SessionKey{
		store.Key("alice", "sess-1"),
		store.Key("alice", "sess-2"),
		store.Key("bob", "sess-1"),
	}
	for _, key := range keys {
		err := hs.AppendTurn(ctx, key, &store.Turn{Role: store.RoleUser, Content: key.String()})
		if err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}

	for _, key := range keys {
		turns, err := hs.History(ctx, key, 0)
		if err != nil {
			t.Fatalf("Failed to read: %v", err)
		}
		if len(turns) != 1 {
			t.Fatalf("Expected exactly 1 turn for %v, got %d", key, len(turns))
		}
		if turns[0].Content != key.String() {
			t.Errorf("Turn leaked across keys: want %q, got %q", key.String(), turns[0].Content)
		}
	}

	// Crafted IDs must not alias another user's session.
	a := store.Key("u:x", "s")
	b := store.Key("u", "x:s")
	if a.String() == b.String() {
		t.Fatal("Crafted keys must not collide")
	}
}

func TestHistoryStore_Trim(t *testing.T) {
	t.Parallel()

	hs := NewHistoryStore()
	ctx := context.Background()
	key := store.Key("alice", "sess-1")

	for i := 0; i < 12; i++ {
		_ = hs.AppendTurn(ctx, key, &store.Turn{Role: store.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	if err := hs.TrimHistory(ctx, key, 10); err != nil {
		t.Fatalf("Failed to trim: %v", err)
	}

	turns, _ := hs.History(ctx, key, 0)
	if len(turns) != 10 {
		t.Fatalf("Expected 10 turns after trim, got %d", len(turns))
	}
	if turns[0].Content != "m2" || turns[9].Content != "m11" {
		t.Errorf("Trim should drop oldest first: got %q .. %q", turns[0].Content, turns[9].Content)
	}

	// Trimming below the bound is a no-op.
	if err := hs.TrimHistory(ctx, key, 20); err != nil {
		t.Fatalf("Failed to trim: %v", err)
	}
	turns, _ = hs.History(ctx, key, 0)
	if len(turns) != 10 {
		t.Errorf("Expected 10 turns, got %d", len(turns))
	}
}

func TestHistoryStore_Clear(t *testing.T) {
	t.Parallel()

	hs := NewHistoryStore()
	ctx := context.Background()
	key := store.Key("alice", "sess-1")

	// Clearing a key with no turns is a no-op success.
	if err := hs.ClearHistory(ctx, key); err != nil {
		t.Fatalf("Clear of empty history should succeed: %v", err)
	}

	_ = hs.AppendTurn(ctx, key, &store.Turn{Role: store.RoleUser, Content: "hello"})
	if err := hs.ClearHistory(ctx, key); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}

	turns, err := hs.History(ctx, key, 0)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("Expected empty history after clear, got %d turns", len(turns))
	}
}

func TestHistoryStore_Closed(t *testing.T) {
	t.Parallel()

	hs := NewHistoryStore()
	ctx := context.Background()
	key := store.Key("alice", "sess-1")

	if err := hs.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	if err := hs.AppendTurn(ctx, key, &store.Turn{}); err != store.ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := hs.History(ctx, key, 0); err != store.ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := hs.ClearHistory(ctx, key); err != store.ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := hs.Initialize(ctx); err != store.ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestLogStore_AppendAndQuery(t *testing.T) {
	t.Parallel()

	ls := NewLogStore()
	ctx := context.Background()

	base := time.Now()
	records := []*store.LogRecord{
		{Kind: store.RecordRequest, UserID: "alice", SessionID: "s1", RequestID: "r1", Timestamp: base},
		{Kind: store.RecordResponse, UserID: "alice", SessionID: "s1", RequestID: "r1", Timestamp: base.Add(time.Second)},
		{Kind: store.RecordRequest, UserID: "bob", SessionID: "s2", RequestID: "r2", Timestamp: base.Add(2 * time.Second)},
		{Kind: store.RecordError, UserID: "bob", SessionID: "s2", RequestID: "r2", Timestamp: base.Add(3 * time.Second)},
	}
	for _, r := range records {
		if err := ls.AppendRecord(ctx, r); err != nil {
			t.Fatalf("Failed to append record: %v", err)
		}
	}

	t.Run("unfiltered newest first", func(t *testing.T) {
		out, err := ls.QueryRecords(ctx, store.LogFilter{})
		if err != nil {
			t.Fatalf("Failed to query: %v", err)
		}
		if len(out) != 4 {
			t.Fatalf("Expected 4 records, got %d", len(out))
		}
		if out[0].Kind != store.RecordError || out[3].Kind != store.RecordRequest {
			t.Error("Records should be ordered newest first")
		}
	})

	t.Run("by user", func(t *testing.T) {
		out, err := ls.QueryRecords(ctx, store.LogFilter{UserID: "alice"})
		if err != nil {
			t.Fatalf("Failed to query: %v", err)
		}
		if len(out) != 2 {
			t.Fatalf("Expected 2 records, got %d", len(out))
		}
	})

	t.Run("by time range", func(t *testing.T) {
		out, err := ls.QueryRecords(ctx, store.LogFilter{
			Since: base.Add(time.Second),
			Until: base.Add(2 * time.Second),
		})
		if err != nil {
			t.Fatalf("Failed to query: %v", err)
		}
		if len(out) != 2 {
			t.Fatalf("Expected 2 records in range, got %d", len(out))
		}
	})

	t.Run("limit", func(t *testing.T) {
		out, err := ls.QueryRecords(ctx, store.LogFilter{Limit: 1})
		if err != nil {
			t.Fatalf("Failed to query: %v", err)
		}
		if len(out) != 1 {
			t.Fatalf("Expected 1 record, got %d", len(out))
		}
		if out[0].Kind != store.RecordError {
			t.Error("Limit should keep the newest records")
		}
	})
}

func TestLogStore_Closed(t *testing.T) {
	t.Parallel()

	ls := NewLogStore()
	ctx := context.Background()

	if err := ls.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if err := ls.AppendRecord(ctx, &store.LogRecord{}); err != store.ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := ls.QueryRecords(ctx, store.LogFilter{}); err != store.ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
