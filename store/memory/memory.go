// Package memory provides in-process implementations of the store
// contracts. They hold everything in maps guarded by a mutex and are the
// reference backends for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Dancing-Pierre/alibaba-bailian-api/store"
)

// HistoryStore keeps per-session histories in memory.
type HistoryStore struct {
	mu     sync.RWMutex
	turns  map[string][]*store.Turn
	closed bool
}

var _ store.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore creates an empty in-memory history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		turns: make(map[string][]*store.Turn),
	}
}

// Initialize is a no-op for the in-memory store.
func (s *HistoryStore) Initialize(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// AppendTurn appends a copy of the turn to the key's history.
func (s *HistoryStore) AppendTurn(ctx context.Context, key store.SessionKey, turn *store.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	cp := *turn
	s.turns[key.String()] = append(s.turns[key.String()], &cp)
	return nil
}

// History returns the stored turns in ascending order.
func (s *HistoryStore) History(ctx context.Context, key store.SessionKey, limit int) ([]*store.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	all := s.turns[key.String()]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]*store.Turn, len(all))
	copy(out, all)
	return out, nil
}

// TrimHistory drops the oldest turns beyond max.
func (s *HistoryStore) TrimHistory(ctx context.Context, key store.SessionKey, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if max < 0 {
		max = 0
	}
	all := s.turns[key.String()]
	if len(all) > max {
		s.turns[key.String()] = append([]*store.Turn(nil), all[len(all)-max:]...)
	}
	return nil
}

// ClearHistory removes every turn for the key.
func (s *HistoryStore) ClearHistory(ctx context.Context, key store.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	delete(s.turns, key.String())
	return nil
}

// Close marks the store closed; later operations fail with ErrClosed.
func (s *HistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.turns = nil
	return nil
}

// LogStore keeps audit records in an in-memory slice.
type LogStore struct {
	mu      sync.RWMutex
	records []*store.LogRecord
	closed  bool
}

var _ store.LogStore = (*LogStore)(nil)

// NewLogStore creates an empty in-memory log store.
func NewLogStore() *LogStore {
	return &LogStore{}
}

// Initialize is a no-op for the in-memory store.
func (s *LogStore) Initialize(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// AppendRecord stores a copy of the record.
func (s *LogStore) AppendRecord(ctx context.Context, record *store.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	cp := *record
	s.records = append(s.records, &cp)
	return nil
}

// QueryRecords returns matching records, newest first.
func (s *LogStore) QueryRecords(ctx context.Context, filter store.LogFilter) ([]*store.LogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	var out []*store.LogRecord
	for _, r := range s.records {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close marks the store closed.
func (s *LogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	return nil
}
