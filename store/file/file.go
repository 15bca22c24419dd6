// Package file provides flat-file implementations of the store contracts.
// Each session history lives in its own JSON file and audit records are
// appended to a JSON-lines file, so the data stays human-inspectable and
// survives restarts without any external service.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Dancing-Pierre/alibaba-bailian-api/store"
)

const (
	historyDir   = "history"
	logsFileName = "logs.jsonl"
)

// HistoryStore persists each session's history as one JSON file.
type HistoryStore struct {
	mu     sync.Mutex
	dir    string
	closed bool
}

var _ store.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore creates a history store rooted at dir. The directory is
// created on Initialize.
func NewHistoryStore(dir string) *HistoryStore {
	return &HistoryStore{dir: dir}
}

// Initialize creates the storage directory. Safe to call repeatedly.
func (s *HistoryStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if err := os.MkdirAll(filepath.Join(s.dir, historyDir), 0o755); err != nil {
		return store.NewError(store.KindConnection, "file.initialize", err)
	}
	return nil
}

func (s *HistoryStore) path(key store.SessionKey) string {
	return filepath.Join(s.dir, historyDir, key.String()+".json")
}

func (s *HistoryStore) read(key store.SessionKey) ([]*store.Turn, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, store.NewError(store.KindConnection, "file.read", err)
	}
	var turns []*store.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, store.NewError(store.KindSerialization, "file.read", err)
	}
	return turns, nil
}

func (s *HistoryStore) write(key store.SessionKey, turns []*store.Turn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return store.NewError(store.KindSerialization, "file.write", err)
	}
	if err := os.WriteFile(s.path(key), data, 0o644); err != nil {
		return store.NewError(store.KindConnection, "file.write", err)
	}
	return nil
}

// AppendTurn appends the turn to the key's history file.
func (s *HistoryStore) AppendTurn(ctx context.Context, key store.SessionKey, turn *store.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	turns, err := s.read(key)
	if err != nil {
		return err
	}
	return s.write(key, append(turns, turn))
}

// History returns the stored turns in ascending order.
func (s *HistoryStore) History(ctx context.Context, key store.SessionKey, limit int) ([]*store.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	turns, err := s.read(key)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
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
	turns, err := s.read(key)
	if err != nil {
		return err
	}
	if len(turns) <= max {
		return nil
	}
	return s.write(key, turns[len(turns)-max:])
}

// ClearHistory removes the key's history file.
func (s *HistoryStore) ClearHistory(ctx context.Context, key store.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return store.NewError(store.KindConnection, "file.clear", err)
	}
	return nil
}

// Close marks the store closed.
func (s *HistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// LogStore appends audit records to a JSON-lines file.
type LogStore struct {
	mu     sync.Mutex
	dir    string
	closed bool
}

var _ store.LogStore = (*LogStore)(nil)

// NewLogStore creates a log store rooted at dir.
func NewLogStore(dir string) *LogStore {
	return &LogStore{dir: dir}
}

// Initialize creates the storage directory. Safe to call repeatedly.
func (s *LogStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return store.NewError(store.KindConnection, "file.initialize", err)
	}
	return nil
}

func (s *LogStore) path() string {
	return filepath.Join(s.dir, logsFileName)
}

// AppendRecord appends one JSON line to the log file.
func (s *LogStore) AppendRecord(ctx context.Context, record *store.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	data, err := json.Marshal(record)
	if err != nil {
		return store.NewError(store.KindSerialization, "file.append", err)
	}
	f, err := os.OpenFile(s.path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return store.NewError(store.KindConnection, "file.append", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s\n", data); err != nil {
		return store.NewError(store.KindConnection, "file.append", err)
	}
	return nil
}

// QueryRecords scans the log file and returns matching records, newest
// first.
func (s *LogStore) QueryRecords(ctx context.Context, filter store.LogFilter) ([]*store.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	f, err := os.Open(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, store.NewError(store.KindConnection, "file.query", err)
	}
	defer f.Close()

	var out []*store.LogRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec store.LogRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, store.NewError(store.KindSerialization, "file.query", err)
		}
		if filter.Matches(&rec) {
			out = append(out, &rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, store.NewError(store.KindConnection, "file.query", err)
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
	return nil
}
