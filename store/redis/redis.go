// Package redis provides Redis-backed implementations of the store
// contracts. Histories live in one Redis list per session key and audit
// records in a single list, newest first. An optional TTL lets a
// deployment expire idle conversations and cap log growth.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dancing-Pierre/alibaba-bailian-api/store"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "bailian:"
	TTL      time.Duration // Expiration for stored keys, default 0 (no expiration)
}

func (o Options) prefix() string {
	if o.Prefix == "" {
		return "bailian:"
	}
	return o.Prefix
}

func wrapErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return store.NewError(store.KindTimeout, op, err)
	}
	return store.NewError(store.KindConnection, op, err)
}

// HistoryStore implements store.HistoryStore on a Redis list per session.
type HistoryStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	mu     sync.Mutex
	closed bool
}

var _ store.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore creates a Redis history store.
func NewHistoryStore(opts Options) *HistoryStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &HistoryStore{
		client: client,
		prefix: opts.prefix(),
		ttl:    opts.TTL,
	}
}

func (s *HistoryStore) historyKey(key store.SessionKey) string {
	return s.prefix + "history:" + key.String()
}

func (s *HistoryStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Initialize verifies the connection.
func (s *HistoryStore) Initialize(ctx context.Context) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrapErr("redis.initialize", err)
	}
	return nil
}

// AppendTurn pushes the turn onto the end of the session's list.
func (s *HistoryStore) AppendTurn(ctx context.Context, key store.SessionKey, turn *store.Turn) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return store.NewError(store.KindSerialization, "redis.append", err)
	}

	k := s.historyKey(key)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, k, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("redis.append", err)
	}
	return nil
}

// History returns the stored turns in ascending order.
func (s *HistoryStore) History(ctx context.Context, key store.SessionKey, limit int) ([]*store.Turn, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	items, err := s.client.LRange(ctx, s.historyKey(key), start, -1).Result()
	if err != nil {
		return nil, wrapErr("redis.history", err)
	}

	turns := make([]*store.Turn, 0, len(items))
	for _, item := range items {
		var turn store.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, store.NewError(store.KindSerialization, "redis.history", err)
		}
		turns = append(turns, &turn)
	}
	return turns, nil
}

// TrimHistory keeps only the most recent max turns.
func (s *HistoryStore) TrimHistory(ctx context.Context, key store.SessionKey, max int) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	k := s.historyKey(key)
	if max <= 0 {
		if err := s.client.Del(ctx, k).Err(); err != nil {
			return wrapErr("redis.trim", err)
		}
		return nil
	}
	if err := s.client.LTrim(ctx, k, int64(-max), -1).Err(); err != nil {
		return wrapErr("redis.trim", err)
	}
	return nil
}

// ClearHistory deletes the session's list.
func (s *HistoryStore) ClearHistory(ctx context.Context, key store.SessionKey) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	if err := s.client.Del(ctx, s.historyKey(key)).Err(); err != nil {
		return wrapErr("redis.clear", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *HistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// LogStore implements store.LogStore on a single Redis list, newest first.
type LogStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	mu     sync.Mutex
	closed bool
}

var _ store.LogStore = (*LogStore)(nil)

// NewLogStore creates a Redis log store.
func NewLogStore(opts Options) *LogStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &LogStore{
		client: client,
		prefix: opts.prefix(),
		ttl:    opts.TTL,
	}
}

func (s *LogStore) logsKey() string {
	return s.prefix + "logs"
}

func (s *LogStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Initialize verifies the connection.
func (s *LogStore) Initialize(ctx context.Context) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrapErr("redis.initialize", err)
	}
	return nil
}

// AppendRecord pushes the record onto the front of the log list so a
// bounded LRANGE reads the newest entries first.
func (s *LogStore) AppendRecord(ctx context.Context, record *store.LogRecord) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	data, err := json.Marshal(record)
	if err != nil {
		return store.NewError(store.KindSerialization, "redis.append", err)
	}

	k := s.logsKey()
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, k, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("redis.append", err)
	}
	return nil
}

// QueryRecords scans the log list and returns matching records, newest
// first.
func (s *LogStore) QueryRecords(ctx context.Context, filter store.LogFilter) ([]*store.LogRecord, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}
	items, err := s.client.LRange(ctx, s.logsKey(), 0, -1).Result()
	if err != nil {
		return nil, wrapErr("redis.query", err)
	}

	limit := filter.EffectiveLimit()
	var out []*store.LogRecord
	for _, item := range items {
		var rec store.LogRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, store.NewError(store.KindSerialization, "redis.query", err)
		}
		if !filter.Matches(&rec) {
			continue
		}
		out = append(out, &rec)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Close releases the Redis connection.
func (s *LogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
