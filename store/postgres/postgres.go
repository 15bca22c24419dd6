// Package postgres provides PostgreSQL-backed implementations of the
// store contracts using pgx connection pools. Metadata and payloads are
// stored as JSONB so they stay queryable from SQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dancing-Pierre/alibaba-bailian-api/store"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Options configures the Postgres connection.
type Options struct {
	ConnString   string
	HistoryTable string // Default "conversations"
	LogTable     string // Default "api_logs"
}

func (o Options) historyTable() string {
	if o.HistoryTable == "" {
		return "conversations"
	}
	return o.HistoryTable
}

func (o Options) logTable() string {
	if o.LogTable == "" {
		return "api_logs"
	}
	return o.LogTable
}

// HistoryStore implements store.HistoryStore on a Postgres table.
type HistoryStore struct {
	pool      DBPool
	tableName string

	initOnce sync.Once
	initErr  error

	mu     sync.Mutex
	closed bool
}

var _ store.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore creates a Postgres history store with its own pool.
func NewHistoryStore(ctx context.Context, opts Options) (*HistoryStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, store.NewError(store.KindConnection, "postgres.open", err)
	}
	return &HistoryStore{pool: pool, tableName: opts.historyTable()}, nil
}

// NewHistoryStoreWithPool creates a history store over an existing pool.
// Useful for testing with mocks.
func NewHistoryStoreWithPool(pool DBPool, tableName string) *HistoryStore {
	if tableName == "" {
		tableName = "conversations"
	}
	return &HistoryStore{pool: pool, tableName: tableName}
}

func (s *HistoryStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Initialize creates the schema. Repeated calls return the first result.
func (s *HistoryStore) Initialize(ctx context.Context) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	s.initOnce.Do(func() {
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				session_key TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				metadata JSONB,
				timestamp TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_%s_session_key ON %s (session_key);
		`, s.tableName, s.tableName, s.tableName)
		if _, err := s.pool.Exec(ctx, query); err != nil {
			s.initErr = store.NewError(store.KindConnection, "postgres.initialize", err)
		}
	})
	return s.initErr
}

// AppendTurn inserts one history row.
func (s *HistoryStore) AppendTurn(ctx context.Context, key store.SessionKey, turn *store.Turn) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	metadataJSON, err := json.Marshal(turn.Metadata)
	if err != nil {
		return store.NewError(store.KindSerialization, "postgres.append", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (session_key, role, content, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`, s.tableName)
	_, err = s.pool.Exec(ctx, query,
		key.String(), string(turn.Role), turn.Content, metadataJSON, turn.Timestamp)
	if err != nil {
		return store.NewError(store.KindConnection, "postgres.append", err)
	}
	return nil
}

// History returns the stored turns in ascending insertion order.
func (s *HistoryStore) History(ctx context.Context, key store.SessionKey, limit int) ([]*store.Turn, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}
	query := fmt.Sprintf(`
		SELECT role, content, metadata, timestamp FROM (
			SELECT id, role, content, metadata, timestamp
			FROM %s
			WHERE session_key = $1
			ORDER BY id DESC
			LIMIT $2
		) recent ORDER BY id ASC
	`, s.tableName)
	var n any
	if limit > 0 {
		n = limit
	} // NULL LIMIT means no limit

	rows, err := s.pool.Query(ctx, query, key.String(), n)
	if err != nil {
		return nil, store.NewError(store.KindConnection, "postgres.history", err)
	}
	defer rows.Close()

	turns := make([]*store.Turn, 0)
	for rows.Next() {
		var turn store.Turn
		var role string
		var metadataJSON []byte
		if err := rows.Scan(&role, &turn.Content, &metadataJSON, &turn.Timestamp); err != nil {
			return nil, store.NewError(store.KindConnection, "postgres.history", err)
		}
		turn.Role = store.Role(role)
		if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
			if err := json.Unmarshal(metadataJSON, &turn.Metadata); err != nil {
				return nil, store.NewError(store.KindSerialization, "postgres.history", err)
			}
		}
		turns = append(turns, &turn)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewError(store.KindConnection, "postgres.history", err)
	}
	return turns, nil
}

// TrimHistory deletes the oldest rows beyond max.
func (s *HistoryStore) TrimHistory(ctx context.Context, key store.SessionKey, max int) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	if max < 0 {
		max = 0
	}
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE session_key = $1 AND id NOT IN (
			SELECT id FROM %s WHERE session_key = $2 ORDER BY id DESC LIMIT $3
		)
	`, s.tableName, s.tableName)
	if _, err := s.pool.Exec(ctx, query, key.String(), key.String(), max); err != nil {
		return store.NewError(store.KindConnection, "postgres.trim", err)
	}
	return nil
}

// ClearHistory deletes every row for the key.
func (s *HistoryStore) ClearHistory(ctx context.Context, key store.SessionKey) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE session_key = $1", s.tableName)
	if _, err := s.pool.Exec(ctx, query, key.String()); err != nil {
		return store.NewError(store.KindConnection, "postgres.clear", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *HistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.Close()
	return nil
}

// LogStore implements store.LogStore on a Postgres table.
type LogStore struct {
	pool      DBPool
	tableName string

	initOnce sync.Once
	initErr  error

	mu     sync.Mutex
	closed bool
}

var _ store.LogStore = (*LogStore)(nil)

// NewLogStore creates a Postgres log store with its own pool.
func NewLogStore(ctx context.Context, opts Options) (*LogStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, store.NewError(store.KindConnection, "postgres.open", err)
	}
	return &LogStore{pool: pool, tableName: opts.logTable()}, nil
}

// NewLogStoreWithPool creates a log store over an existing pool.
// Useful for testing with mocks.
func NewLogStoreWithPool(pool DBPool, tableName string) *LogStore {
	if tableName == "" {
		tableName = "api_logs"
	}
	return &LogStore{pool: pool, tableName: tableName}
}

func (s *LogStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Initialize creates the schema. Repeated calls return the first result.
func (s *LogStore) Initialize(ctx context.Context) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	s.initOnce.Do(func() {
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				kind TEXT NOT NULL,
				user_id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				request_id TEXT,
				payload JSONB,
				timestamp TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_%s_user_session ON %s (user_id, session_id);
		`, s.tableName, s.tableName, s.tableName)
		if _, err := s.pool.Exec(ctx, query); err != nil {
			s.initErr = store.NewError(store.KindConnection, "postgres.initialize", err)
		}
	})
	return s.initErr
}

// AppendRecord inserts one log row.
func (s *LogStore) AppendRecord(ctx context.Context, record *store.LogRecord) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	payloadJSON, err := json.Marshal(record.Payload)
	if err != nil {
		return store.NewError(store.KindSerialization, "postgres.append", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (kind, user_id, session_id, request_id, payload, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.tableName)
	_, err = s.pool.Exec(ctx, query,
		string(record.Kind), record.UserID, record.SessionID, record.RequestID,
		payloadJSON, record.Timestamp)
	if err != nil {
		return store.NewError(store.KindConnection, "postgres.append", err)
	}
	return nil
}

// QueryRecords returns matching records in descending timestamp order.
func (s *LogStore) QueryRecords(ctx context.Context, filter store.LogFilter) ([]*store.LogRecord, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}

	query := fmt.Sprintf(`
		SELECT kind, user_id, session_id, request_id, payload, timestamp
		FROM %s WHERE 1=1
	`, s.tableName)
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.UserID != "" {
		query += " AND user_id = " + arg(filter.UserID)
	}
	if filter.SessionID != "" {
		query += " AND session_id = " + arg(filter.SessionID)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= " + arg(filter.Since)
	}
	if !filter.Until.IsZero() {
		query += " AND timestamp <= " + arg(filter.Until)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT " + arg(filter.EffectiveLimit())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, store.NewError(store.KindConnection, "postgres.query", err)
	}
	defer rows.Close()

	var out []*store.LogRecord
	for rows.Next() {
		var rec store.LogRecord
		var kind string
		var payloadJSON []byte
		if err := rows.Scan(&kind, &rec.UserID, &rec.SessionID, &rec.RequestID, &payloadJSON, &rec.Timestamp); err != nil {
			return nil, store.NewError(store.KindConnection, "postgres.query", err)
		}
		rec.Kind = store.RecordKind(kind)
		if len(payloadJSON) > 0 && string(payloadJSON) != "null" {
			if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
				return nil, store.NewError(store.KindSerialization, "postgres.query", err)
			}
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewError(store.KindConnection, "postgres.query", err)
	}
	return out, nil
}

// Close closes the connection pool.
func (s *LogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.Close()
	return nil
}
