// Package sqlite provides SQLite-backed implementations of the store
// contracts. It is the durable zero-infrastructure option: one database
// file holds conversations and audit logs, with no server to run.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Dancing-Pierre/alibaba-bailian-api/store"
)

// Options configures the SQLite connection.
type Options struct {
	Path         string
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

// HistoryStore implements store.HistoryStore on a SQLite table.
type HistoryStore struct {
	db        *sql.DB
	tableName string

	initOnce sync.Once
	initErr  error

	mu     sync.Mutex
	closed bool
}

var _ store.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore opens (or creates) the database at opts.Path.
func NewHistoryStore(opts Options) (*HistoryStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, store.NewError(store.KindConnection, "sqlite.open", err)
	}
	return &HistoryStore{db: db, tableName: opts.historyTable()}, nil
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
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_key TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				metadata TEXT,
				timestamp DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_%s_session_key ON %s (session_key);
		`, s.tableName, s.tableName, s.tableName)
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			s.initErr = store.NewError(store.KindConnection, "sqlite.initialize", err)
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
		return store.NewError(store.KindSerialization, "sqlite.append", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (session_key, role, content, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, s.tableName)
	_, err = s.db.ExecContext(ctx, query,
		key.String(), string(turn.Role), turn.Content, string(metadataJSON), turn.Timestamp)
	if err != nil {
		return store.NewError(store.KindConnection, "sqlite.append", err)
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
			WHERE session_key = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`, s.tableName)
	n := limit
	if n <= 0 {
		n = -1 // SQLite: negative LIMIT means no limit
	}

	rows, err := s.db.QueryContext(ctx, query, key.String(), n)
	if err != nil {
		return nil, store.NewError(store.KindConnection, "sqlite.history", err)
	}
	defer rows.Close()

	turns := make([]*store.Turn, 0)
	for rows.Next() {
		var turn store.Turn
		var role, metadataJSON string
		if err := rows.Scan(&role, &turn.Content, &metadataJSON, &turn.Timestamp); err != nil {
			return nil, store.NewError(store.KindConnection, "sqlite.history", err)
		}
		turn.Role = store.Role(role)
		if metadataJSON != "" && metadataJSON != "null" {
			if err := json.Unmarshal([]byte(metadataJSON), &turn.Metadata); err != nil {
				return nil, store.NewError(store.KindSerialization, "sqlite.history", err)
			}
		}
		turns = append(turns, &turn)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewError(store.KindConnection, "sqlite.history", err)
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
		WHERE session_key = ? AND id NOT IN (
			SELECT id FROM %s WHERE session_key = ? ORDER BY id DESC LIMIT ?
		)
	`, s.tableName, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, key.String(), key.String(), max); err != nil {
		return store.NewError(store.KindConnection, "sqlite.trim", err)
	}
	return nil
}

// ClearHistory deletes every row for the key.
func (s *HistoryStore) ClearHistory(ctx context.Context, key store.SessionKey) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE session_key = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, key.String()); err != nil {
		return store.NewError(store.KindConnection, "sqlite.clear", err)
	}
	return nil
}

// Close closes the database connection.
func (s *HistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// LogStore implements store.LogStore on a SQLite table.
type LogStore struct {
	db        *sql.DB
	tableName string

	initOnce sync.Once
	initErr  error

	mu     sync.Mutex
	closed bool
}

var _ store.LogStore = (*LogStore)(nil)

// NewLogStore opens (or creates) the database at opts.Path.
func NewLogStore(opts Options) (*LogStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, store.NewError(store.KindConnection, "sqlite.open", err)
	}
	return &LogStore{db: db, tableName: opts.logTable()}, nil
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
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				kind TEXT NOT NULL,
				user_id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				request_id TEXT,
				payload TEXT,
				timestamp DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_%s_user_session ON %s (user_id, session_id);
		`, s.tableName, s.tableName, s.tableName)
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			s.initErr = store.NewError(store.KindConnection, "sqlite.initialize", err)
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
		return store.NewError(store.KindSerialization, "sqlite.append", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (kind, user_id, session_id, request_id, payload, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.tableName)
	_, err = s.db.ExecContext(ctx, query,
		string(record.Kind), record.UserID, record.SessionID, record.RequestID,
		string(payloadJSON), record.Timestamp)
	if err != nil {
		return store.NewError(store.KindConnection, "sqlite.append", err)
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
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.Until)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, filter.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewError(store.KindConnection, "sqlite.query", err)
	}
	defer rows.Close()

	var out []*store.LogRecord
	for rows.Next() {
		var rec store.LogRecord
		var kind, payloadJSON string
		if err := rows.Scan(&kind, &rec.UserID, &rec.SessionID, &rec.RequestID, &payloadJSON, &rec.Timestamp); err != nil {
			return nil, store.NewError(store.KindConnection, "sqlite.query", err)
		}
		rec.Kind = store.RecordKind(kind)
		if payloadJSON != "" && payloadJSON != "null" {
			if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
				return nil, store.NewError(store.KindSerialization, "sqlite.query", err)
			}
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewError(store.KindConnection, "sqlite.query", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *LogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
