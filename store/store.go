package store

import (
	"context"
	"net/url"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleSystem marks a system prompt turn.
	RoleSystem Role = "system"
	// RoleUser marks a turn written by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks a turn produced by the model.
	RoleAssistant Role = "assistant"
)

// Turn is one persisted message in a conversation history.
// A Turn is immutable once written; it is removed only by ClearHistory
// or by trim eviction.
type Turn struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionKey identifies one user's one conversation session. Histories
// stored under distinct keys are fully isolated from each other: two keys
// are equal iff both fields are equal, and no key ever matches across
// different user IDs.
type SessionKey struct {
	UserID    string
	SessionID string
}

// Key builds a SessionKey from its parts.
func Key(userID, sessionID string) SessionKey {
	return SessionKey{UserID: userID, SessionID: sessionID}
}

// String returns a namespacing token safe to embed in backend keys, file
// names and SQL values. The fields are percent-encoded before joining so
// that crafted IDs (for example a user ID containing the separator) can
// never alias another user's session.
func (k SessionKey) String() string {
	return url.QueryEscape(k.UserID) + ":" + url.QueryEscape(k.SessionID)
}

// RecordKind distinguishes the three audit log record variants.
type RecordKind string

const (
	// RecordRequest logs an outbound model request.
	RecordRequest RecordKind = "request"
	// RecordResponse logs a model response.
	RecordResponse RecordKind = "response"
	// RecordError logs a failed exchange.
	RecordError RecordKind = "error"
)

// LogRecord is one append-only audit entry. RequestID correlates a
// response or error record with the request that produced it.
type LogRecord struct {
	Kind      RecordKind     `json:"kind"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	RequestID string         `json:"request_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// DefaultQueryLimit caps QueryRecords results when the filter does not
// specify a limit.
const DefaultQueryLimit = 100

// LogFilter narrows a QueryRecords call. Zero values leave the
// corresponding dimension unfiltered.
type LogFilter struct {
	UserID    string
	SessionID string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Matches reports whether the record passes every set filter dimension.
func (f LogFilter) Matches(r *LogRecord) bool {
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// EffectiveLimit returns the filter's limit, or DefaultQueryLimit when
// none is set.
func (f LogFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultQueryLimit
	}
	return f.Limit
}

// HistoryStore is the persistence contract for conversation history.
//
// Initialize is idempotent: repeated calls return the first call's result
// without re-running setup. All operations on a closed store return
// ErrClosed. History with no stored turns yields an empty slice, never an
// error, and clearing an empty key is a no-op success.
type HistoryStore interface {
	// Initialize prepares the backend (connections, schema, directories).
	Initialize(ctx context.Context) error

	// AppendTurn persists one turn at the end of the key's history.
	AppendTurn(ctx context.Context, key SessionKey, turn *Turn) error

	// History returns the stored turns in ascending timestamp order.
	// When limit > 0 only the most recent limit turns are returned,
	// still in ascending order.
	History(ctx context.Context, key SessionKey, limit int) ([]*Turn, error)

	// TrimHistory drops the oldest turns until at most max remain.
	TrimHistory(ctx context.Context, key SessionKey, max int) error

	// ClearHistory removes every turn stored under the key.
	ClearHistory(ctx context.Context, key SessionKey) error

	// Close releases backend resources.
	Close() error
}

// LogStore is the persistence contract for audit log records. Records are
// append-only; no mutation or eviction is ever performed by the core.
type LogStore interface {
	// Initialize prepares the backend.
	Initialize(ctx context.Context) error

	// AppendRecord persists one log record.
	AppendRecord(ctx context.Context, record *LogRecord) error

	// QueryRecords returns matching records in descending timestamp
	// order, capped at the filter's effective limit.
	QueryRecords(ctx context.Context, filter LogFilter) ([]*LogRecord, error)

	// Close releases backend resources.
	Close() error
}
