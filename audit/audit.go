package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Dancing-Pierre/alibaba-bailian-api/log"
	"github.com/Dancing-Pierre/alibaba-bailian-api/store"
)

// Config controls the behavior of a Manager.
type Config struct {
	// Enabled turns audit logging on. When false every write is a no-op
	// and queries return empty results.
	Enabled bool
}

// Manager records request, response and error events against a LogStore.
// Writes are best effort: a failing store never fails the API call being
// recorded, the failure is logged once and swallowed. Queries propagate
// store errors so operators can tell a broken store from an empty log.
type Manager struct {
	cfg    Config
	store  store.LogStore
	logger log.Logger
}

// NewManager creates a Manager over the given log store. A nil logger
// falls back to the package default.
func NewManager(cfg Config, ls store.LogStore, logger log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	if cfg.Enabled && ls == nil {
		return nil, fmt.Errorf("audit logging enabled but no log store provided")
	}

	return &Manager{cfg: cfg, store: ls, logger: logger}, nil
}

// Initialize prepares the underlying store.
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}
	return m.store.Initialize(ctx)
}

// Enabled reports whether audit logging is active.
func (m *Manager) Enabled() bool {
	return m.cfg.Enabled
}

// RecordRequest logs an outgoing request and returns the request ID that
// correlates it with the matching response or error record. A fresh ID is
// generated when requestID is empty.
func (m *Manager) RecordRequest(ctx context.Context, key store.SessionKey, requestID string, payload map[string]any) string {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	m.record(ctx, store.RecordRequest, key, requestID, payload)
	return requestID
}

// RecordResponse logs a completed response correlated by requestID.
func (m *Manager) RecordResponse(ctx context.Context, key store.SessionKey, requestID string, payload map[string]any) {
	m.record(ctx, store.RecordResponse, key, requestID, payload)
}

// RecordError logs a failed invocation correlated by requestID.
func (m *Manager) RecordError(ctx context.Context, key store.SessionKey, requestID string, payload map[string]any) {
	m.record(ctx, store.RecordError, key, requestID, payload)
}

func (m *Manager) record(ctx context.Context, kind store.RecordKind, key store.SessionKey, requestID string, payload map[string]any) {
	if !m.cfg.Enabled {
		return
	}

	record := &store.LogRecord{
		Kind:      kind,
		UserID:    key.UserID,
		SessionID: key.SessionID,
		RequestID: requestID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	if err := m.store.AppendRecord(ctx, record); err != nil {
		m.logger.Warn("audit %s record dropped for %s: %v", kind, key, err)
	}
}

// Query returns stored records matching the filter, newest first.
func (m *Manager) Query(ctx context.Context, filter store.LogFilter) ([]*store.LogRecord, error) {
	if !m.cfg.Enabled {
		return []*store.LogRecord{}, nil
	}

	records, err := m.store.QueryRecords(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	return records, nil
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}
