package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/Dancing-Pierre/alibaba-bailian-api/log"
	"github.com/Dancing-Pierre/alibaba-bailian-api/store"
)

const cacheTTL = time.Hour

// Config controls the behavior of a Manager.
type Config struct {
	// Enabled turns conversational memory on. When false every Manager
	// operation is a no-op.
	Enabled bool
	// MaxHistory bounds the number of stored turns per session. Oldest
	// turns are evicted as part of Commit.
	MaxHistory int
	// CacheSize enables an in-process read cache holding up to CacheSize
	// session histories when > 0.
	CacheSize int64
}

// Manager maintains bounded per-session conversation history on top of a
// HistoryStore. Reads fail open: a broken store degrades the session to
// stateless operation instead of failing the request.
type Manager struct {
	cfg    Config
	store  store.HistoryStore
	logger log.Logger
	cache  *ristretto.Cache

	mu   sync.Mutex
	keys map[string]*sync.Mutex
	gens map[string]uint64
}

// cacheEntry pins the key generation the history was read under. A commit
// bumps the generation, so an entry cached by a read that raced the commit
// is rejected on the next lookup instead of serving pre-commit context.
type cacheEntry struct {
	gen   uint64
	turns []*store.Turn
}

// NewManager creates a Manager over the given history store. A nil logger
// falls back to the package default.
func NewManager(cfg Config, hs store.HistoryStore, logger log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	if cfg.Enabled && hs == nil {
		return nil, fmt.Errorf("memory enabled but no history store provided")
	}
	if cfg.Enabled && cfg.MaxHistory <= 0 {
		return nil, fmt.Errorf("max history must be positive, got %d", cfg.MaxHistory)
	}

	m := &Manager{
		cfg:    cfg,
		store:  hs,
		logger: logger,
		keys:   make(map[string]*sync.Mutex),
		gens:   make(map[string]uint64),
	}

	if cfg.Enabled && cfg.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: cfg.CacheSize * 10,
			MaxCost:     cfg.CacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("create history cache: %w", err)
		}
		m.cache = cache
	}

	return m, nil
}

// Initialize prepares the underlying store.
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}
	return m.store.Initialize(ctx)
}

// Enabled reports whether conversational memory is active.
func (m *Manager) Enabled() bool {
	return m.cfg.Enabled
}

// LoadContext returns the stored history for key, oldest first, bounded
// by MaxHistory. When memory is disabled it returns an empty slice. A
// store failure is logged and an empty slice returned, so the caller
// proceeds without context.
func (m *Manager) LoadContext(ctx context.Context, key store.SessionKey) []*store.Turn {
	if !m.cfg.Enabled {
		return nil
	}

	gen := m.keyGen(key)
	if m.cache != nil {
		if v, ok := m.cache.Get(key.String()); ok {
			if entry, ok := v.(cacheEntry); ok && entry.gen == gen {
				return entry.turns
			}
		}
	}

	turns, err := m.store.History(ctx, key, m.cfg.MaxHistory)
	if err != nil {
		m.logger.Warn("history read failed for %s, continuing without context: %v", key, err)
		return nil
	}

	if m.cache != nil {
		m.cache.SetWithTTL(key.String(), cacheEntry{gen: gen, turns: turns}, 1, cacheTTL)
	}
	return turns
}

// History returns stored turns for an explicit history read. Unlike
// LoadContext it propagates store errors, since the caller asked for the
// data itself rather than best-effort context. A limit <= 0 falls back to
// MaxHistory.
func (m *Manager) History(ctx context.Context, key store.SessionKey, limit int) ([]*store.Turn, error) {
	if !m.cfg.Enabled {
		return []*store.Turn{}, nil
	}
	if limit <= 0 {
		limit = m.cfg.MaxHistory
	}

	turns, err := m.store.History(ctx, key, limit)
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", key, err)
	}
	return turns, nil
}

// Commit appends the given turns to the session history and evicts the
// oldest entries beyond MaxHistory. Turns without a timestamp are stamped
// at commit time. Commits for the same key are serialized so the bound
// holds under concurrency.
func (m *Manager) Commit(ctx context.Context, key store.SessionKey, turns ...*store.Turn) error {
	if !m.cfg.Enabled || len(turns) == 0 {
		return nil
	}

	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	for _, turn := range turns {
		if turn.Timestamp.IsZero() {
			turn.Timestamp = now
		}
		if err := m.store.AppendTurn(ctx, key, turn); err != nil {
			return fmt.Errorf("append turn for %s: %w", key, err)
		}
	}

	if err := m.store.TrimHistory(ctx, key, m.cfg.MaxHistory); err != nil {
		return fmt.Errorf("trim history for %s: %w", key, err)
	}

	m.invalidate(key)
	return nil
}

// Clear removes all stored history for the session.
func (m *Manager) Clear(ctx context.Context, key store.SessionKey) error {
	if !m.cfg.Enabled {
		return nil
	}

	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.ClearHistory(ctx, key); err != nil {
		return fmt.Errorf("clear history for %s: %w", key, err)
	}

	m.invalidate(key)
	return nil
}

// Close releases the cache and the underlying store.
func (m *Manager) Close() error {
	if m.cache != nil {
		m.cache.Close()
	}
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}

func (m *Manager) keyLock(key store.SessionKey) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key.String()
	lock, ok := m.keys[k]
	if !ok {
		lock = &sync.Mutex{}
		m.keys[k] = lock
	}
	return lock
}

func (m *Manager) keyGen(key store.SessionKey) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gens[key.String()]
}

func (m *Manager) invalidate(key store.SessionKey) {
	m.mu.Lock()
	m.gens[key.String()]++
	m.mu.Unlock()

	if m.cache != nil {
		m.cache.Del(key.String())
	}
}
