package bailian

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dancing-Pierre/alibaba-bailian-api/audit"
	"github.com/Dancing-Pierre/alibaba-bailian-api/config"
	"github.com/Dancing-Pierre/alibaba-bailian-api/llm"
	"github.com/Dancing-Pierre/alibaba-bailian-api/log"
	"github.com/Dancing-Pierre/alibaba-bailian-api/memory"
	"github.com/Dancing-Pierre/alibaba-bailian-api/store"
	filestore "github.com/Dancing-Pierre/alibaba-bailian-api/store/file"
	memstore "github.com/Dancing-Pierre/alibaba-bailian-api/store/memory"
	pgstore "github.com/Dancing-Pierre/alibaba-bailian-api/store/postgres"
	redisstore "github.com/Dancing-Pierre/alibaba-bailian-api/store/redis"
	sqlitestore "github.com/Dancing-Pierre/alibaba-bailian-api/store/sqlite"
)

// Fallback identity applied when a caller does not name a user or
// session.
const (
	DefaultUserID    = "default_user"
	DefaultSessionID = "default"
)

// ModelCaller is the model invocation surface the client depends on.
// llm.Client implements it; tests inject fakes.
type ModelCaller interface {
	Invoke(ctx context.Context, req *llm.Request) (*llm.Response, error)
	InvokeStream(ctx context.Context, req *llm.Request) (<-chan llm.Fragment, error)
}

var _ ModelCaller = (*llm.Client)(nil)

// Option configures a Client beyond its Config.
type Option func(*Client)

// WithModelCaller injects the model invocation collaborator, replacing
// the built-in DashScope client. With an injected caller no API key is
// required.
func WithModelCaller(caller ModelCaller) Option {
	return func(c *Client) { c.caller = caller }
}

// WithHistoryStore injects the history backend, overriding the one the
// configuration would select. The client takes ownership and closes it.
func WithHistoryStore(hs store.HistoryStore) Option {
	return func(c *Client) { c.historyStore = hs }
}

// WithLogStore injects the audit log backend, overriding the one the
// configuration would select. The client takes ownership and closes it.
func WithLogStore(ls store.LogStore) Option {
	return func(c *Client) { c.logStore = ls }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client is the entry point of the library. It owns the configuration
// snapshot, the backend connections and the manager lifecycles, and
// creates Chat sessions.
type Client struct {
	cfg    config.Config
	caller ModelCaller
	logger log.Logger

	historyStore store.HistoryStore
	logStore     store.LogStore

	memory *memory.Manager
	audit  *audit.Manager

	mu          sync.Mutex
	initialized bool
	closed      bool
}

// New creates a Client from the given configuration. The configuration
// is copied; mutating cfg afterwards does not affect the client. An API
// key is required unless a model caller is injected.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Client{cfg: *cfg}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = log.NewDefaultLogger(log.ParseLevel(cfg.Log.Level))
	}

	if c.caller == nil {
		if cfg.API.APIKey == "" {
			return nil, &ValidationError{Field: "api key", Message: "not set"}
		}
		caller, err := llm.New(
			llm.WithAPIKey(cfg.API.APIKey),
			llm.WithBaseURL(cfg.API.BaseURL),
			llm.WithTimeout(time.Duration(cfg.API.Timeout)*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("create model client: %w", err)
		}
		c.caller = caller
	}

	return c, nil
}

// Initialize acquires the configured backends and prepares the memory
// and audit managers. It must be called before Chat or Logs. A failure
// releases everything acquired so far.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return store.ErrClosed
	}
	if c.initialized {
		return nil
	}

	if c.cfg.Memory.Enabled && c.historyStore == nil {
		hs, err := c.buildHistoryStore(ctx)
		if err != nil {
			return fmt.Errorf("initialize history backend: %w", err)
		}
		c.historyStore = hs
	}

	if c.cfg.Log.Enabled && c.logStore == nil {
		ls, err := c.buildLogStore(ctx)
		if err != nil {
			c.releaseLocked()
			return fmt.Errorf("initialize log backend: %w", err)
		}
		c.logStore = ls
	}

	mem, err := memory.NewManager(memory.Config{
		Enabled:    c.cfg.Memory.Enabled,
		MaxHistory: c.cfg.Memory.MaxHistoryLength,
		CacheSize:  c.cfg.Memory.CacheSize,
	}, c.historyStore, c.logger)
	if err != nil {
		c.releaseLocked()
		return fmt.Errorf("create memory manager: %w", err)
	}
	if err := mem.Initialize(ctx); err != nil {
		c.releaseLocked()
		return fmt.Errorf("initialize memory manager: %w", err)
	}

	aud, err := audit.NewManager(audit.Config{Enabled: c.cfg.Log.Enabled}, c.logStore, c.logger)
	if err != nil {
		c.releaseLocked()
		return fmt.Errorf("create audit manager: %w", err)
	}
	if err := aud.Initialize(ctx); err != nil {
		c.releaseLocked()
		return fmt.Errorf("initialize audit manager: %w", err)
	}

	c.memory = mem
	c.audit = aud
	c.initialized = true
	c.logger.Info("client initialized: memory=%s log=%s model=%s",
		storageLabel(c.cfg.Memory.Enabled, c.cfg.Memory.StorageType),
		storageLabel(c.cfg.Log.Enabled, c.cfg.Log.StorageType),
		c.cfg.Model.DefaultModel)
	return nil
}

// Chat creates a conversation builder bound to the given identity. Empty
// identifiers fall back to the default user and the stable per-user
// default session.
func (c *Client) Chat(userID, sessionID string) *Chat {
	if userID == "" {
		userID = DefaultUserID
	}
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	return &Chat{
		client:      c,
		key:         store.Key(userID, sessionID),
		model:       c.cfg.Model.DefaultModel,
		temperature: c.cfg.Model.DefaultTemperature,
		maxTokens:   c.cfg.Model.DefaultMaxTokens,
		system:      c.cfg.Model.DefaultSystemMessage,
		memoryOn:    true,
	}
}

// Logs queries the audit trail. The filter's zero values match
// everything; results are newest first.
func (c *Client) Logs(ctx context.Context, filter store.LogFilter) ([]*store.LogRecord, error) {
	c.mu.Lock()
	if !c.initialized || c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client not initialized")
	}
	aud := c.audit
	c.mu.Unlock()

	return aud.Query(ctx, filter)
}

// Close releases all backend connections. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	if c.memory != nil {
		if err := c.memory.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.memory = nil
		c.historyStore = nil
	}
	if c.audit != nil {
		if err := c.audit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.audit = nil
		c.logStore = nil
	}
	c.releaseLocked()
	return firstErr
}

// managers returns the initialized managers or an error when the client
// is not ready for use.
func (c *Client) managers() (*memory.Manager, *audit.Manager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized || c.closed {
		return nil, nil, fmt.Errorf("client not initialized")
	}
	return c.memory, c.audit, nil
}

func (c *Client) buildHistoryStore(ctx context.Context) (store.HistoryStore, error) {
	m := c.cfg.Memory
	switch m.StorageType {
	case "memory":
		return memstore.NewHistoryStore(), nil
	case "file":
		return filestore.NewHistoryStore(m.FilePath), nil
	case "redis":
		return redisstore.NewHistoryStore(redisstore.Options{
			Addr:     m.RedisAddr,
			Password: m.RedisPassword,
			DB:       m.RedisDB,
		}), nil
	case "sqlite":
		return sqlitestore.NewHistoryStore(sqlitestore.Options{Path: m.SQLitePath})
	case "postgres":
		return pgstore.NewHistoryStore(ctx, pgstore.Options{ConnString: m.PostgresURL})
	default:
		return nil, fmt.Errorf("unknown memory storage type: %q", m.StorageType)
	}
}

func (c *Client) buildLogStore(ctx context.Context) (store.LogStore, error) {
	l := c.cfg.Log
	switch l.StorageType {
	case "memory":
		return memstore.NewLogStore(), nil
	case "file":
		return filestore.NewLogStore(l.FilePath), nil
	case "redis":
		return redisstore.NewLogStore(redisstore.Options{
			Addr:     l.RedisAddr,
			Password: l.RedisPassword,
			DB:       l.RedisDB,
		}), nil
	case "sqlite":
		return sqlitestore.NewLogStore(sqlitestore.Options{Path: l.SQLitePath})
	case "postgres":
		return pgstore.NewLogStore(ctx, pgstore.Options{ConnString: l.PostgresURL})
	default:
		return nil, fmt.Errorf("unknown log storage type: %q", l.StorageType)
	}
}

// releaseLocked closes any backends acquired during a partial
// initialization. Callers hold c.mu.
func (c *Client) releaseLocked() {
	if c.historyStore != nil {
		if err := c.historyStore.Close(); err != nil {
			c.logger.Warn("close history backend: %v", err)
		}
		c.historyStore = nil
	}
	if c.logStore != nil {
		if err := c.logStore.Close(); err != nil {
			c.logger.Warn("close log backend: %v", err)
		}
		c.logStore = nil
	}
}

func storageLabel(enabled bool, storageType string) string {
	if !enabled {
		return "disabled"
	}
	return storageType
}
