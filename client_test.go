package bailian

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dancing-Pierre/alibaba-bailian-api/config"
	"github.com/Dancing-Pierre/alibaba-bailian-api/llm"
	"github.com/Dancing-Pierre/alibaba-bailian-api/log"
	"github.com/Dancing-Pierre/alibaba-bailian-api/store"
)

// fakeCaller is a scripted ModelCaller.
type fakeCaller struct {
	lastReq   *llm.Request
	resp      *llm.Response
	err       error
	fragments []llm.Fragment
	streamErr error
	// hang keeps the stream open after emitting fragments until the
	// context is cancelled, without sending a terminal fragment.
	hang bool
}

func (f *fakeCaller) Invoke(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &llm.Response{ID: "resp-1", Content: "fake answer", FinishReason: "stop"}, nil
}

func (f *fakeCaller) InvokeStream(ctx context.Context, req *llm.Request) (<-chan llm.Fragment, error) {
	f.lastReq = req
	if f.streamErr != nil {
		return nil, f.streamErr
	}

	ch := make(chan llm.Fragment)
	go func() {
		defer close(ch)
		for _, fr := range f.fragments {
			select {
			case ch <- fr:
			case <-ctx.Done():
				return
			}
		}
		if f.hang {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func newTestClient(t *testing.T, caller ModelCaller, opts ...Option) *Client {
	t.Helper()

	cfg := config.Default()
	opts = append([]Option{
		WithModelCaller(caller),
		WithLogger(&log.NoOpLogger{}),
	}, opts...)

	client, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, client.Initialize(context.Background()))
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNew_RequiresAPIKeyWithoutCaller(t *testing.T) {
	_, err := New(config.Default())
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "api key", vErr.Field)
}

func TestNew_InvalidConfigRejected(t *testing.T) {
	cfg := config.Default()
	cfg.Memory.StorageType = "mongodb"
	_, err := New(cfg, WithModelCaller(&fakeCaller{}))
	assert.Error(t, err)
}

func TestClient_Lifecycle(t *testing.T) {
	ctx := context.Background()
	client, err := New(config.Default(), WithModelCaller(&fakeCaller{}), WithLogger(&log.NoOpLogger{}))
	require.NoError(t, err)

	// Operations before Initialize fail.
	_, err = client.Logs(ctx, store.LogFilter{})
	assert.Error(t, err)
	_, err = client.Chat("alice", "main").Ask(ctx, "hello")
	assert.Error(t, err)

	require.NoError(t, client.Initialize(ctx))
	require.NoError(t, client.Initialize(ctx), "Initialize is idempotent")

	require.NoError(t, client.Close())
	require.NoError(t, client.Close(), "Close is idempotent")

	_, err = client.Logs(ctx, store.LogFilter{})
	assert.Error(t, err)
}

func TestClient_ChatIdentityFallbacks(t *testing.T) {
	client := newTestClient(t, &fakeCaller{})

	chat := client.Chat("", "")
	assert.Equal(t, DefaultUserID, chat.key.UserID)
	assert.Equal(t, DefaultSessionID, chat.key.SessionID)

	chat = client.Chat("alice", "")
	assert.Equal(t, "alice", chat.key.UserID)
	assert.Equal(t, DefaultSessionID, chat.key.SessionID)
}

func TestClient_ChatUsesModelDefaults(t *testing.T) {
	caller := &fakeCaller{}
	client := newTestClient(t, caller)

	_, err := client.Chat("alice", "main").Ask(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, "qwen-plus", caller.lastReq.Model)
	assert.Equal(t, float32(0.7), caller.lastReq.Temperature)
	assert.Equal(t, 2000, caller.lastReq.MaxTokens)
}

func TestClient_Logs(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, &fakeCaller{})

	_, err := client.Chat("alice", "main").Ask(ctx, "hello")
	require.NoError(t, err)

	records, err := client.Logs(ctx, store.LogFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, store.RecordResponse, records[0].Kind)
	assert.Equal(t, store.RecordRequest, records[1].Kind)
	assert.Equal(t, records[0].RequestID, records[1].RequestID)
}

func TestClient_InitFailureReleasesBackends(t *testing.T) {
	cfg := config.Default()
	cfg.Log.StorageType = "sqlite"
	cfg.Log.SQLitePath = "/nonexistent-dir/for-sure/logs.db"

	client, err := New(cfg, WithModelCaller(&fakeCaller{}), WithLogger(&log.NoOpLogger{}))
	require.NoError(t, err)

	err = client.Initialize(context.Background())
	require.Error(t, err)

	// The client never became usable.
	_, err = client.Logs(context.Background(), store.LogFilter{})
	assert.Error(t, err)
}

// failingHistoryStore errors on reads but accepts writes.
type failingHistoryStore struct{}

var errHistoryDown = errors.New("history backend down")

func (failingHistoryStore) Initialize(context.Context) error { return nil }
func (failingHistoryStore) AppendTurn(context.Context, store.SessionKey, *store.Turn) error {
	return nil
}
func (failingHistoryStore) History(context.Context, store.SessionKey, int) ([]*store.Turn, error) {
	return nil, errHistoryDown
}
func (failingHistoryStore) TrimHistory(context.Context, store.SessionKey, int) error { return nil }
func (failingHistoryStore) ClearHistory(context.Context, store.SessionKey) error     { return nil }
func (failingHistoryStore) Close() error                                             { return nil }

func TestClient_AskSucceedsWhenHistoryReadFails(t *testing.T) {
	caller := &fakeCaller{}
	client := newTestClient(t, caller, WithHistoryStore(failingHistoryStore{}))

	resp, err := client.Chat("alice", "main").Ask(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "fake answer", resp.Content)

	// Context assembly degraded to just the user message.
	require.Len(t, caller.lastReq.Messages, 1)
	assert.Equal(t, "hello", caller.lastReq.Messages[0].Content)
}
