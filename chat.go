package bailian

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Dancing-Pierre/alibaba-bailian-api/llm"
	"github.com/Dancing-Pierre/alibaba-bailian-api/memory"
	"github.com/Dancing-Pierre/alibaba-bailian-api/store"
)

// Chat is a chainable request builder for one conversation identity.
// Setters validate their input immediately: the first out-of-range value
// is recorded and every later invocation returns that ValidationError
// without touching the model or the stores.
//
// A Chat is not safe for concurrent use; create one per goroutine.
type Chat struct {
	client *Client
	key    store.SessionKey

	model       string
	temperature float32
	maxTokens   int
	system      string
	search      bool
	memoryOn    bool

	err error
}

// Model sets the model name for subsequent invocations.
func (c *Chat) Model(name string) *Chat {
	if c.err == nil && name == "" {
		c.err = &ValidationError{Field: "model", Message: "must not be empty"}
		return c
	}
	c.model = name
	return c
}

// Temperature sets the sampling temperature, valid range [0, 1].
func (c *Chat) Temperature(t float32) *Chat {
	if c.err == nil && (t < 0 || t > 1) {
		c.err = &ValidationError{Field: "temperature", Message: fmt.Sprintf("%v out of range [0, 1]", t)}
		return c
	}
	c.temperature = t
	return c
}

// MaxTokens bounds the response length, must be positive.
func (c *Chat) MaxTokens(n int) *Chat {
	if c.err == nil && n <= 0 {
		c.err = &ValidationError{Field: "max tokens", Message: fmt.Sprintf("%d must be positive", n)}
		return c
	}
	c.maxTokens = n
	return c
}

// System sets the system prompt prepended to every invocation.
func (c *Chat) System(message string) *Chat {
	c.system = message
	return c
}

// Search toggles web search for subsequent invocations.
func (c *Chat) Search(enabled bool) *Chat {
	c.search = enabled
	return c
}

// Memory toggles conversational memory for this chat. It is effective
// only when the client's memory subsystem is enabled.
func (c *Chat) Memory(enabled bool) *Chat {
	c.memoryOn = enabled
	return c
}

// User rebinds the chat to another user.
func (c *Chat) User(userID string) *Chat {
	if userID == "" {
		userID = DefaultUserID
	}
	c.key = store.Key(userID, c.key.SessionID)
	return c
}

// Session rebinds the chat to another session of the same user.
func (c *Chat) Session(sessionID string) *Chat {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	c.key = store.Key(c.key.UserID, sessionID)
	return c
}

// Err returns the sticky validation error, if any setter rejected its
// input.
func (c *Chat) Err() error {
	return c.err
}

// Ask sends a single-turn exchange and waits for the full response. On
// success the user and assistant turns are committed to memory and the
// exchange is audit logged; a memory write failure degrades to a logged
// warning. A model failure is returned as ModelCallError with an error
// record in the audit log and nothing committed.
func (c *Chat) Ask(ctx context.Context, message string) (*llm.Response, error) {
	return c.ask(ctx, message, nil, nil)
}

// AskWithImage sends a single-turn exchange with an image file inlined
// as a base64 data URL, for vision models.
func (c *Chat) AskWithImage(ctx context.Context, message, imagePath string) (*llm.Response, error) {
	dataURL, err := encodeImage(imagePath)
	if err != nil {
		return nil, err
	}
	return c.ask(ctx, message, []string{dataURL}, map[string]any{"image_path": imagePath})
}

// AskWithVideo sends a single-turn exchange with video frames inlined as
// base64 data URLs, for vision models that accept frame sequences.
func (c *Chat) AskWithVideo(ctx context.Context, message string, framePaths []string) (*llm.Response, error) {
	if len(framePaths) == 0 {
		return nil, &ValidationError{Field: "video", Message: "at least one frame required"}
	}

	dataURLs := make([]string, 0, len(framePaths))
	for _, p := range framePaths {
		dataURL, err := encodeImage(p)
		if err != nil {
			return nil, err
		}
		dataURLs = append(dataURLs, dataURL)
	}
	return c.ask(ctx, message, dataURLs, map[string]any{"video_frames": len(framePaths)})
}

// AskWithDocument reads a text document and appends its content to the
// prompt.
func (c *Chat) AskWithDocument(ctx context.Context, message, documentPath string) (*llm.Response, error) {
	content, err := os.ReadFile(documentPath)
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", documentPath, err)
	}

	prompt := message + "\n\nDocument content:\n" + string(content)
	return c.askPrompt(ctx, message, prompt, nil, map[string]any{"document_path": documentPath})
}

func (c *Chat) ask(ctx context.Context, message string, imageURLs []string, metadata map[string]any) (*llm.Response, error) {
	return c.askPrompt(ctx, message, message, imageURLs, metadata)
}

// askPrompt runs the full ask sequence. message is what gets committed
// to history, prompt is what gets sent to the model.
func (c *Chat) askPrompt(ctx context.Context, message, prompt string, imageURLs []string, metadata map[string]any) (*llm.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	if message == "" {
		return nil, &ValidationError{Field: "message", Message: "must not be empty"}
	}

	mem, aud, err := c.client.managers()
	if err != nil {
		return nil, err
	}

	req := c.buildRequest(ctx, mem, prompt, imageURLs)
	requestID := aud.RecordRequest(ctx, c.key, "", map[string]any{
		"model":       req.Model,
		"message":     message,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
		"search":      req.SearchEnabled,
	})

	resp, err := c.client.caller.Invoke(ctx, req)
	if err != nil {
		aud.RecordError(ctx, c.key, requestID, map[string]any{"error": err.Error()})
		return nil, &ModelCallError{Err: err}
	}

	aud.RecordResponse(ctx, c.key, requestID, map[string]any{
		"id":            resp.ID,
		"content":       resp.Content,
		"finish_reason": resp.FinishReason,
		"total_tokens":  resp.Usage.TotalTokens,
	})

	c.commit(ctx, mem, message, resp.Content, metadata)
	return resp, nil
}

// Stream starts a streaming exchange. Fragments are passed through to
// the returned Stream as they arrive; once the model signals completion
// the aggregated assistant turn is committed and logged exactly once.
// An aborted or cancelled stream commits nothing and leaves an error
// record carrying the partial text.
func (c *Chat) Stream(ctx context.Context, message string) (*Stream, error) {
	if c.err != nil {
		return nil, c.err
	}
	if message == "" {
		return nil, &ValidationError{Field: "message", Message: "must not be empty"}
	}

	mem, aud, err := c.client.managers()
	if err != nil {
		return nil, err
	}

	req := c.buildRequest(ctx, mem, message, nil)
	requestID := aud.RecordRequest(ctx, c.key, "", map[string]any{
		"model":       req.Model,
		"message":     message,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
		"search":      req.SearchEnabled,
		"stream":      true,
	})

	streamCtx, cancel := context.WithCancel(ctx)
	fragments, err := c.client.caller.InvokeStream(streamCtx, req)
	if err != nil {
		cancel()
		aud.RecordError(ctx, c.key, requestID, map[string]any{"error": err.Error()})
		return nil, &ModelCallError{Err: err}
	}

	return newStream(streamCtx, cancel, c, mem, aud, requestID, message, fragments), nil
}

// History returns the stored conversation history, oldest first. Unlike
// the context assembly inside Ask, store errors surface to the caller.
func (c *Chat) History(ctx context.Context, limit int) ([]*store.Turn, error) {
	mem, _, err := c.client.managers()
	if err != nil {
		return nil, err
	}
	return mem.History(ctx, c.key, limit)
}

// ClearMemory removes all stored history for this conversation.
func (c *Chat) ClearMemory(ctx context.Context) error {
	mem, _, err := c.client.managers()
	if err != nil {
		return err
	}
	return mem.Clear(ctx, c.key)
}

func (c *Chat) buildRequest(ctx context.Context, mem *memory.Manager, prompt string, imageURLs []string) *llm.Request {
	var messages []llm.Message
	if c.system != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: c.system})
	}

	if c.memoryOn {
		for _, turn := range mem.LoadContext(ctx, c.key) {
			messages = append(messages, llm.Message{Role: string(turn.Role), Content: turn.Content})
		}
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt, ImageURLs: imageURLs})

	return &llm.Request{
		Model:         c.model,
		Messages:      messages,
		Temperature:   c.temperature,
		MaxTokens:     c.maxTokens,
		SearchEnabled: c.search,
	}
}

// commit persists a completed exchange. Write failures never surface;
// the response already belongs to the caller.
func (c *Chat) commit(ctx context.Context, mem *memory.Manager, userMessage, assistantMessage string, metadata map[string]any) {
	if !c.memoryOn {
		return
	}

	err := mem.Commit(ctx, c.key,
		&store.Turn{Role: store.RoleUser, Content: userMessage, Metadata: metadata},
		&store.Turn{Role: store.RoleAssistant, Content: assistantMessage},
	)
	if err != nil {
		c.client.logger.Warn("memory commit failed for %s: %v", c.key, err)
	}
}

var imageMIMETypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

func encodeImage(path string) (string, error) {
	mime, ok := imageMIMETypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", &ValidationError{Field: "image", Message: fmt.Sprintf("unsupported format %q", filepath.Ext(path))}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}

	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
}
