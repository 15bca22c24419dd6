package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

var (
	ErrNotSetAuth    = errors.New("API key not set")
	ErrEmptyResponse = errors.New("empty response")
)

// DefaultBaseURL is the DashScope OpenAI-compatible endpoint.
const DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// Client invokes chat completion models through an OpenAI-compatible API.
type Client struct {
	api *openai.Client
}

// Option is a function that configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// WithAPIKey sets the API key for the client.
func WithAPIKey(apiKey string) Option {
	return func(opts *clientOptions) {
		opts.apiKey = apiKey
	}
}

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(opts *clientOptions) {
		opts.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(client *http.Client) Option {
	return func(opts *clientOptions) {
		opts.httpClient = client
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *clientOptions) {
		opts.timeout = timeout
	}
}

// New creates a new Client with the given options.
func New(opts ...Option) (*Client, error) {
	options := &clientOptions{
		baseURL: DefaultBaseURL,
	}

	for _, opt := range opts {
		opt(options)
	}

	if options.apiKey == "" {
		return nil, ErrNotSetAuth
	}

	cfg := openai.DefaultConfig(options.apiKey)
	cfg.BaseURL = strings.TrimSuffix(options.baseURL, "/")
	if options.httpClient != nil {
		cfg.HTTPClient = options.httpClient
	} else if options.timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: options.timeout}
	}

	return &Client{api: openai.NewClientWithConfig(cfg)}, nil
}

// Invoke sends a chat completion request and waits for the full response.
func (c *Client) Invoke(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.api.CreateChatCompletion(ctx, buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	return &Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Created:      resp.Created,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// InvokeStream sends a streaming chat completion request. Fragments are
// delivered on the returned channel in arrival order and the channel is
// closed after a single terminal fragment. Cancelling the context aborts
// the stream with a terminal Err fragment.
func (c *Client) InvokeStream(ctx context.Context, req *Request) (<-chan Fragment, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("create chat completion stream: %w", err)
	}

	out := make(chan Fragment)
	go func() {
		defer close(out)
		defer stream.Close()

		// Terminal sends must not block forever: a cancelled consumer
		// stops draining, and the goroutine has to exit so the HTTP
		// stream gets closed.
		emit := func(f Fragment) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				emit(Fragment{Done: true})
				return
			}
			if err != nil {
				emit(Fragment{Err: fmt.Errorf("receive stream chunk: %w", err)})
				return
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}

			if !emit(Fragment{Content: delta}) {
				emit(Fragment{Err: ctx.Err()})
				return
			}
		}
	}()

	return out, nil
}

func buildRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{Role: m.Role}
		if len(m.ImageURLs) > 0 {
			parts := make([]openai.ChatMessagePart, 0, len(m.ImageURLs)+1)
			if m.Content != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: m.Content,
				})
			}
			for _, u := range m.ImageURLs {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: u},
				})
			}
			msg.MultiContent = parts
		} else {
			msg.Content = m.Content
		}
		messages = append(messages, msg)
	}

	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if req.SearchEnabled {
		out.Tools = []openai.Tool{{Type: openai.ToolType("web_search")}}
	}
	return out
}
