package llm

// Message roles accepted by the chat completion API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message. ImageURLs carries inline image
// content (data URLs or fetchable URLs) for vision models; when set the
// message is sent as multi-part content.
type Message struct {
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	ImageURLs []string `json:"image_urls,omitempty"`
}

// Request describes one model invocation.
type Request struct {
	Model         string    `json:"model"`
	Messages      []Message `json:"messages"`
	Temperature   float32   `json:"temperature,omitempty"`
	MaxTokens     int       `json:"max_tokens,omitempty"`
	SearchEnabled bool      `json:"search_enabled,omitempty"`
}

// Usage reports token consumption for a completed invocation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the result of a non-streaming invocation.
type Response struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Created      int64  `json:"created"`
	Usage        Usage  `json:"usage"`
}

// Fragment is one element of a streaming invocation. Content fragments
// arrive in order; the stream ends with exactly one terminal fragment,
// either Done or Err, after which the channel is closed.
type Fragment struct {
	Content string
	Done    bool
	Err     error
}
