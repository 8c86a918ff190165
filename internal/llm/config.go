package llm

// Config holds connection settings for an LLM provider.
type Config struct {
	// BaseURL is the API root, e.g. https://api.openai.com/v1.
	BaseURL string
	// APIKey is sent as a Bearer token when non-empty.
	APIKey string
	// Timeout is the whole-request timeout in seconds. Zero means the
	// provider default.
	Timeout int
	// Temperature is the default sampling temperature when the request
	// does not set one.
	Temperature float64
	// MaxTokens caps the completion length when the request does not set
	// its own cap. Zero means no cap.
	MaxTokens int
	// Headers are extra headers set on every request.
	Headers map[string]string
}
