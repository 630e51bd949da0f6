// Package llm implements the LLM providers selectable as chat and
// inline completion backends.
package llm

import (
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Config holds the configuration for an OpenAI-compatible client.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Transport  http.RoundTripper
	Timeout    time.Duration
}

// Option configures a Config.
type Option func(*Config)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithTransport sets a custom HTTP transport (e.g., for header
// injection). This is ignored if WithHTTPClient is also used.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Config) {
		c.Transport = rt
	}
}

// WithTimeout sets the HTTP client timeout.
// This is ignored if WithHTTPClient is also used.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// NewClient creates an OpenAI-compatible client with the given
// configuration. BaseURL should be the full API base URL
// (e.g., "https://api.openai.com/v1"); empty means the OpenAI default.
func NewClient(baseURL, apiKey string, opts ...Option) *openai.Client {
	cfg := &Config{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		Timeout: 120 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	openaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		openaiCfg.BaseURL = cfg.BaseURL
	}

	if cfg.HTTPClient != nil {
		openaiCfg.HTTPClient = cfg.HTTPClient
	} else {
		transport := cfg.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		openaiCfg.HTTPClient = &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		}
	}

	return openai.NewClientWithConfig(openaiCfg)
}

// headerTransport injects a fixed header set into every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func newHeaderTransport(headers map[string]string) *headerTransport {
	return &headerTransport{base: http.DefaultTransport, headers: headers}
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range t.headers {
		cloned.Header.Set(k, v)
	}
	return t.base.RoundTrip(cloned)
}
