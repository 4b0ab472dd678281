package httptransport

import (
	"net/http"
	"time"

	"github.com/velmie/offsync"
)

const (
	// PushPath is the route a Client posts to and a Handler serves.
	PushPath = "/v1/push"
	// HealthPath answers GET with {"status":"ok"}.
	HealthPath = "/health"

	defaultTimeout      = 15 * time.Second
	defaultMaxRetries   = 3
	defaultBaseDelay    = 100 * time.Millisecond
	defaultMaxDelay     = 2 * time.Second
	defaultMaxBodyBytes = 8 << 20
)

// ClientConfig defines Client behavior.
type ClientConfig struct {
	HTTPClient *http.Client
	// Token is sent as a bearer token when set.
	Token string
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps both the backoff and a server supplied Retry-After.
	MaxDelay time.Duration
	Logger   offsync.Logger
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Logger == nil {
		c.Logger = offsync.NopLogger{}
	}

	return c
}

// ClientOption configures a Client.
type ClientOption func(*ClientConfig)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *ClientConfig) {
		c.HTTPClient = client
	}
}

// WithToken sets the bearer token.
func WithToken(token string) ClientOption {
	return func(c *ClientConfig) {
		c.Token = token
	}
}

// WithRetries sets the retry count and backoff bounds.
func WithRetries(maxRetries int, baseDelay, maxDelay time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.MaxRetries = maxRetries
		c.BaseDelay = baseDelay
		c.MaxDelay = maxDelay
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger offsync.Logger) ClientOption {
	return func(c *ClientConfig) {
		c.Logger = logger
	}
}

// HandlerConfig defines Handler behavior.
type HandlerConfig struct {
	// Token, when set, is required as a bearer token on every push.
	Token        string
	MaxBodyBytes int64
	Logger       offsync.Logger
}

func (c HandlerConfig) withDefaults() HandlerConfig {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.Logger == nil {
		c.Logger = offsync.NopLogger{}
	}

	return c
}

// HandlerOption configures a Handler.
type HandlerOption func(*HandlerConfig)

// WithRequiredToken makes the handler reject pushes without this bearer token.
func WithRequiredToken(token string) HandlerOption {
	return func(c *HandlerConfig) {
		c.Token = token
	}
}

// WithMaxBodyBytes limits the request body size.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(c *HandlerConfig) {
		c.MaxBodyBytes = n
	}
}

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(logger offsync.Logger) HandlerOption {
	return func(c *HandlerConfig) {
		c.Logger = logger
	}
}
