package zotero

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Version is reported in the default User-Agent.
const Version = "0.4.0"

const (
	// DefaultHost is the Zotero Web API server.
	DefaultHost = "https://api.zotero.org"
	// DefaultAPIVersion is sent as Zotero-API-Version.
	DefaultAPIVersion = "3"
	// MaxRedirects is the number of redirect hops followed per request.
	MaxRedirects = 5
)

// Option configures a Client.
type Option func(*config)

type config struct {
	host            string
	apiKey          string
	headers         http.Header
	maxResponseSize int64
	timeout         time.Duration
	rps             float64
	burst           int
	httpClient      *http.Client
	tlsConfig       *tls.Config
	http2           bool
	logger          *slog.Logger
	clock           Clock

	onError       func(statusCode int, req *http.Request)
	onSuccess     func(req *http.Request, resp *http.Response)
	onRateLimited func(req *http.Request, state BackoffState)

	requestHook  func(req *http.Request)
	responseHook func(resp *http.Response)
}

func defaultConfig() *config {
	h := make(http.Header)
	h.Set("Zotero-API-Version", DefaultAPIVersion)
	h.Set("User-Agent", "zotero-go/"+Version)

	return &config{
		host:            DefaultHost,
		headers:         h,
		maxResponseSize: 10 * 1024 * 1024, // 10 MB
		timeout:         30 * time.Second,
		rps:             0, // no proactive pacing by default
		burst:           1,
		logger:          slog.New(slog.DiscardHandler),
		clock:           realClock{},
	}
}

// WithHost sets the API base URL, e.g. "https://api.zotero.org".
func WithHost(host string) Option {
	return func(c *config) { c.host = strings.TrimRight(host, "/") }
}

// WithAPIKey sets the key sent as a bearer token with every request that
// does not carry its own Authorization header or key parameter.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithAPIVersion overrides the Zotero-API-Version header.
func WithAPIVersion(v string) Option {
	return func(c *config) { c.headers.Set("Zotero-API-Version", v) }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *config) { c.headers.Set("User-Agent", ua) }
}

// WithHeader adds a default header to every request.
func WithHeader(key, value string) Option {
	return func(c *config) { c.headers.Set(key, value) }
}

// WithRateLimit paces outbound requests with a token bucket, in requests
// per second and burst size. Server-issued directives apply on top.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) {
		c.rps = rps
		if burst > 0 {
			c.burst = burst
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxResponseSize sets the maximum response body size in bytes.
func WithMaxResponseSize(n int64) Option {
	return func(c *config) { c.maxResponseSize = n }
}

// WithHTTPClient sets a custom underlying *http.Client. The client is copied;
// its redirect policy is replaced because redirects are followed by the
// dispatcher. The timeout option is ignored when a custom client is provided.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithHTTP2 sends requests over an HTTP/2 transport using tlsConfig
// (nil for system defaults). Ignored when WithHTTPClient is set.
func WithHTTP2(tlsConfig *tls.Config) Option {
	return func(c *config) {
		c.http2 = true
		c.tlsConfig = tlsConfig
	}
}

// WithLogger sets the structured logger. Logging is discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces the time source used for backoff and timers.
func WithClock(clk Clock) Option {
	return func(c *config) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithOnError sets a callback invoked on error responses.
func WithOnError(fn func(statusCode int, req *http.Request)) Option {
	return func(c *config) { c.onError = fn }
}

// WithOnSuccess sets a callback invoked on successful (2xx/3xx) responses.
func WithOnSuccess(fn func(req *http.Request, resp *http.Response)) Option {
	return func(c *config) { c.onSuccess = fn }
}

// WithOnRateLimited sets a callback invoked when a response leaves the
// client limited by a Retry-After or Backoff directive.
func WithOnRateLimited(fn func(req *http.Request, state BackoffState)) Option {
	return func(c *config) { c.onRateLimited = fn }
}

// WithRequestHook sets a hook called before each request is sent,
// including redirect hops.
func WithRequestHook(fn func(req *http.Request)) Option {
	return func(c *config) { c.requestHook = fn }
}

// WithResponseHook sets a hook called after each response is received.
func WithResponseHook(fn func(resp *http.Response)) Option {
	return func(c *config) { c.responseHook = fn }
}

// StreamOption configures a Stream.
type StreamOption func(*streamConfig)

type streamConfig struct {
	url           string
	apiKey        string
	headers       http.Header
	dialer        Dialer
	backoff       Backoff
	terminalCodes map[int]bool
	writeTimeout  time.Duration
	onEvent       func(Event)
	logger        *slog.Logger
	clock         Clock
}

func defaultStreamConfig() *streamConfig {
	h := make(http.Header)
	h.Set("Zotero-API-Version", DefaultAPIVersion)
	h.Set("User-Agent", "zotero-go/"+Version)

	return &streamConfig{
		url:     DefaultStreamURL,
		headers: h,
		dialer:  websocketDialer{},
		backoff: DefaultBackoff(),
		terminalCodes: map[int]bool{
			CloseNormal:             true,
			CloseInvalidCredentials: true,
		},
		writeTimeout: 10 * time.Second,
		logger:       slog.New(slog.DiscardHandler),
		clock:        realClock{},
	}
}

// WithStreamURL sets the streaming endpoint, e.g. "wss://stream.zotero.org".
func WithStreamURL(u string) StreamOption {
	return func(c *streamConfig) { c.url = u }
}

// WithStreamAPIKey authenticates the connection itself with key. Topics of
// that key's libraries are then reported in the connected event.
func WithStreamAPIKey(key string) StreamOption {
	return func(c *streamConfig) { c.apiKey = key }
}

// WithStreamHeader adds a header to the connection handshake.
func WithStreamHeader(key, value string) StreamOption {
	return func(c *streamConfig) { c.headers.Set(key, value) }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) StreamOption {
	return func(c *streamConfig) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithReconnect sets the reconnect schedule. The server's retry hint
// replaces b.Min when it arrives.
func WithReconnect(b Backoff) StreamOption {
	return func(c *streamConfig) { c.backoff = b }
}

// WithTerminalCloseCodes adds close codes after which the stream does not
// reconnect. 1000 and 4403 are always terminal.
func WithTerminalCloseCodes(codes ...int) StreamOption {
	return func(c *streamConfig) {
		for _, code := range codes {
			c.terminalCodes[code] = true
		}
	}
}

// WithWriteTimeout bounds each outbound frame write.
func WithWriteTimeout(d time.Duration) StreamOption {
	return func(c *streamConfig) { c.writeTimeout = d }
}

// WithEventHandler sets the observer for stream events. Events are delivered
// in order from the goroutine that produced them; the handler must not block.
func WithEventHandler(fn func(Event)) StreamOption {
	return func(c *streamConfig) { c.onEvent = fn }
}

// WithStreamLogger sets the structured logger.
func WithStreamLogger(l *slog.Logger) StreamOption {
	return func(c *streamConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStreamClock replaces the time source used for reconnect timers.
func WithStreamClock(clk Clock) StreamOption {
	return func(c *streamConfig) {
		if clk != nil {
			c.clock = clk
		}
	}
}
