package zotero

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Stats holds atomic request counters.
type Stats struct {
	TotalRequests   uint64
	TotalErrors     uint64
	RateLimited     uint64
	DeferredFlushes uint64
}

// StatsProvider exposes metrics for external collectors (Prometheus, OTel, etc.).
type StatsProvider interface {
	Stats() Stats
}

// Client dispatches requests to the Zotero API. Requests are queued and
// flushed on the next turn; while the server's Retry-After or Backoff
// directive is in effect the whole queue is held back and flushed in one
// piece once the directive expires.
type Client struct {
	httpClient *http.Client
	cfg        *config
	log        *slog.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
	state   BackoffState
	queue   requestQueue
	closed  bool

	totalReqs   atomic.Uint64
	totalErrors atomic.Uint64
	rateLimited atomic.Uint64
	deferred    atomic.Uint64
}

// Compile-time interface check.
var _ StatsProvider = (*Client)(nil)

// New creates a new Client with the given options.
func New(opts ...Option) *Client {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	var lim *rate.Limiter
	if cfg.rps > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.rps), cfg.burst)
	}

	return &Client{
		httpClient: buildHTTPClient(cfg),
		cfg:        cfg,
		log:        cfg.logger.With(slog.String("component", "client")),
		limiter:    lim,
	}
}

func buildHTTPClient(cfg *config) *http.Client {
	var hc http.Client
	switch {
	case cfg.httpClient != nil:
		hc = *cfg.httpClient
	case cfg.http2:
		hc = http.Client{Transport: newHTTP2Transport(cfg.tlsConfig), Timeout: cfg.timeout}
	default:
		hc = http.Client{Timeout: cfg.timeout}
	}
	// Redirects are followed by the dispatcher so that every hop is bounded
	// by MaxRedirects and visible to the hooks.
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &hc
}

// Close fails every queued request with ErrClientClosed and cancels a
// deferred flush. Requests already sent still complete.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue.cancelDeferred()
	batch := c.queue.drain()
	c.mu.Unlock()

	for _, m := range batch {
		m.complete(ErrClientClosed)
	}
}

// Stats returns a snapshot of request statistics.
func (c *Client) Stats() Stats {
	return Stats{
		TotalRequests:   c.totalReqs.Load(),
		TotalErrors:     c.totalErrors.Load(),
		RateLimited:     c.rateLimited.Load(),
		DeferredFlushes: c.deferred.Load(),
	}
}

// SetRateLimit dynamically adjusts the proactive rate limit.
func (c *Client) SetRateLimit(rps float64, burst int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	newRate := rate.Limit(rps)
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(newRate, burst)
	} else {
		c.limiter.SetLimit(newRate)
		c.limiter.SetBurst(burst)
	}
}

// State returns a copy of the backoff state left by the last response.
func (c *Client) State() BackoffState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Limited returns how long the client is still held back; zero when it
// may send.
func (c *Client) Limited() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Remaining(c.cfg.clock.Now())
}

// Reason explains why the client is limited, or returns "".
func (c *Client) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Reason(c.cfg.clock.Now())
}

// Pending returns the number of queued, unsent requests.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// Request queues an API call and returns its unsent message. The queue is
// flushed on the next turn, so several requests issued back to back go out
// in a single flush. cb, if non-nil, runs exactly once.
func (c *Client) Request(ctx context.Context, opts RequestOptions, body []byte, cb Callback) *Message {
	m := c.newMessage(ctx, opts, body, cb)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		go m.complete(ErrClientClosed)
		return m
	}
	m.enqueuedAt = c.cfg.clock.Now()
	c.queue.push(m)
	pending := c.queue.len()
	if !c.queue.tick {
		c.queue.tick = true
		c.cfg.clock.AfterFunc(0, c.onTick)
	}
	c.mu.Unlock()

	c.log.Debug("queued request",
		"id", m.ID,
		"method", m.Method,
		"path", m.URL(),
		"pending", pending,
	)
	return m
}

// Get queues a GET request for path with params encoded as the query.
func (c *Client) Get(ctx context.Context, path string, params url.Values, cb Callback) *Message {
	return c.Request(ctx, RequestOptions{
		Method: http.MethodGet,
		Path:   path,
		Query:  params,
	}, nil, cb)
}

func (c *Client) onTick() {
	c.mu.Lock()
	c.queue.tick = false
	c.mu.Unlock()
	c.Flush(false)
}

// Flush sends every queued request in FIFO order. Unless force is set,
// a limited client defers the entire queue and arms a single timer that
// flushes with force once the directive expires. Force cancels that timer
// and sends regardless.
func (c *Client) Flush(force bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if force {
		c.queue.cancelDeferred()
	}
	if c.queue.deferred != nil {
		c.mu.Unlock()
		return
	}
	if !force {
		now := c.cfg.clock.Now()
		if delay := c.state.Remaining(now); delay > 0 {
			c.queue.deferred = c.cfg.clock.AfterFunc(delay, func() { c.Flush(true) })
			reason, pending := c.state.Reason(now), c.queue.len()
			c.mu.Unlock()

			c.deferred.Add(1)
			c.log.Warn("rate limited, deferring flush",
				"delay", delay,
				"reason", reason,
				"pending", pending,
			)
			return
		}
	}
	batch := c.queue.drain()
	lim := c.limiter
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	c.log.Debug("flushing queue", "count", len(batch))
	if lim == nil {
		c.dispatch(batch, nil)
		return
	}
	go c.dispatch(batch, lim)
}

// dispatch hands each message to the transport in order. Each exchange
// runs on its own goroutine, but the next one starts only after the
// previous request has been written to its connection or has failed.
func (c *Client) dispatch(batch []*Message, lim *rate.Limiter) {
	for _, m := range batch {
		if lim != nil {
			if err := lim.Wait(m.ctx); err != nil {
				m.complete(fmt.Errorf("zotero: rate limit wait: %w", err))
				continue
			}
		}
		req, err := c.buildRequest(m)
		if err != nil {
			c.totalErrors.Add(1)
			m.complete(err)
			continue
		}
		if c.cfg.requestHook != nil {
			c.cfg.requestHook(req)
		}
		c.totalReqs.Add(1)

		sent := make(chan struct{})
		var once sync.Once
		handed := func() { once.Do(func() { close(sent) }) }
		req = req.WithContext(httptrace.WithClientTrace(req.Context(), &httptrace.ClientTrace{
			WroteRequest: func(httptrace.WroteRequestInfo) { handed() },
		}))

		go c.exchange(m, req, handed)
		<-sent
	}
}

// exchange performs one request. handed is called once the request is on
// the wire, or when the exchange ends without getting that far.
func (c *Client) exchange(m *Message, req *http.Request, handed func()) {
	resp, body, hops, err := c.roundTrip(req)
	handed()
	if resp == nil {
		// Nothing was received, so the backoff state stays as it is.
		c.totalErrors.Add(1)
		c.log.Debug("request failed", "id", m.ID, "path", m.Path, "error", err)
		m.complete(fmt.Errorf("zotero: %s %s: %w", m.Method, m.Path, err))
		return
	}

	now := c.cfg.clock.Now()
	c.mu.Lock()
	c.state.Update(resp.StatusCode, resp.Header, now)
	state := c.state
	c.mu.Unlock()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.rateLimited.Add(1)
	}
	if state.Remaining(now) > 0 && c.cfg.onRateLimited != nil {
		c.cfg.onRateLimited(req, state)
	}

	m.code = resp.StatusCode
	m.respH = resp.Header
	m.raw = body
	m.data = decodeBody(body, contentType(resp.Header.Get("Content-Type")))
	m.links = parseLinks(resp.Header.Get("Link"))
	m.redirects = hops

	if err != nil {
		err = fmt.Errorf("zotero: %s %s: %w", m.Method, m.Path, err)
	} else {
		err = statusError(m, resp)
	}

	c.log.Debug("response received",
		"id", m.ID,
		"path", m.Path,
		"status", resp.StatusCode,
		"bytes", len(body),
		"redirects", hops,
		"elapsed", now.Sub(m.enqueuedAt),
	)

	if err != nil {
		c.totalErrors.Add(1)
		if c.cfg.onError != nil {
			c.cfg.onError(resp.StatusCode, req)
		}
	} else if c.cfg.onSuccess != nil {
		c.cfg.onSuccess(req, resp)
	}
	m.complete(err)
}

// roundTrip performs the exchange and follows up to MaxRedirects redirects.
// A non-nil response is returned whenever one was received, even together
// with ErrTooManyRedirects.
func (c *Client) roundTrip(req *http.Request) (*http.Response, []byte, int, error) {
	for hops := 0; ; hops++ {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, nil, hops, err
		}
		if c.cfg.responseHook != nil {
			c.cfg.responseHook(resp)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.maxResponseSize))
		resp.Body.Close()
		if err != nil {
			return nil, nil, hops, fmt.Errorf("read response: %w", err)
		}

		loc := resp.Header.Get("Location")
		if !isRedirect(resp.StatusCode) || loc == "" {
			return resp, body, hops, nil
		}
		if hops >= MaxRedirects {
			return resp, body, hops, ErrTooManyRedirects
		}

		next, err := redirectRequest(req, resp.StatusCode, loc)
		if err != nil {
			return resp, body, hops, err
		}
		c.log.Debug("following redirect", "status", resp.StatusCode, "location", next.URL.String())
		if c.cfg.requestHook != nil {
			c.cfg.requestHook(next)
		}
		req = next
	}
}

func (c *Client) newMessage(ctx context.Context, opts RequestOptions, body []byte, cb Callback) *Message {
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	query := cloneValues(opts.Query)
	path, rawQuery, _ := strings.Cut(opts.Path, "?")
	if rawQuery != "" {
		if q, err := url.ParseQuery(rawQuery); err == nil {
			for k, vs := range q {
				if _, ok := query[k]; !ok {
					query[k] = vs
				}
			}
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	header := c.cfg.headers.Clone()
	for k, vs := range opts.Header {
		header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	if c.cfg.apiKey != "" && header.Get("Authorization") == "" && query.Get("key") == "" {
		header.Set("Authorization", "Bearer "+c.cfg.apiKey)
	}

	return &Message{
		ID:       uuid.NewString(),
		Method:   method,
		Path:     path,
		Query:    query,
		Header:   header,
		Body:     body,
		client:   c,
		ctx:      ctx,
		callback: cb,
		done:     make(chan struct{}),
	}
}

func (c *Client) buildRequest(m *Message) (*http.Request, error) {
	var body io.Reader
	if m.Body != nil {
		body = bytes.NewReader(m.Body)
	}
	req, err := http.NewRequestWithContext(m.ctx, m.Method, c.cfg.host+m.URL(), body)
	if err != nil {
		return nil, fmt.Errorf("zotero: build request %s %s: %w", m.Method, m.Path, err)
	}
	req.Header = m.Header.Clone()
	return req, nil
}

func redirectRequest(prev *http.Request, status int, loc string) (*http.Request, error) {
	target, err := prev.URL.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("redirect location %q: %w", loc, err)
	}

	method := prev.Method
	var body io.Reader
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		if method != http.MethodHead {
			method = http.MethodGet
		}
	default:
		if prev.GetBody != nil {
			rc, err := prev.GetBody()
			if err != nil {
				return nil, fmt.Errorf("redirect body: %w", err)
			}
			body = rc
		}
	}

	next, err := http.NewRequestWithContext(prev.Context(), method, target.String(), body)
	if err != nil {
		return nil, err
	}
	next.Header = prev.Header.Clone()
	if target.Host != prev.URL.Host {
		next.Header.Del("Authorization")
	}
	return next, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func statusError(m *Message, resp *http.Response) error {
	code := resp.StatusCode
	if (code >= 200 && code < 400) || code == http.StatusNotModified {
		return nil
	}
	msg := ""
	if s, ok := m.data.(string); ok {
		msg = strings.TrimSpace(s)
	}
	if msg == "" {
		msg = strings.ToLower(http.StatusText(code))
	}
	if msg == "" {
		msg = "unknown"
	}
	return &APIError{Code: code, Message: msg, Method: m.Method, Path: m.Path}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
