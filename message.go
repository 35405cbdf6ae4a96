package zotero

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Callback receives the completed message. err is non-nil for transport
// failures and for responses outside [200, 400) other than 304.
type Callback func(msg *Message, err error)

// RequestOptions describes one API call.
type RequestOptions struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
}

// Message pairs an API request with its eventual response. It is returned
// unsent by Client.Request; the response accessors return zero values until
// Done is closed.
type Message struct {
	ID     string
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte

	client     *Client
	ctx        context.Context
	callback   Callback
	enqueuedAt time.Time

	once sync.Once
	done chan struct{}

	code      int
	respH     http.Header
	raw       []byte
	data      any
	links     map[string]Link
	redirects int
	err       error
}

// Done is closed when the message has completed, successfully or not.
func (m *Message) Done() <-chan struct{} { return m.done }

// Wait blocks until the message completes or ctx is done, and returns the
// message error.
func (m *Message) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return m.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Message) completed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// complete records the outcome and runs the callback. Only the first call
// has any effect.
func (m *Message) complete(err error) {
	m.once.Do(func() {
		m.err = err
		close(m.done)
		if m.callback != nil {
			m.callback(m, err)
		}
	})
}

// URL returns the request path with its encoded query.
func (m *Message) URL() string {
	return Link{Path: m.Path, Query: m.Query}.URL()
}

// Err returns the completion error.
func (m *Message) Err() error {
	if !m.completed() {
		return nil
	}
	return m.err
}

// Code returns the response status code.
func (m *Message) Code() int {
	if !m.completed() {
		return 0
	}
	return m.code
}

// ResponseHeader returns the response headers.
func (m *Message) ResponseHeader() http.Header {
	if !m.completed() {
		return nil
	}
	return m.respH
}

// Raw returns the undecoded response body.
func (m *Message) Raw() []byte {
	if !m.completed() {
		return nil
	}
	return m.raw
}

// Data returns the decoded body: a generic JSON value, a string for text and
// HTML, or the raw bytes otherwise.
func (m *Message) Data() any {
	if !m.completed() {
		return nil
	}
	return m.data
}

// Decode unmarshals a JSON response body into v.
func (m *Message) Decode(v any) error {
	if !m.completed() {
		return fmt.Errorf("zotero: decode %s: message not completed", m.Path)
	}
	if err := sonic.ConfigStd.Unmarshal(m.raw, v); err != nil {
		return fmt.Errorf("zotero: decode %s: %w", m.Path, err)
	}
	return nil
}

// Type returns the short body type inferred from Content-Type.
func (m *Message) Type() string {
	return contentType(m.ResponseHeader().Get("Content-Type"))
}

// OK reports a 2xx response.
func (m *Message) OK() bool {
	code := m.Code()
	return code >= 200 && code < 300
}

// Unmodified reports a 304 response.
func (m *Message) Unmodified() bool { return m.Code() == http.StatusNotModified }

// Redirects returns the number of redirect hops followed.
func (m *Message) Redirects() int {
	if !m.completed() {
		return 0
	}
	return m.redirects
}

// Links returns the parsed Link header keyed by rel.
func (m *Message) Links() map[string]Link {
	if !m.completed() {
		return nil
	}
	return m.links
}

// Version returns Last-Modified-Version, or -1 when absent.
func (m *Message) Version() int64 {
	return headerInt(m.ResponseHeader(), "Last-Modified-Version")
}

// Total returns Total-Results, or -1 when absent.
func (m *Message) Total() int64 {
	return headerInt(m.ResponseHeader(), "Total-Results")
}

// Multi reports a multi-object response.
func (m *Message) Multi() bool { return m.Total() >= 0 }

// HasNext reports whether the Link header names a next page.
func (m *Message) HasNext() bool {
	_, ok := m.Links()["next"]
	return ok
}

// Next requests the next page with the same headers. It returns nil when
// there is no next page.
func (m *Message) Next(ctx context.Context, cb Callback) *Message {
	next, ok := m.Links()["next"]
	if !ok {
		return nil
	}
	return m.client.Request(ctx, RequestOptions{
		Method: http.MethodGet,
		Path:   next.Path,
		Query:  next.Query,
		Header: m.Header.Clone(),
	}, nil, cb)
}

// Retry enqueues a duplicate of the request.
func (m *Message) Retry(ctx context.Context, cb Callback) *Message {
	return m.client.Request(ctx, RequestOptions{
		Method: m.Method,
		Path:   m.Path,
		Query:  m.Query,
		Header: m.Header.Clone(),
	}, m.Body, cb)
}

func headerInt(h http.Header, key string) int64 {
	v := h.Get(key)
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}
