package zotero

import (
	"errors"
	"fmt"
)

var (
	// ErrTooManyRedirects is returned when a request exceeds MaxRedirects hops.
	ErrTooManyRedirects = errors.New("zotero: too many redirects")
	// ErrClientClosed is returned for requests still queued when the client closes.
	ErrClientClosed = errors.New("zotero: client closed")
	// ErrNoSubscription is returned when adding a topic to a credential
	// that has no subscription entry.
	ErrNoSubscription = errors.New("zotero: no such subscription")
	// ErrStreamOpen is returned by Open when a connection already exists.
	ErrStreamOpen = errors.New("zotero: stream already open")
	// ErrStreamClosed is returned by Close on a closed stream and delivered
	// to callbacks still waiting when the stream closes.
	ErrStreamClosed = errors.New("zotero: stream closed")
	// ErrNotConnected is returned when sending without a live connection.
	ErrNotConnected = errors.New("zotero: stream not connected")
	// ErrMalformedEvent marks an inbound stream frame that could not be parsed.
	ErrMalformedEvent = errors.New("zotero: malformed stream event")
)

// APIError is returned for responses with a status outside [200, 400),
// with the exception of 304 Not Modified.
type APIError struct {
	Code    int
	Message string
	Method  string
	Path    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zotero: HTTP %d on %s %s: %s", e.Code, e.Method, e.Path, e.Message)
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not an
// *APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
