package zotero

import (
	"context"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	// DefaultStreamURL is the Zotero streaming API endpoint.
	DefaultStreamURL = "wss://stream.zotero.org"

	// CloseNormal is the close code of a deliberate, local close.
	CloseNormal = int(websocket.StatusNormalClosure)
	// CloseInvalidCredentials is sent by the server when the connection's
	// API key is rejected.
	CloseInvalidCredentials = 4403
)

// Conn is the push connection. *websocket.Conn satisfies it.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

type websocketDialer struct{}

func (websocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// closeCode extracts the close code from a read error, or -1 when the
// connection failed without a close frame.
func closeCode(err error) int {
	return int(websocket.CloseStatus(err))
}

// Backoff defines the reconnect schedule.
type Backoff struct {
	// Min is the first delay. The server's retry hint replaces it.
	Min time.Duration
	// Max caps the delay.
	Max time.Duration
	// Factor multiplies the delay for each consecutive failed attempt.
	Factor float64
	// Jitter adds randomization as a fraction of the delay (0-1).
	Jitter float64
}

// DefaultBackoff waits 10s before the first reconnect and doubles up to
// five minutes.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    10 * time.Second,
		Max:    5 * time.Minute,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the delay before reconnect attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	min := b.Min
	if min <= 0 {
		min = time.Second
	}
	max := b.Max
	if max < min {
		max = min
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	wait := min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > max {
			wait = max
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
