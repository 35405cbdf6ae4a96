package zotero

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// BackoffState tracks the rate-limit directives issued by the API servers.
// RetryAfter and Backoff are only meaningful relative to UpdatedAt, the time
// the response carrying them was received.
type BackoffState struct {
	StatusCode int
	RetryAfter time.Duration
	Backoff    time.Duration
	UpdatedAt  time.Time
}

// Update records the directives carried by a response. Missing or malformed
// headers count as "not limited".
func (s *BackoffState) Update(statusCode int, h http.Header, now time.Time) {
	s.StatusCode = statusCode
	s.UpdatedAt = now
	s.RetryAfter = parseRetryAfter(h.Get("Retry-After"), now)
	s.Backoff = parseSeconds(h.Get("Backoff"))
}

// BlockedUntil is UpdatedAt plus the larger of the two directives.
func (s BackoffState) BlockedUntil() time.Time {
	return s.UpdatedAt.Add(max(s.RetryAfter, s.Backoff))
}

// Remaining returns how long requests must still be held back at now.
// Zero means the client is not limited.
func (s BackoffState) Remaining(now time.Time) time.Duration {
	if s.RetryAfter == 0 && s.Backoff == 0 {
		return 0
	}
	return max(0, s.BlockedUntil().Sub(now))
}

// Reason explains why the client is limited at now, or returns "" when it
// is not.
func (s BackoffState) Reason(now time.Time) string {
	if s.Remaining(now) == 0 {
		return ""
	}

	var reasons []string
	if s.Backoff > 0 {
		reasons = append(reasons, "overload")
	}
	if s.RetryAfter > 0 {
		switch s.StatusCode {
		case http.StatusTooManyRequests:
			reasons = append(reasons, "too many requests")
		case http.StatusServiceUnavailable:
			reasons = append(reasons, "service unavailable")
		default:
			reasons = append(reasons, "unknown")
		}
	}
	return strings.Join(reasons, "; ")
}

// parseRetryAfter parses the Retry-After header value.
// It supports both seconds and HTTP-date formats.
// Returns the duration to wait, or 0 if unparseable.
func parseRetryAfter(val string, now time.Time) time.Duration {
	if d := parseSeconds(val); d > 0 {
		return d
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0
	}

	// Try HTTP-date (RFC 1123, RFC 850, ANSI C).
	for _, layout := range []string{
		time.RFC1123,
		time.RFC850,
		"Mon Jan _2 15:04:05 2006",
	} {
		if t, err := time.Parse(layout, val); err == nil {
			return max(0, t.Sub(now))
		}
	}
	return 0
}

// parseSeconds reads a non-negative number of seconds, rounding fractions up.
func parseSeconds(val string) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(val, 64)
	if err != nil || secs <= 0 || math.IsInf(secs, 0) || math.IsNaN(secs) {
		return 0
	}
	// A day is far beyond anything the API issues; it also keeps the
	// multiplication below from overflowing.
	secs = min(secs, 86400)
	return time.Duration(math.Ceil(secs)) * time.Second
}
