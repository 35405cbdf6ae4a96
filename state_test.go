package zotero

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryAfterHeaderParsing(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		val      string
		expected time.Duration
	}{
		{"5", 5 * time.Second},
		{"0", 0},
		{"1.5", 2 * time.Second}, // ceil
		{" 7 ", 7 * time.Second},
		{"-3", 0},
		{"", 0},
		{"garbage", 0},
		{"NaN", 0},
		{"1e12", 86400 * time.Second},
		{"Fri, 01 Mar 2024 12:00:30 GMT", 30 * time.Second},
		{"Friday, 01-Mar-24 12:01:00 GMT", time.Minute},
		{"Fri Mar  1 12:00:10 2024", 10 * time.Second},
		{"Fri, 01 Mar 2024 11:00:00 GMT", 0},
	}
	for _, tt := range tests {
		got := parseRetryAfter(tt.val, now)
		if got != tt.expected {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.val, got, tt.expected)
		}
	}
}

func TestBackoffStateRemaining(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var s BackoffState
	assert.Equal(t, time.Duration(0), s.Remaining(now))
	assert.Equal(t, "", s.Reason(now))

	s.Update(http.StatusOK, http.Header{"Backoff": {"10"}, "Retry-After": {"4"}}, now)
	assert.Equal(t, now.Add(10*time.Second), s.BlockedUntil())
	assert.Equal(t, 10*time.Second, s.Remaining(now))
	assert.Equal(t, 6*time.Second, s.Remaining(now.Add(4*time.Second)))
	assert.Equal(t, time.Duration(0), s.Remaining(now.Add(time.Minute)))

	// A later response without directives lifts the limit.
	s.Update(http.StatusOK, http.Header{}, now.Add(time.Second))
	assert.Equal(t, time.Duration(0), s.Remaining(now.Add(time.Second)))
}

func TestBackoffStateReason(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		code   int
		header http.Header
		want   string
	}{
		{"backoff", http.StatusOK, http.Header{"Backoff": {"5"}}, "overload"},
		{"429", http.StatusTooManyRequests, http.Header{"Retry-After": {"5"}}, "too many requests"},
		{"503", http.StatusServiceUnavailable, http.Header{"Retry-After": {"5"}}, "service unavailable"},
		{"other", http.StatusOK, http.Header{"Retry-After": {"5"}}, "unknown"},
		{"both", http.StatusTooManyRequests, http.Header{"Retry-After": {"5"}, "Backoff": {"5"}}, "overload; too many requests"},
		{"none", http.StatusTooManyRequests, http.Header{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s BackoffState
			s.Update(tt.code, tt.header, now)
			assert.Equal(t, tt.want, s.Reason(now))
			assert.Equal(t, "", s.Reason(now.Add(time.Hour)))
		})
	}
}
