package zotero

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

func TestHTTP2Transport(t *testing.T) {
	c := New(WithHTTP2(nil), WithTimeout(3*time.Second))
	defer c.Close()

	tr, ok := c.httpClient.Transport.(*http2.Transport)
	require.True(t, ok, "expected *http2.Transport, got %T", c.httpClient.Transport)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	assert.Equal(t, 3*time.Second, c.httpClient.Timeout)
}

func TestCustomHTTPClientIsCopied(t *testing.T) {
	custom := &http.Client{Timeout: time.Minute}
	c := New(WithHTTPClient(custom), WithHTTP2(nil))
	defer c.Close()

	assert.NotSame(t, custom, c.httpClient)
	assert.Nil(t, custom.CheckRedirect, "caller's client is left untouched")
	assert.Equal(t, time.Minute, c.httpClient.Timeout)
	assert.Nil(t, c.httpClient.Transport)
	assert.Equal(t, http.ErrUseLastResponse, c.httpClient.CheckRedirect(nil, nil))
}
