package zotero

import (
	"crypto/tls"
	"net/http"

	"golang.org/x/net/http2"
)

// newHTTP2Transport builds an HTTP/2-only transport. A nil tlsConfig uses
// the system roots with TLS 1.2 as the floor.
func newHTTP2Transport(tlsConfig *tls.Config) http.RoundTripper {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &http2.Transport{
		TLSClientConfig: tlsConfig,
	}
}
