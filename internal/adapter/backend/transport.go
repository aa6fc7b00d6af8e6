package backend

import (
	"net"
	"net/http"
	"time"
)

// The backend is a single local host serving one request at a time per
// caller; a small pool is plenty.
const (
	defaultConnTimeout     = 2 * time.Second
	defaultMaxIdleConns    = 4
	defaultIdleConnTimeout = 90 * time.Second
	maxResponseBody        = 32 * 1024 * 1024 // detection images are large base64 JPEGs
)

// newPooledTransport creates an http.Transport tuned for the loopback backend.
func newPooledTransport(connTimeout time.Duration) *http.Transport {
	if connTimeout <= 0 {
		connTimeout = defaultConnTimeout
	}
	return &http.Transport{
		Proxy: nil, // loopback traffic must never go through a proxy
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConns,
		IdleConnTimeout:     defaultIdleConnTimeout,
	}
}
