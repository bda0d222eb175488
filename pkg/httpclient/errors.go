package httpclient

import "errors"

// Sentinel errors for HTTP client failure modes.
// Callers should use errors.Is() to check for these.
var (
	// ErrProxyConfig indicates the configured proxy URL is malformed or
	// uses an unsupported scheme.
	ErrProxyConfig = errors.New("httpclient: invalid proxy configuration")

	// ErrProxyConnect indicates the client failed to connect through
	// the configured SOCKS proxy in time.
	ErrProxyConnect = errors.New("httpclient: proxy connection failed")
)
