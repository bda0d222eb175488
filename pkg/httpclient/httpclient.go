// Package httpclient builds the HTTP clients used to deliver probes.
// Connection pooling, proxying (HTTP or SOCKS) and default request headers
// are configured here so the dispatcher only deals with requests.
package httpclient

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/waftester/webfuzzer/pkg/defaults"
)

// Config holds HTTP client configuration options.
type Config struct {
	// Timeout is the total request timeout (default: defaults.RequestTimeout)
	Timeout time.Duration

	// InsecureSkipVerify skips TLS certificate verification (default: false)
	InsecureSkipVerify bool

	// FollowRedirects makes the client follow 3xx responses, reporting the
	// final status. When false the redirect response itself is returned.
	FollowRedirects bool

	// Proxy is the proxy URL: http, https, socks5 or socks5h (optional)
	Proxy string

	// UserAgent is set on every request that does not carry one.
	UserAgent string

	// Headers are added to every request.
	Headers http.Header

	// MaxIdleConns is the maximum number of idle connections across all hosts (default: 100)
	MaxIdleConns int

	// MaxConnsPerHost is the maximum connections per host (default: 25)
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections stay in pool (default: 90s)
	IdleConnTimeout time.Duration

	// DialTimeout is the timeout for establishing connections (default: 10s)
	DialTimeout time.Duration

	// TLSHandshakeTimeout is the timeout for TLS handshake (default: 10s)
	TLSHandshakeTimeout time.Duration
}

// DefaultConfig returns the configuration probes are sent with.
func DefaultConfig() Config {
	return Config{
		Timeout:             defaults.RequestTimeout,
		FollowRedirects:     true,
		UserAgent:           defaults.UserAgent,
		MaxIdleConns:        100,
		MaxConnsPerHost:     25,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// New creates an HTTP client with the given configuration.
// Zero values fall back to DefaultConfig. An invalid proxy is an error
// rather than being silently dropped, so traffic never bypasses it.
func New(cfg Config) (*http.Client, error) {
	def := DefaultConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.TLSHandshakeTimeout == 0 {
		cfg.TLSHandshakeTimeout = def.TLSHandshakeTimeout
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,

		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,

		DialContext: dialer.DialContext,

		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in via -k
		},
	}

	if err := applyProxy(transport, cfg.Proxy, cfg.DialTimeout); err != nil {
		return nil, err
	}

	var rt http.RoundTripper = transport
	if cfg.UserAgent != "" || len(cfg.Headers) > 0 {
		rt = &headerTransport{base: transport, userAgent: cfg.UserAgent, headers: cfg.Headers.Clone()}
	}

	client := &http.Client{
		Transport: rt,
		Timeout:   cfg.Timeout,
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client, nil
}

func applyProxy(transport *http.Transport, raw string, timeout time.Duration) error {
	p, err := ParseProxyURL(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProxyConfig, err)
	}
	return p.Apply(transport, timeout)
}

// WithTimeout returns a new Config based on DefaultConfig with the specified timeout.
func WithTimeout(timeout time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Timeout = timeout
	return cfg
}

// WithProxy returns a new Config based on DefaultConfig with the specified proxy.
func WithProxy(proxyURL string) Config {
	cfg := DefaultConfig()
	cfg.Proxy = proxyURL
	return cfg
}

// headerTransport adds the configured User-Agent and headers to each request.
type headerTransport struct {
	base      http.RoundTripper
	userAgent string
	headers   http.Header
}

// RoundTrip implements http.RoundTripper.
func (h *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid mutating the caller's request.
	r := req.Clone(req.Context())

	for key, vals := range h.headers {
		r.Header.Del(key)
		for _, v := range vals {
			r.Header.Add(key, v)
		}
	}
	if h.userAgent != "" && r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", h.userAgent)
	}
	return h.base.RoundTrip(r)
}
