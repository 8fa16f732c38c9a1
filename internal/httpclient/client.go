// Package httpclient builds the pooled HTTP client shared by every upstream adapter.
package httpclient

import (
	"net"
	"net/http"
	"time"

	"llmrelay/internal/version"
)

// Config tunes the shared transport. Per-attempt deadlines come from the
// dispatcher's context; RequestTimeout is only a backstop for calls made
// without one (status probes from the CLI, tests).
type Config struct {
	MaxIdleConns     int
	IdleConnsPerHost int
	IdleTimeout      time.Duration
	RequestTimeout   time.Duration
	DialTimeout      time.Duration
	TLSTimeout       time.Duration
	// UserAgent is sent on every request that does not set its own.
	UserAgent string
}

// Defaults returns the transport settings used when nothing is configured.
func Defaults() Config {
	return Config{
		MaxIdleConns:     100,
		IdleConnsPerHost: 20,
		IdleTimeout:      90 * time.Second,
		RequestTimeout:   600 * time.Second,
		DialTimeout:      10 * time.Second,
		TLSTimeout:       10 * time.Second,
		UserAgent:        "llmrelay/" + version.Version,
	}
}

// WithTimeout returns a copy with RequestTimeout replaced. Zero keeps the current value.
func (c Config) WithTimeout(d time.Duration) Config {
	if d > 0 {
		c.RequestTimeout = d
	}
	return c
}

// New builds a client from cfg.
func New(cfg Config) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.IdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleTimeout,
		TLSHandshakeTimeout: cfg.TLSTimeout,
		ForceAttemptHTTP2:   true,
	}

	var rt http.RoundTripper = transport
	if cfg.UserAgent != "" {
		rt = &userAgent{next: transport, value: cfg.UserAgent}
	}
	return &http.Client{Transport: rt, Timeout: cfg.RequestTimeout}
}

// Default builds a client from Defaults.
func Default() *http.Client {
	return New(Defaults())
}

type userAgent struct {
	next  http.RoundTripper
	value string
}

func (u *userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return u.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", u.value)
	return u.next.RoundTrip(req)
}
