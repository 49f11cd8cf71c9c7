package transport

import (
	"net/http"
	"time"

	"github.com/okian/proctor/pkg/logger"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithBreaker tunes when the event feed short-circuits and for how long.
func WithBreaker(consecutiveFailures uint32, openFor time.Duration) Option {
	return func(c *Client) {
		if consecutiveFailures > 0 {
			c.failures = consecutiveFailures
		}
		if openFor > 0 {
			c.openTime = openFor
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}
