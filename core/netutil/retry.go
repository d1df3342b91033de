// Package netutil holds retry classification and the tuned HTTP client shared
// by the platform clients.
package netutil

import (
	"errors"
	"net"
	"net/url"
)

// Retryable is implemented by API errors that know whether a repeat may succeed.
type Retryable interface {
	Retryable() bool
}

// ShouldRetry reports whether an outbound call error is worth retrying:
// transient dial/timeout failures produced by net/http, and API errors that
// declare themselves retryable (5xx, 429).
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() || netErr.Temporary() {
			return true
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() || opErr.Op == "dial" {
			return true
		}
		if nested, ok := opErr.Err.(net.Error); ok {
			if nested.Timeout() || nested.Temporary() {
				return true
			}
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		if urlErr.Err != nil && !errors.Is(urlErr.Err, err) {
			return ShouldRetry(urlErr.Err)
		}
	}

	return false
}
