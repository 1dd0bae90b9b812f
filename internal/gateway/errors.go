// Package gateway adapts third-party model SDKs to core.ModelGateway.
// Each file wires one provider's streaming API into a channel of
// core.Delta, classifying failures as core.TransientError or
// core.PermanentError so internal/engine's retry loop can make the only
// retry decision in the system.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/penguin-run/penguin/pkg/core"
)

// classifyReason mirrors the failover taxonomy a provider SDK's status
// codes and error strings map onto: rate limits, server errors, and
// timeouts are worth a retry; auth, billing, and malformed requests are
// not.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"rate limit", "rate_limit", "429", "too many requests",
		"500", "502", "503", "504", "internal server", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded", "connection reset", "connection refused", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func classifyStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// wrapStreamErr turns a raw provider error into the core retry-policy
// error types the Engine understands, preferring an HTTP status when the
// caller has one.
func wrapStreamErr(err error, retryable bool) error {
	if err == nil {
		return nil
	}
	if retryable {
		return &core.TransientError{Err: err}
	}
	return &core.PermanentError{Err: err}
}

// send delivers d unless ctx is cancelled first, reporting whether the
// consumer was still listening. Adapters must stop producing once it
// returns false — the multiplexer has already observed cancellation and
// will never read again.
func send(ctx context.Context, ch chan<- core.Delta, d core.Delta) bool {
	select {
	case ch <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// asContextErr reports whether err is (or wraps) context cancellation so
// callers can skip classification entirely and let the Engine treat it
// as a plain cancellation rather than a provider failure.
func asContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
