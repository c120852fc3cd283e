// Package oracle defines the contract with the external vision extraction
// service and the retry/classification policy around it.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Oracle is one vision call: a text prompt plus one image in, the raw model
// text out. Implementations own their timeout and retry discipline; a
// returned error is final and carries a user-facing message.
type Oracle interface {
	Call(ctx context.Context, prompt string, image []byte) (string, error)
}

// Kind classifies an oracle failure.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindServerError Kind = "server_error"
	KindAuthFailure Kind = "auth_failure"
	KindClientError Kind = "client_error"
	KindUnknown     Kind = "unknown"
)

// Retryable reports whether another attempt can reasonably succeed.
// Auth failures and malformed-request rejections never benefit from a retry.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindServerError, KindUnknown:
		return true
	default:
		return false
	}
}

// UserMessage is the plain-language message surfaced to the caller when
// attempts are exhausted. The orchestrator passes it through verbatim.
func (k Kind) UserMessage() string {
	switch k {
	case KindTimeout:
		return "the extraction service timed out; try again with a smaller or clearer image"
	case KindRateLimited:
		return "too many requests; wait a moment and try again"
	case KindServerError:
		return "the extraction service is temporarily unavailable; try again shortly"
	case KindAuthFailure:
		return "authentication with the extraction service failed; check the API key configuration"
	case KindClientError:
		return "the extraction service rejected the request; the image may be too large or complex, try a smaller image"
	default:
		return "extraction failed unexpectedly; try again"
	}
}

// Error is a classified oracle failure.
type Error struct {
	Kind     Kind
	Status   int // HTTP status when one was received, else 0
	Attempts int // attempts made before giving up
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s: %v)", e.Kind.UserMessage(), e.Kind, e.Err)
	}
	return e.Kind.UserMessage()
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps an HTTP status and/or transport error onto a Kind.
func Classify(status int, err error) Kind {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return KindTimeout
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return KindTimeout
		}
		if status == 0 {
			// connection refused, reset, DNS: transient gateway territory
			return KindUnknown
		}
	}
	switch {
	case status == 429:
		return KindRateLimited
	case status == 401 || status == 403:
		return KindAuthFailure
	case status == 408:
		return KindTimeout
	case status >= 500:
		return KindServerError
	case status >= 400:
		return KindClientError
	case status == 0:
		return KindUnknown
	default:
		return KindUnknown
	}
}
