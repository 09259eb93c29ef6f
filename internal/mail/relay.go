// Package mail renders outbound email templates and hands the result to a
// mail relay. Two relays are provided: the SMTP2Go HTTP API and plain SMTP
// with STARTTLS. Relay failures are classified as transient or permanent so
// the dispatch engine knows whether a retry can help.
package mail

import (
	"context"
	"errors"
	"fmt"
)

// Message is one rendered plain-text email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Relay delivers a rendered message. The returned receipt is a
// provider-assigned identifier (or summary) recorded in the dispatch log.
type Relay interface {
	Send(ctx context.Context, msg Message) (receipt string, err error)
}

// RelayFunc adapts a function to the Relay interface.
type RelayFunc func(ctx context.Context, msg Message) (string, error)

// Send calls f.
func (f RelayFunc) Send(ctx context.Context, msg Message) (string, error) { return f(ctx, msg) }

// RelayError is a classified relay failure.
type RelayError struct {
	// Transient reports whether retrying the same message may succeed.
	Transient bool
	// Code is the provider status (HTTP or SMTP reply code), 0 if none.
	Code int
	Err  error
}

func (e *RelayError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Code != 0 {
		return fmt.Sprintf("relay %s failure (%d): %v", kind, e.Code, e.Err)
	}
	return fmt.Sprintf("relay %s failure: %v", kind, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable relay failure.
func Transient(code int, err error) error {
	return &RelayError{Transient: true, Code: code, Err: err}
}

// Permanent wraps err as a non-retryable relay failure.
func Permanent(code int, err error) error {
	return &RelayError{Transient: false, Code: code, Err: err}
}

// IsTransient reports whether err is worth retrying. Unclassified errors
// are treated as transient; context cancellation never is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var re *RelayError
	if errors.As(err, &re) {
		return re.Transient
	}
	return true
}
