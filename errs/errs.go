// Package errs provides the structured error envelope shared across the gateway.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies one of the closed set of failure categories the gateway
// distinguishes. Every error produced inside the streaming pipeline carries
// exactly one of these.
type Code string

const (
	// CodeTransient covers network failures, timeouts, upstream 429/503 and
	// clean closes. Handled locally by retry with backoff, never surfaced to
	// subscribers.
	CodeTransient Code = "transient"
	// CodeMalformed covers undecodable or field-incomplete venue payloads.
	// Counted, logged at warn, skipped.
	CodeMalformed Code = "malformed"
	// CodeSubscriptionRejected indicates a venue refused a topic. The feed is
	// marked degraded and keeps retrying at the maximum backoff cadence.
	CodeSubscriptionRejected Code = "subscription_rejected"
	// CodeClientProtocol covers downstream client violations: bad first
	// message, idle timeout, too many symbols.
	CodeClientProtocol Code = "client_protocol"
	// CodeInternal covers unexpected invariant violations.
	CodeInternal Code = "internal"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing exchange, capability, or resource.
	CodeNotFound Code = "not_found"
)

// E is the structured error envelope produced across the gateway.
type E struct {
	Exchange string
	Code     Code
	HTTP     int
	Message  string
	RawMsg   string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the exchange (or component) and code.
func New(exchange string, code Code, opts ...Option) *E {
	e := &E{
		Exchange: strings.TrimSpace(exchange),
		Code:     code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawMessage captures the raw venue error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	exchange := strings.TrimSpace(e.Exchange)
	if exchange == "" {
		exchange = "unknown"
	}
	parts = append(parts, "exchange="+exchange)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the gateway code from err, walking the unwrap chain.
// Errors produced outside the envelope report CodeInternal.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return CodeInternal
}

// IsTransient reports whether err should be handled by local retry.
func IsTransient(err error) bool {
	return CodeOf(err) == CodeTransient
}
