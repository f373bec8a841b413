package models

import "errors"

// Error kinds surfaced by the ingestion and query subsystem. Callers match
// with errors.Is; call sites wrap these with context via %w.
var (
	// ErrMalformedPayload marks an inbound message whose top-level payload
	// could not be parsed as a structured object. The message is dropped.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrStorage marks a constraint violation or I/O failure on a write.
	ErrStorage = errors.New("storage error")

	// ErrBrokerUnavailable marks the terminal coordinator state reached
	// when the broker is unreachable and could not be provisioned locally.
	ErrBrokerUnavailable = errors.New("mqtt broker unavailable")

	// ErrAuthFailed marks refused broker credentials, distinct from
	// transient network failure.
	ErrAuthFailed = errors.New("mqtt authentication failed")

	// ErrQuery marks bad parameters or a computation failure in an
	// aggregation query.
	ErrQuery = errors.New("query error")
)
