package domain

import (
	"errors"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrLockHeld     = errors.New("lock already held")
	ErrUnavailable  = errors.New("venue not available")
)

// Error kinds. A *Error always carries exactly one of these so callers can
// decide between skipping an item, backing off a venue, or failing startup.
var (
	ErrConnectivity  = errors.New("connectivity error")
	ErrData          = errors.New("data error")
	ErrStaleData     = errors.New("stale data")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
)

// Error is a classified failure raised by a venue session, the ingestion
// coordinator or the arbitrage engine.
type Error struct {
	Kind  error
	Venue string
	Op    string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Venue != "" {
		b.WriteString(" [")
		b.WriteString(e.Venue)
		b.WriteString("]")
	}
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, venue, op string, err error) error {
	return &Error{Kind: kind, Venue: venue, Op: op, Err: err}
}

// ConnectivityError marks an auth or network failure on a venue session.
func ConnectivityError(venue, op string, err error) error {
	return newError(ErrConnectivity, venue, op, err)
}

// DataError marks a malformed payload or a missing required field.
func DataError(venue, op string, err error) error {
	return newError(ErrData, venue, op, err)
}

// StaleDataError marks a snapshot older than the staleness threshold.
func StaleDataError(venue, op string, err error) error {
	return newError(ErrStaleData, venue, op, err)
}

// ValidationError marks input that fails a decision precondition.
func ValidationError(venue, op string, err error) error {
	return newError(ErrValidation, venue, op, err)
}

// ConfigurationError marks a venue or component that cannot be constructed.
func ConfigurationError(venue, op string, err error) error {
	return newError(ErrConfiguration, venue, op, err)
}

// IsSuppressed reports whether err only suppresses a result (stale or
// invalid input) rather than signalling a failure.
func IsSuppressed(err error) bool {
	return errors.Is(err, ErrStaleData) || errors.Is(err, ErrValidation)
}
