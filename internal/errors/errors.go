// Package errors defines the closed set of failure kinds the ingestion
// pipeline and its surfaces can report, and the JSON envelope they are
// rendered into.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is one of a closed set of error classifications. Kinds, not Go
// types, are what callers and the wire envelope discriminate on.
type Kind string

const (
	FetchForbidden           Kind = "FETCH_FORBIDDEN"
	FetchFailed              Kind = "FETCH_FAILED"
	SizeExceeded             Kind = "SIZE_EXCEEDED"
	Timeout                  Kind = "TIMEOUT"
	FormatInvalid            Kind = "FORMAT_INVALID"
	MetadataExtractionFailed Kind = "METADATA_EXTRACTION_FAILED"
	StorageError             Kind = "STORAGE_ERROR"
	DatabaseError            Kind = "DATABASE_ERROR"
	StateConflict            Kind = "STATE_CONFLICT"
	Conflict                 Kind = "CONFLICT"
	ResourceNotFound         Kind = "RESOURCE_NOT_FOUND"
	ValidationError          Kind = "VALIDATION_ERROR"
	InvalidQuery             Kind = "INVALID_QUERY"
	AuthenticationFailed     Kind = "AUTHENTICATION_FAILED"
	RateLimitExceeded        Kind = "RATE_LIMIT_EXCEEDED"
	ExternalServiceError     Kind = "EXTERNAL_SERVICE_ERROR"
	InternalError            Kind = "INTERNAL_ERROR"
)

// retriableKinds mirrors spec §7: retriable kinds are those that may
// succeed on a later attempt of the same ingestion.
var retriableKinds = map[Kind]bool{
	FetchFailed:   true,
	Timeout:       true,
	StorageError:  true,
	DatabaseError: true,
}

// Error is the typed failure carried through the pipeline. It is never
// constructed with a nil Kind; use the constructors below.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error

	// pinnedRetriable overrides retriableKinds[Kind] when non-nil, for
	// kinds like FETCH_FAILED and STORAGE_ERROR whose retriability per
	// spec §7 depends on the upstream status (5xx vs 4xx), not the kind
	// alone. Set via NotRetriable.
	pinnedRetriable *bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retriable reports whether the orchestrator may attempt this error again.
func (e *Error) Retriable() bool {
	if e.pinnedRetriable != nil {
		return *e.pinnedRetriable
	}
	return retriableKinds[e.Kind]
}

// NotRetriable pins e as terminal for this attempt regardless of its kind's
// default classification — used for a 4xx FETCH_FAILED or a non-5xx
// STORAGE_ERROR, which spec §7 scopes retriability away from.
func (e *Error) NotRetriable() *Error {
	f := false
	e.pinnedRetriable = &f
	return e
}

// New builds an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetails attaches additional non-sensitive detail fields and returns e.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// As extracts the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Classify returns the Kind of err if it is (or wraps) an *Error, else
// InternalError — the catch-all for anything that escaped typed handling.
func Classify(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return InternalError
}

// Envelope is the failure response shape of spec §6.
type Envelope struct {
	Success bool           `json:"success"`
	Error   Kind           `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToEnvelope renders err (wrapping it as InternalError if it is not
// already a typed *Error) into the wire failure envelope.
func ToEnvelope(err error) Envelope {
	e, ok := As(err)
	if !ok {
		e = Wrap(InternalError, "unexpected internal error", err)
	}
	return Envelope{
		Success: false,
		Error:   e.Kind,
		Message: e.Message,
		Details: e.Details,
	}
}

// MarshalJSON renders the failure envelope directly.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToEnvelope(e))
}
