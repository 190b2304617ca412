package scrape

import (
	jsoniter "github.com/json-iterator/go"
)

// Error kinds surfaced at the core boundary. Workers raise them, the queue
// carries them serialized, and the wait coordinator re-raises them typed.
const (
	KindScrapeTimeout        = "SCRAPE_TIMEOUT"
	KindScrapeTimeoutInQueue = "SCRAPE_TIMEOUT_IN_QUEUE"
	KindResultNotFound       = "RESULT_NOT_FOUND"
	KindUnknown              = "UNKNOWN_ERROR"
)

var (
	ErrScrapeTimeout        = New(KindScrapeTimeout, "scrape did not complete before the deadline")
	ErrScrapeTimeoutInQueue = New(KindScrapeTimeoutInQueue, "scrape timed out while waiting in the queue")
	ErrResultNotFound       = New(KindResultNotFound, "job completed but no result was found")
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// TransportableError is a structured failure that survives serialization
// across the worker queue boundary without losing its kind.
type TransportableError struct {
	Kind    string              `json:"kind"`
	Message string              `json:"message"`
	Cause   *TransportableError `json:"cause,omitempty"`
}

// New returns a transportable error of the given kind.
func New(kind, message string) *TransportableError {
	return &TransportableError{Kind: kind, Message: message}
}

// Wrap converts an arbitrary error into a transportable one, preserving an
// existing TransportableError unchanged.
func Wrap(err error) *TransportableError {
	if err == nil {
		return nil
	}
	if te, ok := err.(*TransportableError); ok {
		return te
	}
	return &TransportableError{Kind: KindUnknown, Message: err.Error()}
}

func (e *TransportableError) Error() string {
	if e.Cause != nil {
		return e.Kind + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Kind + ": " + e.Message
}

func (e *TransportableError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Is matches by kind so errors.Is works against the package sentinels
// regardless of message.
func (e *TransportableError) Is(target error) bool {
	t, ok := target.(*TransportableError)
	return ok && t.Kind == e.Kind
}

// WithCause returns a copy of e chaining the given cause.
func (e *TransportableError) WithCause(cause error) *TransportableError {
	c := *e
	c.Cause = Wrap(cause)
	return &c
}

// Marshal serializes the error for transport through the worker queue.
func (e *TransportableError) Marshal() ([]byte, error) {
	return jsonCodec.Marshal(e)
}

// ParseTransportableError decodes a serialized transportable error. The
// second return is false when the bytes are not one, in which case callers
// fall back to a generic failure.
func ParseTransportableError(b []byte) (*TransportableError, bool) {
	if len(b) == 0 {
		return nil, false
	}
	var te TransportableError
	if err := jsonCodec.Unmarshal(b, &te); err != nil {
		return nil, false
	}
	if te.Kind == "" {
		return nil, false
	}
	return &te, true
}
