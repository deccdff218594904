package repositories

import "fmt"

// CounterErrorCode classifies counter failures so the service layer can map
// them onto its own sentinel errors.
type CounterErrorCode string

const (
	// CounterErrorUnknown is an unclassified failure.
	CounterErrorUnknown CounterErrorCode = "counter_unknown"
	// CounterErrorInvalidInput means the caller passed bad arguments.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted means the sequence hit its configured ceiling.
	// Order numbers carry a fixed-width suffix, so daily sequences are capped.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError is a typed counter failure.
type CounterError struct {
	Op      string
	Code    CounterErrorCode
	Message string
	Err     error
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCounterError builds a typed counter error, defaulting the message to
// the code.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}
