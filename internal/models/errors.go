package models

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrSync          = errors.New("sync error")
	ErrParse         = errors.New("parse error")
	ErrEmbedding     = errors.New("embedding error")
	ErrStorage       = errors.New("storage error")
	ErrInvalidQuery  = errors.New("invalid query")
)

// OpError records which operation failed, its kind, and whether a retry may succeed.
type OpError struct {
	Kind      error
	Op        string
	Retryable bool
	Err       error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError wraps err as a non-retryable failure of the given kind.
func NewError(kind error, op string, err error) *OpError {
	return &OpError{Kind: kind, Op: op, Err: err}
}

// NewRetryableError wraps err as a transient failure of the given kind.
func NewRetryableError(kind error, op string, err error) *OpError {
	return &OpError{Kind: kind, Op: op, Retryable: true, Err: err}
}

// IsRetryable reports whether any OpError in err's chain is marked retryable.
func IsRetryable(err error) bool {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Retryable
	}
	return false
}
