package erp

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure for retry policy.
type Kind int

const (
	// KindTransient: the ERP was reachable but answered 5xx, timed out, or
	// the connection failed. Safe to retry.
	KindTransient Kind = iota
	// KindPermanent: the ERP rejected the request (4xx other than 404).
	// Retrying the same request cannot succeed.
	KindPermanent
	// KindNotFound: the resource does not exist upstream.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindNotFound:
		return "not-found"
	}
	return "unknown"
}

// Error is a classified ERP fetch failure.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("erp: %s: %s (status %d)", e.Op, e.Kind, e.Status)
	}
	return fmt.Sprintf("erp: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable ERP failure.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransient
}

// IsNotFound reports whether err means the resource is absent upstream.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotFound
}
