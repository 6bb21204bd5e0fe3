package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error annotates a Firestore failure with the operation and a coarse classification.
type Error struct {
	op            string
	err           error
	alreadyExists bool
	unavailable   bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsAlreadyExists reports whether a create collided with an existing document.
func (e *Error) IsAlreadyExists() bool { return e != nil && e.alreadyExists }

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

func newError(op string, err error) *Error {
	e := &Error{op: op, err: err}
	switch status.Code(err) {
	case codes.AlreadyExists:
		e.alreadyExists = true
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		e.unavailable = true
	}
	return e
}

// WrapError annotates Firestore errors with repository semantics. Context cancellations are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}
	return newError(op, err)
}

// IsAlreadyExists reports whether err, anywhere in its chain, is a create collision.
func IsAlreadyExists(err error) bool {
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return repoErr.IsAlreadyExists()
	}
	return status.Code(err) == codes.AlreadyExists
}

// IsUnavailable reports whether err, anywhere in its chain, is a transient
// backend outage.
func IsUnavailable(err error) bool {
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return repoErr.IsUnavailable()
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return true
	}
	return false
}
