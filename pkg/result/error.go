package result

import (
	"context"
	"errors"
	"fmt"

	platform "github.com/jmgilman/go/errors"
)

// Error is the error form of an ErrorKind. Gateways and caches return it so
// the classification survives until the orchestrator builds an Envelope.
//
// Error satisfies platform.PlatformError, so platform.ToJSON and
// platform.IsRetryable work on it directly.
type Error struct {
	kind    ErrorKind
	message string
	cause   error
}

var _ platform.PlatformError = (*Error)(nil)

// NewError creates an Error. cause may be nil.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// Error returns "[KIND] message" or "[KIND] message: cause".
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.kind, e.message)
}

// Kind returns the classified outcome.
func (e *Error) Kind() ErrorKind { return e.kind }

// Code returns the platform error code for the kind.
func (e *Error) Code() platform.ErrorCode { return e.kind.Code() }

// Classification is RETRYABLE only for UPSTREAM_UNAVAILABLE.
func (e *Error) Classification() platform.ErrorClassification {
	if e.kind.Retryable() {
		return platform.ClassificationRetryable
	}
	return platform.ClassificationPermanent
}

// Message returns the human-readable message.
func (e *Error) Message() string { return e.message }

// Context exposes the structured fields of the kind.
func (e *Error) Context() map[string]interface{} {
	ctx := map[string]interface{}{"kind": string(e.kind.Kind)}
	if e.kind.Stage != "" {
		ctx["stage"] = e.kind.Stage
	}
	if e.kind.Kind == KindPartialWriteFailure {
		ctx["completed_step"] = e.kind.CompletedStep
		ctx["failed_step"] = e.kind.FailedStep
		if e.kind.Compensated != nil {
			ctx["compensated"] = *e.kind.Compensated
		}
	}
	return ctx
}

func (e *Error) Unwrap() error { return e.cause }

// Classify resolves any error to exactly one ErrorKind and a message.
//
//   - *Error keeps its kind.
//   - Platform errors map by code: NOT_FOUND, ALREADY_EXISTS/CONFLICT → DUPLICATE,
//     retryable → UPSTREAM_UNAVAILABLE, INTERNAL/UNKNOWN → INTERNAL, other
//     permanent codes → UPSTREAM_REJECTED.
//   - context.DeadlineExceeded → UPSTREAM_UNAVAILABLE; context.Canceled → INTERNAL.
//   - Anything else is INTERNAL.
func Classify(err error) (ErrorKind, string) {
	if err == nil {
		return Internal(), "unknown failure"
	}

	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.kind, rerr.message
	}

	var perr platform.PlatformError
	if errors.As(err, &perr) {
		switch perr.Code() {
		case platform.CodeNotFound:
			return NotFound(), perr.Message()
		case platform.CodeAlreadyExists, platform.CodeConflict:
			return Duplicate(), perr.Message()
		}
		if perr.Classification().IsRetryable() {
			return UpstreamUnavailable(), perr.Message()
		}
		if perr.Code() == platform.CodeInternal || perr.Code() == platform.CodeUnknown {
			return Internal(), perr.Message()
		}
		return UpstreamRejected(), perr.Message()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return UpstreamUnavailable(), "request deadline exceeded"
	case errors.Is(err, context.Canceled):
		return Internal(), "request cancelled"
	}
	return Internal(), "internal error"
}

// AsError converts err into an *Error using Classify, keeping err as cause.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr
	}
	kind, msg := Classify(err)
	return NewError(kind, msg, err)
}
