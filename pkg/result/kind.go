package result

import (
	"fmt"

	platform "github.com/jmgilman/go/errors"
)

// Kind names one member of the closed outcome taxonomy.
type Kind string

const (
	// KindValidationFailed reports that a named validation stage rejected the request.
	KindValidationFailed Kind = "VALIDATION_FAILED"

	// KindNotFound reports that a referenced entity does not exist.
	KindNotFound Kind = "NOT_FOUND"

	// KindDuplicate reports that the request would create something that already exists.
	KindDuplicate Kind = "DUPLICATE"

	// KindUpstreamUnavailable reports transient upstream failure after retries were exhausted.
	KindUpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"

	// KindUpstreamRejected reports a permanent upstream failure. Never retried.
	KindUpstreamRejected Kind = "UPSTREAM_REJECTED"

	// KindPartialWriteFailure reports a failed two-step write.
	KindPartialWriteFailure Kind = "PARTIAL_WRITE_FAILURE"

	// KindInternal reports an unexpected fault inside the process.
	KindInternal Kind = "INTERNAL"
)

// ErrorKind is the machine-readable failure carried by a non-success Envelope.
// Only the fields relevant to Kind are set.
type ErrorKind struct {
	Kind Kind `json:"kind"`

	// Stage is the failing validation stage (KindValidationFailed).
	Stage string `json:"stage,omitempty"`

	// CompletedStep and FailedStep describe a partial write. CompletedStep is
	// empty when the first step failed.
	CompletedStep string `json:"completed_step,omitempty"`
	FailedStep    string `json:"failed_step,omitempty"`

	// Compensated reports whether the completed step was undone. Nil when no
	// compensation was needed.
	Compensated *bool `json:"compensated,omitempty"`
}

// ValidationFailed returns VALIDATION_FAILED(stage).
func ValidationFailed(stage string) ErrorKind {
	return ErrorKind{Kind: KindValidationFailed, Stage: stage}
}

// NotFound returns NOT_FOUND.
func NotFound() ErrorKind { return ErrorKind{Kind: KindNotFound} }

// Duplicate returns DUPLICATE.
func Duplicate() ErrorKind { return ErrorKind{Kind: KindDuplicate} }

// UpstreamUnavailable returns UPSTREAM_UNAVAILABLE.
func UpstreamUnavailable() ErrorKind { return ErrorKind{Kind: KindUpstreamUnavailable} }

// UpstreamRejected returns UPSTREAM_REJECTED.
func UpstreamRejected() ErrorKind { return ErrorKind{Kind: KindUpstreamRejected} }

// Internal returns INTERNAL.
func Internal() ErrorKind { return ErrorKind{Kind: KindInternal} }

// FirstWriteFailed returns PARTIAL_WRITE_FAILURE(completed=none, failed).
func FirstWriteFailed(failed string) ErrorKind {
	return ErrorKind{Kind: KindPartialWriteFailure, FailedStep: failed}
}

// PartialWriteFailure returns PARTIAL_WRITE_FAILURE(completed, failed) with the
// compensation outcome.
func PartialWriteFailure(completed, failed string, compensated bool) ErrorKind {
	return ErrorKind{
		Kind:          KindPartialWriteFailure,
		CompletedStep: completed,
		FailedStep:    failed,
		Compensated:   &compensated,
	}
}

// Retryable reports whether a caller may retry the whole request.
// Only UPSTREAM_UNAVAILABLE is.
func (k ErrorKind) Retryable() bool {
	return k.Kind == KindUpstreamUnavailable
}

// Is compares two kinds field by field.
func (k ErrorKind) Is(other ErrorKind) bool {
	if k.Kind != other.Kind || k.Stage != other.Stage ||
		k.CompletedStep != other.CompletedStep || k.FailedStep != other.FailedStep {
		return false
	}
	if k.Compensated == nil || other.Compensated == nil {
		return k.Compensated == other.Compensated
	}
	return *k.Compensated == *other.Compensated
}

func (k ErrorKind) String() string {
	switch k.Kind {
	case KindValidationFailed:
		return fmt.Sprintf("%s(%s)", k.Kind, k.Stage)
	case KindPartialWriteFailure:
		completed := k.CompletedStep
		if completed == "" {
			completed = "none"
		}
		s := fmt.Sprintf("%s(completed=%s, failed=%s", k.Kind, completed, k.FailedStep)
		if k.Compensated != nil {
			s += fmt.Sprintf(", compensated=%t", *k.Compensated)
		}
		return s + ")"
	default:
		return string(k.Kind)
	}
}

// Code maps the kind onto the platform error code used for serialized errors.
func (k ErrorKind) Code() platform.ErrorCode {
	switch k.Kind {
	case KindValidationFailed:
		return platform.CodeInvalidInput
	case KindNotFound:
		return platform.CodeNotFound
	case KindDuplicate:
		return platform.CodeAlreadyExists
	case KindUpstreamUnavailable:
		return platform.CodeUnavailable
	case KindUpstreamRejected:
		return platform.CodeExecutionFailed
	case KindPartialWriteFailure:
		return platform.CodeConflict
	default:
		return platform.CodeInternal
	}
}
