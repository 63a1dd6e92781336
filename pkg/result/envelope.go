package result

// Envelope is the uniform response shape of every use case.
//
// Invariant: Success == (Error == nil) == (Payload != nil).
type Envelope[T any] struct {
	Success bool       `json:"success"`
	Error   *ErrorKind `json:"error_kind,omitempty"`
	Message string     `json:"message"`
	Payload *T         `json:"payload,omitempty"`
}

// OK builds a success envelope around payload.
func OK[T any](payload T, message string) Envelope[T] {
	return Envelope[T]{Success: true, Message: message, Payload: &payload}
}

// Fail builds a failure envelope. message should be human-readable; kind is
// the machine-readable part.
func Fail[T any](kind ErrorKind, message string) Envelope[T] {
	if message == "" {
		message = DefaultMessage(kind)
	}
	return Envelope[T]{Success: false, Error: &kind, Message: message}
}

// FromError builds a failure envelope from any error via Classify.
func FromError[T any](err error) Envelope[T] {
	kind, msg := Classify(err)
	return Fail[T](kind, msg)
}

// Recast carries a failure envelope over to another payload type.
// It must not be called on a success envelope.
func Recast[T, U any](e Envelope[U]) Envelope[T] {
	if e.Success || e.Error == nil {
		return Fail[T](Internal(), "recast of a success envelope")
	}
	return Fail[T](*e.Error, e.Message)
}

// Err returns the envelope failure as an *Error, or nil on success.
func (e Envelope[T]) Err() error {
	if e.Success || e.Error == nil {
		return nil
	}
	return NewError(*e.Error, e.Message, nil)
}

// Valid reports whether the envelope honors its invariant.
func (e Envelope[T]) Valid() bool {
	if e.Success {
		return e.Error == nil && e.Payload != nil
	}
	return e.Error != nil && e.Payload == nil
}

// DefaultMessage returns the generic human message for a kind.
func DefaultMessage(kind ErrorKind) string {
	switch kind.Kind {
	case KindValidationFailed:
		return "request rejected by " + kind.Stage + " check"
	case KindNotFound:
		return "requested item was not found"
	case KindDuplicate:
		return "item already exists"
	case KindUpstreamUnavailable:
		return "service temporarily unavailable, please retry later"
	case KindUpstreamRejected:
		return "request rejected by upstream service"
	case KindPartialWriteFailure:
		return "the operation could not be completed"
	default:
		return "internal error"
	}
}
