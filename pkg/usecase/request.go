package usecase

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

// Request is the immutable input of a use case. Values are copied on
// construction and read through accessors.
type Request struct {
	correlationID string
	actor         string
	values        map[string]any
}

// NewRequest creates a request on behalf of actor with a fresh correlation ID.
func NewRequest(actor string, values map[string]any) *Request {
	return NewRequestWithID(uuid.NewString(), actor, values)
}

// NewRequestWithID creates a request with a caller-supplied correlation ID,
// falling back to a fresh one when id is empty.
func NewRequestWithID(id, actor string, values map[string]any) *Request {
	if id == "" {
		id = uuid.NewString()
	}
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Request{correlationID: id, actor: actor, values: copied}
}

// CorrelationID identifies the request in logs.
func (r *Request) CorrelationID() string { return r.correlationID }

// Actor is the authenticated caller, or empty for anonymous requests.
func (r *Request) Actor() string { return r.actor }

// Get returns the raw value stored under key.
func (r *Request) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// String returns the value under key formatted as a string, or "" when
// absent.
func (r *Request) String(key string) string {
	v, ok := r.values[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the value under key as an int. Strings holding integers and
// whole float64 values (as decoded from JSON) are accepted.
func (r *Request) Int(key string) (int, bool) {
	switch v := r.values[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Keys returns the value keys in sorted order.
func (r *Request) Keys() []string {
	keys := make([]string, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
