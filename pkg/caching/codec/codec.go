// Package codec converts cached values to and from bytes.
//
// Caches store encoded bytes and decode on every read, so callers always
// receive their own copy of a cached value.
package codec

import (
	"fmt"
	"strings"
)

// Codec encodes and decodes values of type V.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Names of the built-in codecs, as used in configuration.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
	NameCBOR    = "cbor"
)

// ByName returns the built-in codec registered under name.
func ByName[V any](name string) (Codec[V], error) {
	switch strings.ToLower(name) {
	case "", NameMsgpack:
		return Msgpack[V]{}, nil
	case NameJSON:
		return JSON[V]{}, nil
	case NameCBOR:
		return NewCBOR[V](false)
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
