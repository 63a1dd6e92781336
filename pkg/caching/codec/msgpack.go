package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack encodes values with msgpack. The zero value is ready to use and
// is the default cache codec.
type Msgpack[V any] struct{}

func (Msgpack[V]) Encode(v V) ([]byte, error) { return msgpack.Marshal(v) }

func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
