package codec

import (
	"errors"
	"fmt"
)

var ErrTooLarge = errors.New("codec: payload too large")

type limited[V any] struct {
	Codec[V]
	max int
}

// Limit rejects payloads longer than n bytes on Decode, before inner sees them.
// Frames in a shared provider may come from other writers.
func Limit[V any](inner Codec[V], n int) Codec[V] {
	if n <= 0 {
		return inner
	}
	return limited[V]{Codec: inner, max: n}
}

func (l limited[V]) Decode(b []byte) (V, error) {
	if len(b) > l.max {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(b), l.max)
	}
	return l.Codec.Decode(b)
}
