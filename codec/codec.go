// Package codec turns cached objects into snapshot payloads and back.
package codec

import (
	"fmt"
	"strings"
)

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// ByName builds a codec from its configuration name: "json", "cbor" or "msgpack",
// optionally suffixed with "+zstd". maxObject > 0 bounds the size of one decoded
// object, before and after decompression.
func ByName[V any](name string, maxObject int) (Codec[V], error) {
	base, compressed := strings.CutSuffix(strings.ToLower(strings.TrimSpace(name)), "+zstd")

	var c Codec[V]
	switch base {
	case "", "json":
		c = JSON[V]{}
	case "msgpack":
		c = Msgpack[V]{}
	case "cbor":
		cb, err := NewCBOR[V](CBOROptions{MaxNesting: 32})
		if err != nil {
			return nil, err
		}
		c = cb
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
	if compressed {
		z, err := NewZstd(c, uint64(max(maxObject, 0)))
		if err != nil {
			return nil, err
		}
		c = z
	}
	if maxObject > 0 {
		c = Limit(c, maxObject)
	}
	return c, nil
}
