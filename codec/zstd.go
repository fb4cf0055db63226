package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Zstd wraps another codec with ZStandard compression. Snapshot frames of large
// catalogs (thousands of tables with columns) compress well.
// Construct with NewZstd; safe for concurrent use.
type Zstd[V any] struct {
	inner Codec[V]
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

var _ Codec[struct{}] = (*Zstd[struct{}])(nil)

// NewZstd wraps inner. maxDecoded bounds the decompressed size (0 => zstd default).
func NewZstd[V any](inner Codec[V], maxDecoded uint64) (*Zstd[V], error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	opts := []zstd.DOption{zstd.WithDecoderConcurrency(0)}
	if maxDecoded > 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(maxDecoded))
	}
	dec, err := zstd.NewReader(nil, opts...)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Zstd[V]{inner: inner, enc: enc, dec: dec}, nil
}

func (z *Zstd[V]) Encode(v V) ([]byte, error) {
	b, err := z.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	// EncodeAll is goroutine-safe
	return z.enc.EncodeAll(b, make([]byte, 0, len(b)/2)), nil
}

func (z *Zstd[V]) Decode(b []byte) (V, error) {
	raw, err := z.dec.DecodeAll(b, nil)
	if err != nil {
		var zero V
		return zero, fmt.Errorf("failed to decompress: %w", err)
	}
	return z.inner.Decode(raw)
}

// Close releases the encoder and decoder.
func (z *Zstd[V]) Close() error {
	z.dec.Close()
	return z.enc.Close()
}
