package codec

import "github.com/fxamacker/cbor/v2"

// CBOROptions tunes the CBOR codec. The zero value gives compact unsorted maps
// and the library's decode limits.
type CBOROptions struct {
	// Canonical sorts map keys (RFC 8949 core deterministic encoding), so equal
	// objects always produce equal payloads.
	Canonical bool
	// MaxNesting caps array and map depth on decode; 0 keeps the library default.
	MaxNesting int
}

// CBOR encodes with fxamacker/cbor. Duplicate map keys are rejected on decode,
// a payload naming a field twice is treated as damaged. Build with NewCBOR.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBOR[V any](o CBOROptions) (CBOR[V], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	if o.Canonical {
		eo = cbor.CoreDetEncOptions()
	}
	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: o.MaxNesting,
	}.DecMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	err := c.dec.Unmarshal(b, &v)
	return v, err
}
