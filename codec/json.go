package codec

import "encoding/json"

// JSON is the default snapshot codec. The zero value is ready to use.
// Only exported fields survive; objects with back-references should implement
// metacache.Adopter to restore them after Decode.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
