// Package wire is the frame format of snapshot entries.
//
//	magic "MCF" | ver(1) | kind(1) | gen(uvarint) | scopeLen(uvarint) | scope
//	n(uvarint) | { nameLen(uvarint) | name | vlen(uvarint) | payload } * n
//	checksum(u64 be, xxhash64 of everything before it)
//
// A bulk frame holds one ordered collection, a single frame exactly one object.
// The scope is the namespace the frame was written for, so a frame read back under
// another namespace (prefix collisions in a shared store) can be told apart.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	version    byte = 2
	kindSingle byte = 1
	kindBulk   byte = 2

	header   = 3 + 1 + 1
	checksum = 8
	maxName  = 1<<16 - 1
)

var (
	ErrCorrupt = errors.New("metacache: corrupt snapshot frame")
	magic      = [3]byte{'M', 'C', 'F'}
)

// Item is one encoded object keyed by its name. Decoded payloads alias the frame.
type Item struct {
	Key     string
	Payload []byte
}

type Frame struct {
	Gen   uint64
	Scope string
	Items []Item
}

func EncodeBulk(scope string, gen uint64, items []Item) ([]byte, error) {
	return encode(kindBulk, scope, gen, items)
}

func EncodeSingle(scope string, gen uint64, it Item) ([]byte, error) {
	return encode(kindSingle, scope, gen, []Item{it})
}

func DecodeBulk(b []byte) (Frame, error) { return decode(b, kindBulk) }

// DecodeSingle rejects frames that do not hold exactly one object.
func DecodeSingle(b []byte) (Frame, error) {
	f, err := decode(b, kindSingle)
	if err != nil {
		return Frame{}, err
	}
	if len(f.Items) != 1 {
		return Frame{}, ErrCorrupt
	}
	return f, nil
}

func encode(kind byte, scope string, gen uint64, items []Item) ([]byte, error) {
	size := header + 3*binary.MaxVarintLen64 + len(scope) + checksum
	for _, it := range items {
		if l := len(it.Key); l == 0 || l > maxName {
			return nil, fmt.Errorf("metacache: invalid object name length %d in frame", l)
		}
		size += 2*binary.MaxVarintLen32 + len(it.Key) + len(it.Payload)
	}

	b := make([]byte, 0, size)
	b = append(b, magic[:]...)
	b = append(b, version, kind)
	b = binary.AppendUvarint(b, gen)
	b = binary.AppendUvarint(b, uint64(len(scope)))
	b = append(b, scope...)
	b = binary.AppendUvarint(b, uint64(len(items)))
	for _, it := range items {
		b = binary.AppendUvarint(b, uint64(len(it.Key)))
		b = append(b, it.Key...)
		b = binary.AppendUvarint(b, uint64(len(it.Payload)))
		b = append(b, it.Payload...)
	}
	return binary.BigEndian.AppendUint64(b, xxhash.Sum64(b)), nil
}

// reader consumes a frame body; once bad it stays bad and yields zero values.
type reader struct {
	b   []byte
	off int
	bad bool
}

func (r *reader) uvarint() uint64 {
	if r.bad {
		return 0
	}
	v, n := binary.Uvarint(r.b[r.off:])
	if n <= 0 {
		r.bad = true
		return 0
	}
	r.off += n
	return v
}

func (r *reader) next(n uint64) []byte {
	if r.bad || n > uint64(len(r.b)-r.off) {
		r.bad = true
		return nil
	}
	end := r.off + int(n)
	s := r.b[r.off:end:end]
	r.off = end
	return s
}

func decode(b []byte, kind byte) (Frame, error) {
	if len(b) < header+checksum || !bytes.Equal(b[:3], magic[:]) || b[3] != version || b[4] != kind {
		return Frame{}, ErrCorrupt
	}
	body := b[:len(b)-checksum]
	if xxhash.Sum64(body) != binary.BigEndian.Uint64(b[len(body):]) {
		return Frame{}, ErrCorrupt
	}

	r := &reader{b: body, off: header}
	f := Frame{Gen: r.uvarint()}
	f.Scope = string(r.next(r.uvarint()))
	n := r.uvarint()
	// an item takes at least three bytes; a bogus n must not drive the allocation
	if r.bad || n > uint64(len(body)-r.off)/3 {
		return Frame{}, ErrCorrupt
	}
	f.Items = make([]Item, 0, n)
	for i := uint64(0); i < n; i++ {
		key := r.next(r.uvarint())
		payload := r.next(r.uvarint())
		if r.bad || len(key) == 0 {
			return Frame{}, ErrCorrupt
		}
		f.Items = append(f.Items, Item{Key: string(key), Payload: payload})
	}
	if r.off != len(body) {
		return Frame{}, ErrCorrupt
	}
	return f, nil
}
