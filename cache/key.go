package cache

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	defaultMultiplier uint64 = 37
	defaultHashcode   uint64 = 17
)

// ErrNullKeyUpdate is raised when something tries to extend NullKey.
var ErrNullKeyUpdate = errors.New("cache: the null key cannot be updated")

// Key is an order sensitive fingerprint built from a sequence of
// contributions. Two keys are equal when every contribution is logically
// equal and appears in the same position.
//
// Contributions are canonicalised with msgpack (sorted map keys, compact
// integers) so that int(5) and int64(5) produce the same fingerprint. Values
// msgpack cannot encode fall back to a textual description.
type Key struct {
	multiplier uint64
	hashcode   uint64
	checksum   uint64
	count      int
	parts      [][]byte
	values     []any
	null       bool
}

// NullKey is the degenerate fingerprint. Row keys that cannot identify a row
// collapse to it, and callers skip memoization when they see it.
var NullKey = &Key{multiplier: defaultMultiplier, hashcode: defaultHashcode, null: true}

// NewKey creates a key seeded with the given contributions.
func NewKey(values ...any) *Key {
	k := &Key{multiplier: defaultMultiplier, hashcode: defaultHashcode}
	k.UpdateAll(values...)
	return k
}

// Update appends a contribution.
func (k *Key) Update(v any) {
	if k.null {
		panic(ErrNullKeyUpdate)
	}

	part := canonicalBytes(v)
	base := xxhash.Sum64(part)

	k.count++
	k.checksum += base
	base *= uint64(k.count)
	k.hashcode = k.multiplier*k.hashcode + base

	k.parts = append(k.parts, part)
	k.values = append(k.values, v)
}

// UpdateAll appends every value in order.
func (k *Key) UpdateAll(values ...any) {
	for _, v := range values {
		k.Update(v)
	}
}

// Count returns the number of contributions.
func (k *Key) Count() int {
	return k.count
}

// Hash returns the folded hash code.
func (k *Key) Hash() uint64 {
	return k.hashcode
}

// IsNull reports whether k is the NullKey sentinel.
func (k *Key) IsNull() bool {
	return k == nil || k.null
}

func (k *Key) degenerate() bool {
	return k.IsNull() || k.count < 2
}

// Values returns a copy of the raw contributions.
func (k *Key) Values() []any {
	return append([]any(nil), k.values...)
}

// Equal reports whether both keys carry the same ordered contributions.
// Compared with NullKey, any key with fewer than two contributions is equal
// to it.
func (k *Key) Equal(other *Key) bool {
	if k == other {
		return true
	}
	if k.IsNull() || other.IsNull() {
		return k.degenerate() && other.degenerate()
	}
	if k.hashcode != other.hashcode || k.checksum != other.checksum || k.count != other.count {
		return false
	}
	for i := range k.parts {
		if !bytes.Equal(k.parts[i], other.parts[i]) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy that can be extended without touching k.
func (k *Key) Clone() *Key {
	if k.IsNull() {
		return NullKey
	}
	c := &Key{
		multiplier: k.multiplier,
		hashcode:   k.hashcode,
		checksum:   k.checksum,
		count:      k.count,
		parts:      make([][]byte, len(k.parts)),
		values:     append([]any(nil), k.values...),
	}
	copy(c.parts, k.parts)
	return c
}

// String returns the identity of the key as a string. Equal keys produce the
// same string, so it is safe to use as a map key or a shared cache key.
func (k *Key) String() string {
	if k.IsNull() {
		return "null"
	}
	var b strings.Builder
	b.WriteString(strconv.FormatUint(k.hashcode, 16))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(k.checksum, 16))
	for _, part := range k.parts {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte('#')
		b.Write(part)
	}
	return b.String()
}

// Describe renders the contributions in a human readable form for logs.
func (k *Key) Describe() string {
	if k.IsNull() {
		return "null"
	}
	parts := make([]string, 0, len(k.values)+1)
	parts = append(parts, strconv.FormatUint(k.hashcode, 10))
	for _, v := range k.values {
		parts = append(parts, describeValue(v))
	}
	return strings.Join(parts, KeySeparator)
}

// Combine builds the memoization key of a nested row from its own row key
// and the parent's. Degenerate inputs yield NullKey.
func Combine(rowKey, parentKey *Key) *Key {
	if rowKey.IsNull() || parentKey.IsNull() {
		return NullKey
	}
	if rowKey.Count() < 2 || parentKey.Count() < 2 {
		return NullKey
	}
	combined := rowKey.Clone()
	combined.Update(parentKey)
	return combined
}

// NullIfDegenerate returns NullKey when k has fewer than two contributions.
func NullIfDegenerate(k *Key) *Key {
	if k.IsNull() || k.Count() < 2 {
		return NullKey
	}
	return k
}

func canonicalBytes(v any) []byte {
	switch t := v.(type) {
	case nil:
		return []byte{msgpackNil}
	case *Key:
		return append([]byte("key:"), t.String()...)
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return []byte("text:" + describeValue(v))
	}
	return buf.Bytes()
}

const msgpackNil = 0xc0
