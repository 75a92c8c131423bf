package core

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Hash128 is a 128-bit canonical hash used as an index key (§3, "canonical
// hash"). It is assembled from two independent xxhash64 digests rather than
// a single wide hash, following the same hash-then-shard idiom the pack
// uses for string interning (FNV) and hive indexing (FNV-32): one fast
// non-cryptographic digest, applied twice with distinct prefixes to widen
// the output and decorrelate the two halves.
type Hash128 struct {
	Hi uint64
	Lo uint64
}

// lowSeedPrefix decorrelates the second digest from the first. Any fixed,
// non-empty byte sequence works; the value itself carries no meaning.
var lowSeedPrefix = []byte{0x9e, 0x37, 0x79, 0xb9}

// hashBytes128 computes the canonical 128-bit digest of a byte slice.
func hashBytes128(b []byte) Hash128 {
	hi := xxhash.Sum64(b)

	d := xxhash.New()
	d.Write(lowSeedPrefix)
	d.Write(b)
	lo := d.Sum64()

	return Hash128{Hi: hi, Lo: lo}
}

// DefaultCanonicalHash computes the canonical hash of a property value using
// its Go-syntax representation as the stable serialization. This is
// deterministic across runs for a given value and satisfies §6's "wire
// format" requirement (128-bit, collision-resistant for practical
// population sizes) without asking every property definition to supply its
// own encoder. Properties with a value type for which %#v is not
// deterministic (e.g. containing pointers) should supply a custom canonical
// hash via Property.WithCanonicalHash instead of relying on this default.
func DefaultCanonicalHash[V any](v V) Hash128 {
	return hashBytes128([]byte(fmt.Sprintf("%#v", v)))
}
