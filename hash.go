package qf

import (
	"hash/fnv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"
)

// HashFunc turns a value into a 64 bit hash. A filter of width W uses the
// top W bits of it as the fingerprint.
type HashFunc func([]byte) uint64

// FNV1a is the default hash.
func FNV1a(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// XXH3 hashes with the 64 bit variant of xxh3.
func XXH3(b []byte) uint64 { return xxh3.Hash(b) }

// XXHash hashes with xxhash64.
func XXHash(b []byte) uint64 { return xxhash.Sum64(b) }

// Murmur3 hashes with the 64 bit half of murmur3.
func Murmur3(b []byte) uint64 { return murmur3.Sum64(b) }

var hashes = map[string]HashFunc{
	"fnv1a":   FNV1a,
	"xxh3":    XXH3,
	"xxhash":  XXHash,
	"murmur3": Murmur3,
}

// HashByName returns one of the provided hashes by its lower case name:
// fnv1a, xxh3, xxhash or murmur3.
func HashByName(name string) (HashFunc, error) {
	h, ok := hashes[strings.ToLower(name)]
	if !ok {
		return nil, Error.New("unknown hash %q", name)
	}
	return h, nil
}
