package util

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed, falling back to the current time if the
// system random source is unavailable
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// NewRand returns a pseudo random generator seeded from GenerateSeed.
// The generator is not safe for concurrent use.
func NewRand() *mrand.Rand {
	return mrand.New(mrand.NewPCG(GenerateSeed(), GenerateSeed()))
}

// Jitter scales value by a random factor in [1-scale, 1+scale].
// A scale <= 0 returns value unchanged.
func Jitter(r *mrand.Rand, value float64, scale float64) float64 {
	if scale <= 0 {
		return value
	}
	return value * (1 + scale*(2*r.Float64()-1))
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// UintKey is an efficient key type based on uint64 for internal hash representation
type UintKey uint64

// HashString generates a hash value for a string with a seed
// This function uses the FNV-1a hash algorithm, which is fast and has good distribution
func HashString(s string, seed uint64) UintKey {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}
	return UintKey(hash)
}

// NameUUID derives a deterministic uuid from the md5 digest of name.
// The same name always yields the same id on every node.
func NameUUID(name string) uuid.UUID {
	sum := md5.Sum([]byte(name))
	id, _ := uuid.FromBytes(sum[:]) // md5 digests are always 16 bytes
	return id
}

// typeNamespace scopes type ids so they never collide with key derived ids
var typeNamespace = uuid.NameSpaceOID

// TypeID returns the stable id of a record type name
func TypeID(typeName string) uuid.UUID {
	return uuid.NewMD5(typeNamespace, []byte(typeName))
}
