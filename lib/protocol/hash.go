package protocol

import (
	"fmt"
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
)

// HashFunc maps a routing key to a position on the hash ring
type HashFunc func(key []byte) uint64

// Names of the supported hash methods
const (
	HashFNV1a64 = "fnv1a_64"
	HashCRC32   = "crc32"
	HashXXHash  = "xxhash"
)

// FNV1a64 hashes the key with 64 bit FNV-1a
func FNV1a64(key []byte) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64)
	for _, c := range key {
		hash ^= uint64(c)
		hash *= prime64
	}
	return hash
}

// CRC32 hashes the key with the IEEE polynomial (memcached compatible)
func CRC32(key []byte) uint64 {
	return uint64(crc32.ChecksumIEEE(key))
}

// XXHash hashes the key with xxhash64
func XXHash(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// GetHashFunc resolves a hash method name
func GetHashFunc(name string) (HashFunc, error) {
	switch name {
	case HashFNV1a64, "":
		return FNV1a64, nil
	case HashCRC32:
		return CRC32, nil
	case HashXXHash:
		return XXHash, nil
	default:
		return nil, fmt.Errorf("unknown hash method: %s (expected one of: %s, %s, %s)",
			name, HashFNV1a64, HashCRC32, HashXXHash)
	}
}

// TrimHashTag returns the part of key between the two hash tag delimiters,
// so that keys like "{user:1}:name" and "{user:1}:mail" land on one backend.
// The whole key is returned when hashTag is not exactly two bytes, when the
// delimiters are missing or when the tag is empty ("a{}b").
func TrimHashTag(key []byte, hashTag []byte) []byte {
	if len(hashTag) != 2 {
		return key
	}

	begin := -1
	for i, c := range key {
		if c == hashTag[0] {
			begin = i
			break
		}
	}
	if begin < 0 {
		return key
	}

	for offset, c := range key[begin:] {
		if c == hashTag[1] {
			if offset > 1 {
				return key[begin+1 : begin+offset]
			}
			return key
		}
	}
	return key
}
