package stress

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Sentinel is the reserved value base meaning "key is absent". It can never
// be produced by NextValueBase, so shadow entries are unambiguous.
const Sentinel uint32 = math.MaxUint32

// KeySize is the width in bytes of an encoded logical key.
const KeySize = 8

// EncodeKey serializes a logical key as big-endian bytes, so that
// lexicographic order on the bytes matches integer order on k. Reversible
// via DecodeKey.
func EncodeKey(k uint64) []byte {
	buf := make([]byte, KeySize)
	binary.BigEndian.PutUint64(buf, k)
	return buf
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// KeyPrefix returns the leading n bytes of the encoded key, used by prefix
// scans. KeySize-1 is the standard prefix width: all but the last byte.
func KeyPrefix(k uint64, n int) []byte {
	return EncodeKey(k)[:n]
}

// ValueLength returns the canonical length GenerateValue produces for base,
// without allocating the value itself.
func ValueLength(base uint32, valueSizeMult int) int {
	return int((base%3)+1) * valueSizeMult
}

// GenerateValue writes the canonical value bytes for base into a freshly
// allocated slice and returns it. The first 4 bytes hold base in
// little-endian order; byte i>=4 holds (base XOR i) & 0xFF. The function is
// total and deterministic: the same base always yields byte-identical
// output.
func GenerateValue(base uint32, valueSizeMult int) []byte {
	length := ValueLength(base, valueSizeMult)
	if length < 4 {
		length = 4
	}
	out := make([]byte, length)
	binary.LittleEndian.PutUint32(out[:4], base)
	for i := 4; i < length; i++ {
		out[i] = byte(base ^ uint32(i))
	}
	return out
}

// VerifyValue reports whether value is byte-identical to GenerateValue(base, valueSizeMult).
func VerifyValue(value []byte, base uint32, valueSizeMult int) error {
	want := GenerateValue(base, valueSizeMult)
	if len(value) != len(want) {
		return fmt.Errorf("length mismatch: got %d, want %d", len(value), len(want))
	}
	for i := range want {
		if value[i] != want[i] {
			return fmt.Errorf("byte %d mismatch: got %#x, want %#x", i, value[i], want[i])
		}
	}
	return nil
}
