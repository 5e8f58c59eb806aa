// Package codec implements the fixed-width scalar encodings used by every
// value record. All multi-byte values are big endian. Signed integers are
// stored biased (sign bit flipped) and f32/f64 values are stored with the
// IEEE total order transform applied, so that for the numeric scalars the
// stored bytes compare lexically in the same order as the values they
// encode. The 16 byte geo form stores its two float64 values as raw IEEE
// bits and is not byte ordered.
package codec

import (
	"encoding/binary"
	"math"
)

// Stored widths for the fixed width scalars, in bytes.
const (
	BoolBytes   = 1
	Int8Bytes   = 1
	Int16Bytes  = 2
	Int32Bytes  = 4
	Int64Bytes  = 8
	Uint8Bytes  = 1
	Uint16Bytes = 2
	Uint32Bytes = 4
	Uint64Bytes = 8
	F32Bytes    = 4
	F64Bytes    = 8
	DecBytes    = 8
	UUIDBytes   = 16
	ULIDBytes   = 16
	DateBytes   = 8
	OptionBytes = 1
)

// PutUint writes v into b as a big endian unsigned integer occupying the
// whole of b. Values that do not fit in len(b) bytes are silently truncated;
// callers are expected to range check first.
func PutUint(b []byte, v uint64) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// Uint reads the big endian unsigned integer occupying the whole of b.
func Uint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// PutInt writes v into b using the biased representation: the two's
// complement value truncated to len(b) bytes with the top bit flipped. The
// resulting bytes sort lexically in numeric order.
func PutInt(b []byte, v int64) {
	PutUint(b, uint64(v))
	b[0] ^= 0x80
}

// Int reads a biased signed integer occupying the whole of b.
func Int(b []byte) int64 {
	width := len(b)
	u := Uint(b)
	u ^= uint64(1) << (uint(width)*8 - 1)
	// sign extend from the stored width
	shift := uint(64 - width*8)
	return int64(u<<shift) >> shift
}

const (
	signBit32 = uint32(1) << 31
	signBit64 = uint64(1) << 63
)

// sortBitsF64 maps IEEE 754 bit patterns onto an unsigned key whose lexical
// byte order is the IEEE total order (negative NaNs first, positive NaNs
// last, -0 before +0).
func sortBitsF64(bits uint64) uint64 {
	if bits&signBit64 != 0 {
		return ^bits
	}
	return bits | signBit64
}

func unsortBitsF64(enc uint64) uint64 {
	if enc&signBit64 != 0 {
		return enc &^ signBit64
	}
	return ^enc
}

func sortBitsF32(bits uint32) uint32 {
	if bits&signBit32 != 0 {
		return ^bits
	}
	return bits | signBit32
}

func unsortBitsF32(enc uint32) uint32 {
	if enc&signBit32 != 0 {
		return enc &^ signBit32
	}
	return ^enc
}

// PutFloat64 writes f into b[0:8] in the stored (order preserving) form.
func PutFloat64(b []byte, f float64) {
	binary.BigEndian.PutUint64(b, sortBitsF64(math.Float64bits(f)))
}

// Float64 reads a stored float from b[0:8].
func Float64(b []byte) float64 {
	return math.Float64frombits(unsortBitsF64(binary.BigEndian.Uint64(b)))
}

// PutFloat32 writes f into b[0:4] in the stored (order preserving) form.
func PutFloat32(b []byte, f float32) {
	binary.BigEndian.PutUint32(b, sortBitsF32(math.Float32bits(f)))
}

// Float32 reads a stored float from b[0:4].
func Float32(b []byte) float32 {
	return math.Float32frombits(unsortBitsF32(binary.BigEndian.Uint32(b)))
}

// PutBool writes v as a single 0 or 1 byte.
func PutBool(b []byte, v bool) {
	if v {
		b[0] = 1
	} else {
		b[0] = 0
	}
}

// Bool reads a single byte boolean. Any non zero byte reads as true.
func Bool(b []byte) bool { return b[0] != 0 }

// IntRangeOK reports whether v is representable as a biased signed integer
// of the given byte width.
func IntRangeOK(v int64, width int) bool {
	if width >= 8 {
		return true
	}
	limit := int64(1) << (uint(width)*8 - 1)
	return v >= -limit && v <= limit-1
}

// UintRangeOK reports whether v is representable as an unsigned integer of
// the given byte width.
func UintRangeOK(v uint64, width int) bool {
	if width >= 8 {
		return true
	}
	return v <= (uint64(1)<<(uint(width)*8))-1
}
