// Package leb128 implements the LEB128 variable-length integer encodings
// used by the Dalvik executable format.
//
// DEX limits LEB128 values to 32 bits, so at most five bytes are consumed.
// Besides the canonical (shortest) encoding the package can emit a value
// padded to an exact byte length, which lets a field be rewritten in place
// without shifting the bytes that follow it.
package leb128

import "errors"

// MaxLen is the longest encoding of a 32-bit value.
const MaxLen = 5

const continuationBit = 0x80

var (
	ErrTruncated = errors.New("leb128: truncated value")
	ErrOverflow  = errors.New("leb128: value does not fit")
)

// DecodeUnsigned reads a ULEB128 value from the start of b and reports how
// many bytes it occupied.
func DecodeUnsigned(b []byte) (uint32, int, error) {
	var result uint32
	var shift uint
	for i := 0; i < MaxLen; i++ {
		if i >= len(b) {
			return 0, 0, ErrTruncated
		}
		c := b[i]
		if i == MaxLen-1 && c&0xf0 != 0 {
			return 0, 0, ErrOverflow
		}
		result |= uint32(c&^continuationBit) << shift
		if c&continuationBit == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrOverflow
}

// DecodeSigned reads a SLEB128 value from the start of b.
func DecodeSigned(b []byte) (int32, int, error) {
	var result int32
	var shift uint
	for i := 0; i < MaxLen; i++ {
		if i >= len(b) {
			return 0, 0, ErrTruncated
		}
		c := b[i]
		result |= int32(c&^continuationBit) << shift
		shift += 7
		if c&continuationBit == 0 {
			if shift < 32 && c&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i + 1, nil
		}
	}
	return 0, 0, ErrOverflow
}

// Len returns the length of the canonical encoding of v.
func Len(v uint32) int {
	n := 1
	for v >= continuationBit {
		v >>= 7
		n++
	}
	return n
}

// AppendUnsigned appends the canonical encoding of v to dst.
func AppendUnsigned(dst []byte, v uint32) []byte {
	for {
		c := byte(v) &^ continuationBit
		v >>= 7
		if v == 0 {
			return append(dst, c)
		}
		dst = append(dst, c|continuationBit)
	}
}

// EncodeFixed writes v into exactly len(dst) bytes. When dst is longer than
// the canonical encoding the value is padded with continuation bytes
// carrying zero bits ("overlong" form), which decoders read back unchanged.
func EncodeFixed(dst []byte, v uint32) error {
	n := len(dst)
	if n == 0 || n > MaxLen || Len(v) > n {
		return ErrOverflow
	}
	for i := 0; i < n-1; i++ {
		dst[i] = byte(v)&^continuationBit | continuationBit
		v >>= 7
	}
	dst[n-1] = byte(v) &^ continuationBit
	return nil
}
