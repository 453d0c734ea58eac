package dex

import (
	"encoding/binary"
	"errors"
	"fmt"

	"dexaccess/internal/leb128"
)

// Cursor is a bounds-checked reader and positioned writer over a dex buffer.
// Every read past the end of the buffer fails with ErrTruncatedFile.
type Cursor struct {
	buf []byte
	pos int
}

func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

func (c *Cursor) Pos() int { return c.pos }

func (c *Cursor) Len() int { return len(c.buf) }

// Seek moves to an absolute offset. Seeking to the end of the buffer is
// allowed; the next read will fail.
func (c *Cursor) Seek(off int) error {
	if off < 0 || off > len(c.buf) {
		return fmt.Errorf("%w: seek to %#x beyond %#x", ErrTruncatedFile, off, len(c.buf))
	}
	c.pos = off
	return nil
}

func (c *Cursor) Skip(n int) error {
	return c.Seek(c.pos + n)
}

func (c *Cursor) need(n int, what string) error {
	if n < 0 || c.pos+n > len(c.buf) {
		return fmt.Errorf("%w: %s at %#x needs %d bytes", ErrTruncatedFile, what, c.pos, n)
	}
	return nil
}

func (c *Cursor) U8() (uint8, error) {
	if err := c.need(1, "u8"); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *Cursor) U16() (uint16, error) {
	if err := c.need(2, "u16"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *Cursor) U32() (uint32, error) {
	if err := c.need(4, "u32"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

// Bytes returns the next n bytes without copying them.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if err := c.need(n, "bytes"); err != nil {
		return nil, err
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// ULEB128 returns the decoded value and the encoded length.
func (c *Cursor) ULEB128() (uint32, int, error) {
	v, n, err := leb128.DecodeUnsigned(c.buf[c.pos:])
	if err != nil {
		return 0, 0, c.lebError(err, "uleb128")
	}
	c.pos += n
	return v, n, nil
}

func (c *Cursor) SLEB128() (int32, int, error) {
	v, n, err := leb128.DecodeSigned(c.buf[c.pos:])
	if err != nil {
		return 0, 0, c.lebError(err, "sleb128")
	}
	c.pos += n
	return v, n, nil
}

func (c *Cursor) lebError(err error, what string) error {
	if errors.Is(err, leb128.ErrTruncated) {
		return fmt.Errorf("%w: %s at %#x", ErrTruncatedFile, what, c.pos)
	}
	return fmt.Errorf("%w: %s at %#x: %v", ErrMalformedFile, what, c.pos, err)
}

// PutU32At writes v at off without moving the cursor.
func (c *Cursor) PutU32At(off int, v uint32) error {
	if off < 0 || off+4 > len(c.buf) {
		return fmt.Errorf("%w: u32 write at %#x", ErrTruncatedFile, off)
	}
	binary.LittleEndian.PutUint32(c.buf[off:], v)
	return nil
}

// PutBytesAt copies b to off without moving the cursor.
func (c *Cursor) PutBytesAt(off int, b []byte) error {
	if off < 0 || off+len(b) > len(c.buf) {
		return fmt.Errorf("%w: %d byte write at %#x", ErrTruncatedFile, len(b), off)
	}
	copy(c.buf[off:], b)
	return nil
}
