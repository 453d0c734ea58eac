package dex

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/adler32"
)

// ComputeSignature returns the SHA-1 of everything after the signature field.
func ComputeSignature(buf []byte) ([20]byte, error) {
	if len(buf) < signedOffset {
		return [20]byte{}, fmt.Errorf("%w: %d bytes", ErrTruncatedFile, len(buf))
	}
	return sha1.Sum(buf[signedOffset:]), nil
}

// ComputeChecksum returns the Adler-32 of everything after the checksum field.
func ComputeChecksum(buf []byte) (uint32, error) {
	if len(buf) < signatureOffset {
		return 0, fmt.Errorf("%w: %d bytes", ErrTruncatedFile, len(buf))
	}
	return adler32.Checksum(buf[signatureOffset:]), nil
}

// Finalize writes a fresh signature and then a fresh checksum into buf.
// The checksum covers the signature, so the order matters.
func Finalize(buf []byte) error {
	sig, err := ComputeSignature(buf)
	if err != nil {
		return err
	}
	copy(buf[signatureOffset:signedOffset], sig[:])

	sum, err := ComputeChecksum(buf)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[checksumOffset:], sum)
	return nil
}

// Verify recomputes both integrity fields and compares them with the header.
func Verify(buf []byte) error {
	sig, err := ComputeSignature(buf)
	if err != nil {
		return err
	}
	if !bytes.Equal(sig[:], buf[signatureOffset:signedOffset]) {
		return fmt.Errorf("%w: stored %x, computed %x", ErrSignatureMismatch, buf[signatureOffset:signedOffset], sig)
	}
	sum, err := ComputeChecksum(buf)
	if err != nil {
		return err
	}
	if stored := binary.LittleEndian.Uint32(buf[checksumOffset:]); stored != sum {
		return fmt.Errorf("%w: stored %08x, computed %08x", ErrChecksumMismatch, stored, sum)
	}
	return nil
}

// Finalize updates the file's own header fields as well as the buffer.
func (f *File) Finalize() error {
	if err := Finalize(f.buf); err != nil {
		return err
	}
	copy(f.Header.Signature[:], f.buf[signatureOffset:signedOffset])
	f.Header.Checksum = binary.LittleEndian.Uint32(f.buf[checksumOffset:])
	return nil
}
