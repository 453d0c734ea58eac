package dex

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// https://source.android.com/docs/core/runtime/dex-format#endian-constant
	EndianConstant        = 0x12345678
	ReverseEndianConstant = 0x78563412

	HeaderSize   = 0x70
	ClassDefSize = 0x20

	checksumOffset  = 8
	signatureOffset = 12
	signedOffset    = 32
)

var supportedVersions = map[string]bool{
	"035": true,
	"037": true,
	"038": true,
	"039": true,
	"040": true,
}

// Header mirrors header_item. Field order matches the file so the struct can
// be filled with binary.Read.
type Header struct {
	Magic         [8]byte
	Checksum      uint32
	Signature     [20]byte
	FileSize      uint32
	HeaderSize    uint32
	EndianTag     uint32
	LinkSize      uint32
	LinkOff       uint32
	MapOff        uint32
	StringIDsSize uint32
	StringIDsOff  uint32
	TypeIDsSize   uint32
	TypeIDsOff    uint32
	ProtoIDsSize  uint32
	ProtoIDsOff   uint32
	FieldIDsSize  uint32
	FieldIDsOff   uint32
	MethodIDsSize uint32
	MethodIDsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
	DataSize      uint32
	DataOff       uint32
}

// Version returns the three digit format version from the magic.
func (h *Header) Version() string {
	return string(h.Magic[4:7])
}

// checkMagic accepts "dex\n" + three digits + NUL.
func checkMagic(buf []byte) (string, error) {
	if len(buf) < 8 || !bytes.Equal(buf[:4], []byte("dex\n")) || buf[7] != 0 {
		return "", ErrInvalidMagic
	}
	for _, c := range buf[4:7] {
		if c < '0' || c > '9' {
			return "", ErrInvalidMagic
		}
	}
	version := string(buf[4:7])
	if !supportedVersions[version] {
		return version, fmt.Errorf("%w: %s", ErrUnsupportedVersion, version)
	}
	return version, nil
}

func readHeader(buf []byte) (Header, error) {
	var h Header
	if _, err := checkMagic(buf); err != nil {
		return h, err
	}
	if len(buf) < HeaderSize {
		return h, fmt.Errorf("%w: %d bytes is shorter than the header", ErrTruncatedFile, len(buf))
	}
	if err := binary.Read(bytes.NewReader(buf[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("%w: decode header: %v", ErrMalformedFile, err)
	}

	switch h.EndianTag {
	case EndianConstant:
	case ReverseEndianConstant:
		return h, fmt.Errorf("%w: big-endian dex files are not handled", ErrUnsupportedVersion)
	default:
		return h, fmt.Errorf("%w: endian tag %#x", ErrMalformedFile, h.EndianTag)
	}
	if h.HeaderSize < HeaderSize {
		return h, fmt.Errorf("%w: header_size %#x", ErrMalformedFile, h.HeaderSize)
	}
	switch {
	case uint64(h.FileSize) > uint64(len(buf)):
		return h, fmt.Errorf("%w: file_size %d but only %d bytes", ErrTruncatedFile, h.FileSize, len(buf))
	case uint64(h.FileSize) < uint64(len(buf)):
		return h, fmt.Errorf("%w: file_size %d but buffer holds %d bytes", ErrMalformedFile, h.FileSize, len(buf))
	}
	return h, nil
}
