package dex

import "errors"

var (
	ErrInvalidMagic         = errors.New("not a dex file")
	ErrUnsupportedVersion   = errors.New("unsupported dex version")
	ErrTruncatedFile        = errors.New("truncated dex file")
	ErrMalformedFile        = errors.New("malformed dex file")
	ErrFlagEncodingOverflow = errors.New("access flags do not fit original encoding")
	ErrChecksumMismatch     = errors.New("checksum mismatch")
	ErrSignatureMismatch    = errors.New("signature mismatch")
)
