package dex

import (
	"bytes"
	"fmt"
	"strings"
)

// String returns string_ids[idx]. The data is MUTF-8; it is returned as
// raw bytes up to the terminating NUL, which is exact for ASCII names.
func (f *File) String(idx uint32) (string, error) {
	if idx >= uint32(len(f.StringIDs)) {
		return "", fmt.Errorf("%w: string index %d of %d", ErrMalformedFile, idx, len(f.StringIDs))
	}
	c := NewCursor(f.buf)
	if err := c.Seek(int(f.StringIDs[idx])); err != nil {
		return "", err
	}
	if _, _, err := c.ULEB128(); err != nil { // utf16_size
		return "", err
	}
	rest := f.buf[c.Pos():]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated string %d", ErrTruncatedFile, idx)
	}
	return string(rest[:end]), nil
}

// TypeDescriptor returns the descriptor of type_ids[idx], e.g. "Lfoo/Bar;".
func (f *File) TypeDescriptor(idx uint32) (string, error) {
	if idx >= uint32(len(f.TypeIDs)) {
		return "", fmt.Errorf("%w: type index %d of %d", ErrMalformedFile, idx, len(f.TypeIDs))
	}
	return f.String(f.TypeIDs[idx])
}

func (f *File) ClassDescriptor(cd *ClassDef) (string, error) {
	return f.TypeDescriptor(cd.ClassIdx)
}

func (f *File) MethodName(idx uint32) (string, error) {
	if idx >= uint32(len(f.MethodIDs)) {
		return "", fmt.Errorf("%w: method index %d of %d", ErrMalformedFile, idx, len(f.MethodIDs))
	}
	return f.String(f.MethodIDs[idx].NameIdx)
}

func (f *File) FieldName(idx uint32) (string, error) {
	if idx >= uint32(len(f.FieldIDs)) {
		return "", fmt.Errorf("%w: field index %d of %d", ErrMalformedFile, idx, len(f.FieldIDs))
	}
	return f.String(f.FieldIDs[idx].NameIdx)
}

// JavaName turns a type descriptor into source form: "[Ljava/lang/Object;"
// becomes "java.lang.Object[]". Unknown descriptors are returned as is.
//
// https://source.android.com/docs/core/runtime/dex-format#typedescriptor
func JavaName(d string) string {
	dims := 0
	for dims < len(d) && d[dims] == '[' {
		dims++
	}
	if dims == len(d) {
		return d
	}

	var base string
	switch c := d[dims]; c {
	case 'L':
		base = strings.ReplaceAll(strings.TrimSuffix(d[dims+1:], ";"), "/", ".")
	case 'B':
		base = "byte"
	case 'C':
		base = "char"
	case 'D':
		base = "double"
	case 'F':
		base = "float"
	case 'I':
		base = "int"
	case 'J':
		base = "long"
	case 'S':
		base = "short"
	case 'Z':
		base = "boolean"
	case 'V':
		base = "void"
	default:
		return d
	}
	return base + strings.Repeat("[]", dims)
}
