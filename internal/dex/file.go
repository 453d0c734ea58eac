// Package dex models just enough of the Dalvik executable format to find
// and rewrite access flags in place.
//
// See https://source.android.com/docs/core/runtime/dex-format for the
// format. The whole file is kept in one buffer; every table entry is an
// index or offset into it, and mutation happens directly in that buffer.
package dex

import (
	"fmt"

	"dexaccess/internal/leb128"
)

// Map item type codes used by the map list cross-check.
const (
	TypeHeaderItem    = 0x0000
	TypeStringIDItem  = 0x0001
	TypeTypeIDItem    = 0x0002
	TypeProtoIDItem   = 0x0003
	TypeFieldIDItem   = 0x0004
	TypeMethodIDItem  = 0x0005
	TypeClassDefItem  = 0x0006
	TypeMapList       = 0x1000
	TypeClassDataItem = 0x2000
)

type MapItem struct {
	Type   uint16
	Size   uint32
	Offset uint32
}

type ProtoID struct {
	ShortyIdx     uint32
	ReturnTypeIdx uint32
	ParametersOff uint32
}

type FieldID struct {
	ClassIdx uint16
	TypeIdx  uint16
	NameIdx  uint32
}

type MethodID struct {
	ClassIdx uint16
	ProtoIdx uint16
	NameIdx  uint32
}

// ClassDef is a class_def_item plus the file offset of the record.
type ClassDef struct {
	Offset          int
	ClassIdx        uint32
	AccessFlags     AccessFlags
	SuperclassIdx   uint32
	InterfacesOff   uint32
	SourceFileIdx   uint32
	AnnotationsOff  uint32
	ClassDataOff    uint32
	StaticValuesOff uint32

	// Data is nil when ClassDataOff is zero.
	Data *ClassData
}

// File is a parsed dex image. It owns buf.
type File struct {
	Header  Header
	Version string
	Map     []MapItem

	StringIDs []uint32
	TypeIDs   []uint32
	ProtoIDs  []ProtoID
	FieldIDs  []FieldID
	MethodIDs []MethodID
	ClassDefs []ClassDef

	buf []byte
}

// Parse indexes buf. The slice is retained and later patched in place, so
// callers that need the original bytes must pass a copy.
func Parse(buf []byte) (*File, error) {
	h, err := readHeader(buf)
	if err != nil {
		return nil, err
	}
	f := &File{Header: h, Version: h.Version(), buf: buf}
	c := NewCursor(buf)

	if err := f.checkTables(); err != nil {
		return nil, err
	}
	if err := f.readMap(c); err != nil {
		return nil, err
	}
	if err := f.readIDs(c); err != nil {
		return nil, err
	}
	if err := f.readClassDefs(c); err != nil {
		return nil, err
	}
	return f, nil
}

// Bytes returns the underlying buffer, including any patches.
func (f *File) Bytes() []byte { return f.buf }

func (f *File) Size() int { return len(f.buf) }

// checkTable verifies that count records of width bytes fit at off.
func (f *File) checkTable(name string, count, off uint32, width int) error {
	if count == 0 {
		return nil
	}
	end := uint64(off) + uint64(count)*uint64(width)
	if off < HeaderSize || end > uint64(len(f.buf)) {
		return fmt.Errorf("%w: %s table (%d entries at %#x) exceeds file size %d",
			ErrTruncatedFile, name, count, off, len(f.buf))
	}
	return nil
}

func (f *File) readMap(c *Cursor) error {
	h := &f.Header
	if h.MapOff == 0 {
		return nil
	}
	if err := c.Seek(int(h.MapOff)); err != nil {
		return fmt.Errorf("map_list: %w", err)
	}
	size, err := c.U32()
	if err != nil {
		return fmt.Errorf("map_list: %w", err)
	}
	if uint64(size)*12 > uint64(len(f.buf)) {
		return fmt.Errorf("%w: map_list claims %d items", ErrTruncatedFile, size)
	}
	f.Map = make([]MapItem, 0, size)
	for i := uint32(0); i < size; i++ {
		typ, err := c.U16()
		if err != nil {
			return fmt.Errorf("map_list item %d: %w", i, err)
		}
		if err := c.Skip(2); err != nil {
			return fmt.Errorf("map_list item %d: %w", i, err)
		}
		n, err := c.U32()
		if err != nil {
			return fmt.Errorf("map_list item %d: %w", i, err)
		}
		off, err := c.U32()
		if err != nil {
			return fmt.Errorf("map_list item %d: %w", i, err)
		}
		f.Map = append(f.Map, MapItem{Type: typ, Size: n, Offset: off})
	}

	expect := map[uint16][2]uint32{
		TypeHeaderItem:   {1, 0},
		TypeStringIDItem: {h.StringIDsSize, h.StringIDsOff},
		TypeTypeIDItem:   {h.TypeIDsSize, h.TypeIDsOff},
		TypeProtoIDItem:  {h.ProtoIDsSize, h.ProtoIDsOff},
		TypeFieldIDItem:  {h.FieldIDsSize, h.FieldIDsOff},
		TypeMethodIDItem: {h.MethodIDsSize, h.MethodIDsOff},
		TypeClassDefItem: {h.ClassDefsSize, h.ClassDefsOff},
		TypeMapList:      {1, h.MapOff},
	}
	for _, it := range f.Map {
		want, ok := expect[it.Type]
		if !ok {
			continue
		}
		if it.Size != want[0] || (it.Size != 0 && it.Offset != want[1]) {
			return fmt.Errorf("%w: map item %#04x is (%d @ %#x), header says (%d @ %#x)",
				ErrMalformedFile, it.Type, it.Size, it.Offset, want[0], want[1])
		}
	}
	return nil
}

func (f *File) checkTables() error {
	h := &f.Header
	tables := []struct {
		name  string
		count uint32
		off   uint32
		width int
	}{
		{"string_ids", h.StringIDsSize, h.StringIDsOff, 4},
		{"type_ids", h.TypeIDsSize, h.TypeIDsOff, 4},
		{"proto_ids", h.ProtoIDsSize, h.ProtoIDsOff, 12},
		{"field_ids", h.FieldIDsSize, h.FieldIDsOff, 8},
		{"method_ids", h.MethodIDsSize, h.MethodIDsOff, 8},
		{"class_defs", h.ClassDefsSize, h.ClassDefsOff, ClassDefSize},
	}
	for _, t := range tables {
		if err := f.checkTable(t.name, t.count, t.off, t.width); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) readIDs(c *Cursor) error {
	h := &f.Header
	var err error
	if f.StringIDs, err = readU32Table(c, h.StringIDsSize, h.StringIDsOff); err != nil {
		return fmt.Errorf("string_ids: %w", err)
	}
	if f.TypeIDs, err = readU32Table(c, h.TypeIDsSize, h.TypeIDsOff); err != nil {
		return fmt.Errorf("type_ids: %w", err)
	}

	f.ProtoIDs = make([]ProtoID, h.ProtoIDsSize)
	if h.ProtoIDsSize > 0 {
		if err := c.Seek(int(h.ProtoIDsOff)); err != nil {
			return fmt.Errorf("proto_ids: %w", err)
		}
	}
	for i := range f.ProtoIDs {
		p := &f.ProtoIDs[i]
		if p.ShortyIdx, err = c.U32(); err != nil {
			return fmt.Errorf("proto_ids: %w", err)
		}
		if p.ReturnTypeIdx, err = c.U32(); err != nil {
			return fmt.Errorf("proto_ids: %w", err)
		}
		if p.ParametersOff, err = c.U32(); err != nil {
			return fmt.Errorf("proto_ids: %w", err)
		}
	}

	if f.FieldIDs, err = readMemberTable[FieldID](c, h.FieldIDsSize, h.FieldIDsOff, func(a, b uint16, n uint32) FieldID {
		return FieldID{ClassIdx: a, TypeIdx: b, NameIdx: n}
	}); err != nil {
		return fmt.Errorf("field_ids: %w", err)
	}
	if f.MethodIDs, err = readMemberTable[MethodID](c, h.MethodIDsSize, h.MethodIDsOff, func(a, b uint16, n uint32) MethodID {
		return MethodID{ClassIdx: a, ProtoIdx: b, NameIdx: n}
	}); err != nil {
		return fmt.Errorf("method_ids: %w", err)
	}
	return nil
}

func readU32Table(c *Cursor, count, off uint32) ([]uint32, error) {
	out := make([]uint32, count)
	if count == 0 {
		return out, nil
	}
	if err := c.Seek(int(off)); err != nil {
		return nil, err
	}
	for i := range out {
		v, err := c.U32()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// readMemberTable reads field_id_item and method_id_item records, which
// share the u16, u16, u32 shape.
func readMemberTable[T any](c *Cursor, count, off uint32, mk func(uint16, uint16, uint32) T) ([]T, error) {
	out := make([]T, count)
	if count == 0 {
		return out, nil
	}
	if err := c.Seek(int(off)); err != nil {
		return nil, err
	}
	for i := range out {
		a, err := c.U16()
		if err != nil {
			return nil, err
		}
		b, err := c.U16()
		if err != nil {
			return nil, err
		}
		n, err := c.U32()
		if err != nil {
			return nil, err
		}
		out[i] = mk(a, b, n)
	}
	return out, nil
}

func (f *File) readClassDefs(c *Cursor) error {
	h := &f.Header
	f.ClassDefs = make([]ClassDef, h.ClassDefsSize)
	for i := range f.ClassDefs {
		off := int(h.ClassDefsOff) + i*ClassDefSize
		if err := c.Seek(off); err != nil {
			return fmt.Errorf("class_def %d: %w", i, err)
		}
		var raw [8]uint32
		for j := range raw {
			v, err := c.U32()
			if err != nil {
				return fmt.Errorf("class_def %d: %w", i, err)
			}
			raw[j] = v
		}
		cd := ClassDef{
			Offset:          off,
			ClassIdx:        raw[0],
			AccessFlags:     AccessFlags(raw[1]),
			SuperclassIdx:   raw[2],
			InterfacesOff:   raw[3],
			SourceFileIdx:   raw[4],
			AnnotationsOff:  raw[5],
			ClassDataOff:    raw[6],
			StaticValuesOff: raw[7],
		}
		if cd.ClassDataOff != 0 {
			if err := f.checkDataOff(cd.ClassDataOff); err != nil {
				return fmt.Errorf("class_def %d class_data: %w", i, err)
			}
			data, err := readClassData(c, cd.ClassDataOff)
			if err != nil {
				return fmt.Errorf("class_def %d class_data at %#x: %w", i, cd.ClassDataOff, err)
			}
			cd.Data = data
		}
		f.ClassDefs[i] = cd
	}
	return nil
}

// checkDataOff rejects offsets outside the data section. Class data is
// patched in place, so an offset into the header or id tables would let a
// rewrite corrupt them.
func (f *File) checkDataOff(off uint32) error {
	h := &f.Header
	end := uint64(h.DataOff) + uint64(h.DataSize)
	if off < HeaderSize || off < h.DataOff || uint64(off) >= end {
		return fmt.Errorf("%w: offset %#x outside data section [%#x, %#x)",
			ErrMalformedFile, off, h.DataOff, end)
	}
	return nil
}

// SetClassFlags rewrites the fixed-width access_flags of class def i.
func (f *File) SetClassFlags(i int, flags AccessFlags) error {
	if i < 0 || i >= len(f.ClassDefs) {
		return fmt.Errorf("class def %d out of range", i)
	}
	cd := &f.ClassDefs[i]
	if err := NewCursor(f.buf).PutU32At(cd.Offset+4, uint32(flags)); err != nil {
		return err
	}
	cd.AccessFlags = flags
	return nil
}

// SetSlot rewrites a ULEB128 access_flags field without changing its length.
// Shorter values are padded with the overlong form; values that need more
// bytes than the slot has fail with ErrFlagEncodingOverflow.
func (f *File) SetSlot(s *Slot, flags AccessFlags) error {
	if s.Len <= 0 || s.Offset < 0 || s.Offset+s.Len > len(f.buf) {
		return fmt.Errorf("%w: flags slot %#x+%d", ErrTruncatedFile, s.Offset, s.Len)
	}
	if need := leb128.Len(uint32(flags)); need > s.Len {
		return fmt.Errorf("%w: %#x needs %d bytes, slot at %#x has %d",
			ErrFlagEncodingOverflow, uint32(flags), need, s.Offset, s.Len)
	}
	if err := leb128.EncodeFixed(f.buf[s.Offset:s.Offset+s.Len], uint32(flags)); err != nil {
		return fmt.Errorf("%w: %v", ErrFlagEncodingOverflow, err)
	}
	s.Value = flags
	return nil
}
