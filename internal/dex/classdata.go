package dex

import "fmt"

// Slot records where a ULEB128 access_flags value lives so it can be
// patched without walking the class data again.
type Slot struct {
	Value  AccessFlags
	Offset int
	Len    int
}

type EncodedField struct {
	FieldIdx uint32
	Flags    Slot
}

type EncodedMethod struct {
	MethodIdx uint32
	Flags     Slot
	CodeOff   uint32
}

// ClassData is a decoded class_data_item. Member indices are absolute;
// in the file they are stored as differences from the previous entry of
// the same list.
type ClassData struct {
	Offset         int
	Len            int
	StaticFields   []EncodedField
	InstanceFields []EncodedField
	DirectMethods  []EncodedMethod
	VirtualMethods []EncodedMethod
}

// readClassData decodes the class_data_item at off.
func readClassData(c *Cursor, off uint32) (*ClassData, error) {
	if err := c.Seek(int(off)); err != nil {
		return nil, err
	}
	var sizes [4]uint32
	for i := range sizes {
		v, _, err := c.ULEB128()
		if err != nil {
			return nil, err
		}
		sizes[i] = v
	}
	// Every encoded member takes at least two bytes; reject counts the rest
	// of the file cannot hold before allocating for them.
	remaining := uint64(c.Len() - c.Pos())
	if total := uint64(sizes[0]) + uint64(sizes[1]) + uint64(sizes[2]) + uint64(sizes[3]); total*2 > remaining {
		return nil, fmt.Errorf("%w: %d members declared with %d bytes left", ErrTruncatedFile, total, remaining)
	}

	cd := &ClassData{Offset: int(off)}
	var err error
	if cd.StaticFields, err = readFields(c, sizes[0]); err != nil {
		return nil, fmt.Errorf("static fields: %w", err)
	}
	if cd.InstanceFields, err = readFields(c, sizes[1]); err != nil {
		return nil, fmt.Errorf("instance fields: %w", err)
	}
	if cd.DirectMethods, err = readMethods(c, sizes[2]); err != nil {
		return nil, fmt.Errorf("direct methods: %w", err)
	}
	if cd.VirtualMethods, err = readMethods(c, sizes[3]); err != nil {
		return nil, fmt.Errorf("virtual methods: %w", err)
	}
	cd.Len = c.Pos() - cd.Offset
	return cd, nil
}

func readFlagsSlot(c *Cursor) (Slot, error) {
	pos := c.Pos()
	v, n, err := c.ULEB128()
	if err != nil {
		return Slot{}, err
	}
	return Slot{Value: AccessFlags(v), Offset: pos, Len: n}, nil
}

func readFields(c *Cursor, n uint32) ([]EncodedField, error) {
	out := make([]EncodedField, 0, n)
	var idx uint32
	for i := uint32(0); i < n; i++ {
		diff, _, err := c.ULEB128()
		if err != nil {
			return nil, err
		}
		idx += diff
		slot, err := readFlagsSlot(c)
		if err != nil {
			return nil, err
		}
		out = append(out, EncodedField{FieldIdx: idx, Flags: slot})
	}
	return out, nil
}

func readMethods(c *Cursor, n uint32) ([]EncodedMethod, error) {
	out := make([]EncodedMethod, 0, n)
	var idx uint32
	for i := uint32(0); i < n; i++ {
		diff, _, err := c.ULEB128()
		if err != nil {
			return nil, err
		}
		idx += diff
		slot, err := readFlagsSlot(c)
		if err != nil {
			return nil, err
		}
		code, _, err := c.ULEB128()
		if err != nil {
			return nil, err
		}
		out = append(out, EncodedMethod{MethodIdx: idx, Flags: slot, CodeOff: code})
	}
	return out, nil
}

// Members counts the fields and methods of the class data.
func (cd *ClassData) Members() (fields, methods int) {
	if cd == nil {
		return 0, 0
	}
	return len(cd.StaticFields) + len(cd.InstanceFields), len(cd.DirectMethods) + len(cd.VirtualMethods)
}
