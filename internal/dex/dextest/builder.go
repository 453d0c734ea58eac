// Package dextest builds small but structurally complete dex files for tests.
package dextest

import (
	"encoding/binary"
	"sort"

	"dexaccess/internal/dex"
	"dexaccess/internal/leb128"
)

// Header field offsets, for tests that corrupt a built file.
const (
	OffMagic         = 0x00
	OffChecksum      = 0x08
	OffSignature     = 0x0c
	OffFileSize      = 0x20
	OffEndianTag     = 0x28
	OffMapOff        = 0x34
	OffStringIDsSize = 0x38
	OffStringIDsOff  = 0x3c
	OffClassDefsSize = 0x60
)

const objectDescriptor = "Ljava/lang/Object;"

type Field struct {
	Name   string
	Type   string // "I" when empty
	Flags  uint32
	Static bool
	// FlagsLen pads the encoded flags to this many bytes when it exceeds
	// the canonical length.
	FlagsLen int
}

type Method struct {
	Name     string
	Flags    uint32
	Direct   bool
	FlagsLen int
	CodeOff  uint32
}

type Class struct {
	Descriptor string
	Flags      uint32
	Fields     []Field
	Methods    []Method
}

type fieldRef struct {
	class, typ, name uint32
	f                *Field
}

type methodRef struct {
	class, name uint32
	m           *Method
}

// Build lays out a version 035 dex file holding classes and returns it with
// a valid checksum and signature.
func Build(classes ...Class) []byte {
	return BuildVersion("035", classes...)
}

func BuildVersion(version string, classes ...Class) []byte {
	// strings, sorted and deduplicated
	set := map[string]bool{objectDescriptor: true, "V": true, "I": true}
	for _, c := range classes {
		set[c.Descriptor] = true
		for _, f := range c.Fields {
			set[f.Name] = true
			set[fieldType(f)] = true
		}
		for _, m := range c.Methods {
			set[m.Name] = true
		}
	}
	strs := make([]string, 0, len(set))
	for s := range set {
		strs = append(strs, s)
	}
	sort.Strings(strs)
	strIdx := make(map[string]uint32, len(strs))
	for i, s := range strs {
		strIdx[s] = uint32(i)
	}

	// types, ordered by string index
	typeSet := map[string]bool{objectDescriptor: true, "V": true, "I": true}
	for _, c := range classes {
		typeSet[c.Descriptor] = true
		for _, f := range c.Fields {
			typeSet[fieldType(f)] = true
		}
	}
	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Strings(types)
	typeIdx := make(map[string]uint32, len(types))
	for i, t := range types {
		typeIdx[t] = uint32(i)
	}

	var fields []fieldRef
	var methods []methodRef
	for ci := range classes {
		c := &classes[ci]
		for fi := range c.Fields {
			f := &c.Fields[fi]
			fields = append(fields, fieldRef{typeIdx[c.Descriptor], typeIdx[fieldType(*f)], strIdx[f.Name], f})
		}
		for mi := range c.Methods {
			m := &c.Methods[mi]
			methods = append(methods, methodRef{typeIdx[c.Descriptor], strIdx[m.Name], m})
		}
	}
	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].class != fields[j].class {
			return fields[i].class < fields[j].class
		}
		if fields[i].name != fields[j].name {
			return fields[i].name < fields[j].name
		}
		return fields[i].typ < fields[j].typ
	})
	sort.SliceStable(methods, func(i, j int) bool {
		if methods[i].class != methods[j].class {
			return methods[i].class < methods[j].class
		}
		return methods[i].name < methods[j].name
	})
	fieldIdx := make(map[*Field]uint32, len(fields))
	for i, f := range fields {
		fieldIdx[f.f] = uint32(i)
	}
	methodIdx := make(map[*Method]uint32, len(methods))
	for i, m := range methods {
		methodIdx[m.m] = uint32(i)
	}

	stringIDsOff := uint32(dex.HeaderSize)
	typeIDsOff := stringIDsOff + 4*uint32(len(strs))
	protoIDsOff := typeIDsOff + 4*uint32(len(types))
	fieldIDsOff := protoIDsOff + 12
	methodIDsOff := fieldIDsOff + 8*uint32(len(fields))
	classDefsOff := methodIDsOff + 8*uint32(len(methods))
	dataOff := classDefsOff + dex.ClassDefSize*uint32(len(classes))

	// data section
	var data []byte
	stringOffs := make([]uint32, len(strs))
	for i, s := range strs {
		stringOffs[i] = dataOff + uint32(len(data))
		data = leb128.AppendUnsigned(data, uint32(len(s)))
		data = append(data, s...)
		data = append(data, 0)
	}

	classDataOffs := make([]uint32, len(classes))
	classDataCount := 0
	firstClassData := uint32(0)
	for ci := range classes {
		c := &classes[ci]
		if len(c.Fields) == 0 && len(c.Methods) == 0 {
			continue
		}
		var static, instance []*Field
		for fi := range c.Fields {
			if c.Fields[fi].Static {
				static = append(static, &c.Fields[fi])
			} else {
				instance = append(instance, &c.Fields[fi])
			}
		}
		var direct, virtual []*Method
		for mi := range c.Methods {
			if c.Methods[mi].Direct {
				direct = append(direct, &c.Methods[mi])
			} else {
				virtual = append(virtual, &c.Methods[mi])
			}
		}
		byField := func(l []*Field) {
			sort.Slice(l, func(i, j int) bool { return fieldIdx[l[i]] < fieldIdx[l[j]] })
		}
		byMethod := func(l []*Method) {
			sort.Slice(l, func(i, j int) bool { return methodIdx[l[i]] < methodIdx[l[j]] })
		}
		byField(static)
		byField(instance)
		byMethod(direct)
		byMethod(virtual)

		off := dataOff + uint32(len(data))
		classDataOffs[ci] = off
		if classDataCount == 0 {
			firstClassData = off
		}
		classDataCount++

		data = leb128.AppendUnsigned(data, uint32(len(static)))
		data = leb128.AppendUnsigned(data, uint32(len(instance)))
		data = leb128.AppendUnsigned(data, uint32(len(direct)))
		data = leb128.AppendUnsigned(data, uint32(len(virtual)))
		for _, list := range [][]*Field{static, instance} {
			prev := uint32(0)
			for _, f := range list {
				idx := fieldIdx[f]
				data = leb128.AppendUnsigned(data, idx-prev)
				data = appendFlags(data, f.Flags, f.FlagsLen)
				prev = idx
			}
		}
		for _, list := range [][]*Method{direct, virtual} {
			prev := uint32(0)
			for _, m := range list {
				idx := methodIdx[m]
				data = leb128.AppendUnsigned(data, idx-prev)
				data = appendFlags(data, m.Flags, m.FlagsLen)
				data = leb128.AppendUnsigned(data, m.CodeOff)
				prev = idx
			}
		}
	}

	for (dataOff+uint32(len(data)))%4 != 0 {
		data = append(data, 0)
	}
	mapOff := dataOff + uint32(len(data))
	type item struct {
		typ       uint16
		size, off uint32
	}
	items := []item{
		{dex.TypeHeaderItem, 1, 0},
		{dex.TypeStringIDItem, uint32(len(strs)), stringIDsOff},
		{dex.TypeTypeIDItem, uint32(len(types)), typeIDsOff},
		{dex.TypeProtoIDItem, 1, protoIDsOff},
	}
	if len(fields) > 0 {
		items = append(items, item{dex.TypeFieldIDItem, uint32(len(fields)), fieldIDsOff})
	}
	if len(methods) > 0 {
		items = append(items, item{dex.TypeMethodIDItem, uint32(len(methods)), methodIDsOff})
	}
	if len(classes) > 0 {
		items = append(items, item{dex.TypeClassDefItem, uint32(len(classes)), classDefsOff})
	}
	items = append(items, item{0x2002, uint32(len(strs)), stringOffs[0]})
	if classDataCount > 0 {
		items = append(items, item{dex.TypeClassDataItem, uint32(classDataCount), firstClassData})
	}
	items = append(items, item{dex.TypeMapList, 1, mapOff})
	data = binary.LittleEndian.AppendUint32(data, uint32(len(items)))
	for _, it := range items {
		data = binary.LittleEndian.AppendUint16(data, it.typ)
		data = binary.LittleEndian.AppendUint16(data, 0)
		data = binary.LittleEndian.AppendUint32(data, it.size)
		data = binary.LittleEndian.AppendUint32(data, it.off)
	}

	fileSize := dataOff + uint32(len(data))
	out := make([]byte, 0, fileSize)

	le := binary.LittleEndian
	out = append(out, "dex\n"+version+"\x00"...)
	out = le.AppendUint32(out, 0) // checksum
	out = append(out, make([]byte, 20)...)
	out = le.AppendUint32(out, fileSize)
	out = le.AppendUint32(out, dex.HeaderSize)
	out = le.AppendUint32(out, dex.EndianConstant)
	out = le.AppendUint32(out, 0) // link_size
	out = le.AppendUint32(out, 0) // link_off
	out = le.AppendUint32(out, mapOff)
	out = le.AppendUint32(out, uint32(len(strs)))
	out = le.AppendUint32(out, stringIDsOff)
	out = le.AppendUint32(out, uint32(len(types)))
	out = le.AppendUint32(out, typeIDsOff)
	out = le.AppendUint32(out, 1)
	out = le.AppendUint32(out, protoIDsOff)
	out = le.AppendUint32(out, uint32(len(fields)))
	out = le.AppendUint32(out, offOrZero(len(fields), fieldIDsOff))
	out = le.AppendUint32(out, uint32(len(methods)))
	out = le.AppendUint32(out, offOrZero(len(methods), methodIDsOff))
	out = le.AppendUint32(out, uint32(len(classes)))
	out = le.AppendUint32(out, offOrZero(len(classes), classDefsOff))
	out = le.AppendUint32(out, uint32(len(data)))
	out = le.AppendUint32(out, dataOff)

	for _, off := range stringOffs {
		out = le.AppendUint32(out, off)
	}
	for _, t := range types {
		out = le.AppendUint32(out, strIdx[t])
	}
	out = le.AppendUint32(out, strIdx["V"]) // shorty
	out = le.AppendUint32(out, typeIdx["V"])
	out = le.AppendUint32(out, 0) // parameters_off
	for _, f := range fields {
		out = le.AppendUint16(out, uint16(f.class))
		out = le.AppendUint16(out, uint16(f.typ))
		out = le.AppendUint32(out, f.name)
	}
	for _, m := range methods {
		out = le.AppendUint16(out, uint16(m.class))
		out = le.AppendUint16(out, 0)
		out = le.AppendUint32(out, m.name)
	}
	for ci, c := range classes {
		out = le.AppendUint32(out, typeIdx[c.Descriptor])
		out = le.AppendUint32(out, c.Flags)
		out = le.AppendUint32(out, typeIdx[objectDescriptor])
		out = le.AppendUint32(out, 0)          // interfaces_off
		out = le.AppendUint32(out, 0xffffffff) // source_file_idx
		out = le.AppendUint32(out, 0)          // annotations_off
		out = le.AppendUint32(out, classDataOffs[ci])
		out = le.AppendUint32(out, 0) // static_values_off
	}
	out = append(out, data...)

	if err := dex.Finalize(out); err != nil {
		panic(err)
	}
	return out
}

func fieldType(f Field) string {
	if f.Type == "" {
		return "I"
	}
	return f.Type
}

func appendFlags(dst []byte, flags uint32, n int) []byte {
	if n <= leb128.Len(flags) {
		return leb128.AppendUnsigned(dst, flags)
	}
	b := make([]byte, n)
	if err := leb128.EncodeFixed(b, flags); err != nil {
		panic(err)
	}
	return append(dst, b...)
}

func offOrZero(n int, off uint32) uint32 {
	if n == 0 {
		return 0
	}
	return off
}
