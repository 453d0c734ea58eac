package dex_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"dexaccess/internal/dex"
	"dexaccess/internal/dex/dextest"
)

func sampleClasses() []dextest.Class {
	return []dextest.Class{
		{
			Descriptor: "Lcom/example/Secret;",
			Flags:      uint32(dex.AccFinal),
			Fields: []dextest.Field{
				{Name: "TOKEN", Type: "Ljava/lang/String;", Flags: uint32(dex.AccPrivate | dex.AccStatic | dex.AccFinal), Static: true},
				{Name: "count", Flags: uint32(dex.AccProtected)},
			},
			Methods: []dextest.Method{
				{Name: "<init>", Flags: uint32(dex.AccPublic | dex.AccConstructor), Direct: true, CodeOff: 0x100},
				{Name: "hidden", Flags: uint32(dex.AccPrivate | dex.AccFinal), Direct: true, CodeOff: 0x120},
				{Name: "run", Flags: uint32(dex.AccProtected), CodeOff: 0x140},
			},
		},
		{
			Descriptor: "Lcom/example/Empty;",
			Flags:      uint32(dex.AccPublic | dex.AccInterface | dex.AccAbstract),
		},
	}
}

func TestParse(t *testing.T) {
	buf := dextest.Build(sampleClasses()...)
	f, err := dex.Parse(buf)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if f.Version != "035" {
		t.Errorf("Version = %q, want 035", f.Version)
	}
	if int(f.Header.FileSize) != len(buf) {
		t.Errorf("FileSize = %d, want %d", f.Header.FileSize, len(buf))
	}
	if len(f.ClassDefs) != 2 {
		t.Fatalf("len(ClassDefs) = %d, want 2", len(f.ClassDefs))
	}
	if len(f.Map) == 0 {
		t.Error("map list not read")
	}

	secret := &f.ClassDefs[0]
	name, err := f.ClassDescriptor(secret)
	if err != nil || name != "Lcom/example/Secret;" {
		t.Fatalf("ClassDescriptor() = %q, %v", name, err)
	}
	if secret.Data == nil {
		t.Fatal("class data missing")
	}
	if got := len(secret.Data.StaticFields); got != 1 {
		t.Errorf("static fields = %d, want 1", got)
	}
	if got := len(secret.Data.InstanceFields); got != 1 {
		t.Errorf("instance fields = %d, want 1", got)
	}
	if got := len(secret.Data.DirectMethods); got != 2 {
		t.Errorf("direct methods = %d, want 2", got)
	}
	if got := len(secret.Data.VirtualMethods); got != 1 {
		t.Errorf("virtual methods = %d, want 1", got)
	}

	methods := map[string]dex.EncodedMethod{}
	for _, list := range [][]dex.EncodedMethod{secret.Data.DirectMethods, secret.Data.VirtualMethods} {
		for _, m := range list {
			n, err := f.MethodName(m.MethodIdx)
			if err != nil {
				t.Fatalf("MethodName(%d): %v", m.MethodIdx, err)
			}
			methods[n] = m
		}
	}
	hidden, ok := methods["hidden"]
	if !ok {
		t.Fatalf("method hidden not found in %v", methods)
	}
	if hidden.Flags.Value != dex.AccPrivate|dex.AccFinal || hidden.Flags.Len != 1 {
		t.Errorf("hidden flags = %v (len %d)", hidden.Flags.Value, hidden.Flags.Len)
	}
	if hidden.CodeOff != 0x120 {
		t.Errorf("hidden code_off = %#x, want 0x120", hidden.CodeOff)
	}
	if buf[hidden.Flags.Offset] != 0x12 {
		t.Errorf("byte at flags slot = %#x, want 0x12", buf[hidden.Flags.Offset])
	}
	if ctor := methods["<init>"]; ctor.Flags.Len != 3 {
		t.Errorf("<init> flags length = %d, want 3", ctor.Flags.Len)
	}

	if f.ClassDefs[1].Data != nil {
		t.Error("class without class_data_off has data")
	}
}

// setClassDataOff points the first class_def's class_data_off at off.
func setClassDataOff(b []byte, off uint32) []byte {
	classDefs := binary.LittleEndian.Uint32(b[dextest.OffClassDefsSize+4:])
	binary.LittleEndian.PutUint32(b[classDefs+24:], off)
	return b
}

func TestParseErrors(t *testing.T) {
	valid := dextest.Build(sampleClasses()...)

	corrupt := func(fn func(b []byte) []byte) []byte {
		b := append([]byte(nil), valid...)
		return fn(b)
	}

	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{
			name: "bad magic",
			buf:  corrupt(func(b []byte) []byte { copy(b, "zip\n035\x00"); return b }),
			want: dex.ErrInvalidMagic,
		},
		{
			name: "not digits",
			buf:  corrupt(func(b []byte) []byte { copy(b[4:], "0x5"); return b }),
			want: dex.ErrInvalidMagic,
		},
		{
			name: "unknown version",
			buf:  corrupt(func(b []byte) []byte { copy(b[4:], "099"); return b }),
			want: dex.ErrUnsupportedVersion,
		},
		{
			name: "big endian",
			buf: corrupt(func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[dextest.OffEndianTag:], dex.ReverseEndianConstant)
				return b
			}),
			want: dex.ErrUnsupportedVersion,
		},
		{
			name: "shorter than header",
			buf:  corrupt(func(b []byte) []byte { return b[:0x40] }),
			want: dex.ErrTruncatedFile,
		},
		{
			name: "file cut short",
			buf:  corrupt(func(b []byte) []byte { return b[:len(b)-8] }),
			want: dex.ErrTruncatedFile,
		},
		{
			name: "trailing garbage",
			buf:  corrupt(func(b []byte) []byte { return append(b, 0, 0, 0, 0) }),
			want: dex.ErrMalformedFile,
		},
		{
			name: "too many string ids",
			buf: corrupt(func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[dextest.OffStringIDsSize:], 0x10000)
				return b
			}),
			want: dex.ErrTruncatedFile,
		},
		{
			name: "map disagrees with header",
			buf: corrupt(func(b []byte) []byte {
				n := binary.LittleEndian.Uint32(b[dextest.OffStringIDsSize:])
				binary.LittleEndian.PutUint32(b[dextest.OffStringIDsSize:], n-1)
				return b
			}),
			want: dex.ErrMalformedFile,
		},
		{
			name: "class data in header",
			buf:  corrupt(func(b []byte) []byte { return setClassDataOff(b, 0x2c) }),
			want: dex.ErrMalformedFile,
		},
		{
			name: "class data in id tables",
			buf:  corrupt(func(b []byte) []byte { return setClassDataOff(b, dex.HeaderSize) }),
			want: dex.ErrMalformedFile,
		},
		{
			name: "class data past data section",
			buf: corrupt(func(b []byte) []byte {
				end := binary.LittleEndian.Uint32(b[0x6c:]) + binary.LittleEndian.Uint32(b[0x68:])
				return setClassDataOff(b, end)
			}),
			want: dex.ErrMalformedFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dex.Parse(tt.buf)
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSetSlot(t *testing.T) {
	buf := dextest.Build(dextest.Class{
		Descriptor: "La;",
		Methods: []dextest.Method{
			{Name: "m", Flags: 0x12, Direct: true},
			{Name: "padded", Flags: 0x2, Direct: true, FlagsLen: 2},
		},
	})
	f, err := dex.Parse(buf)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	data := f.ClassDefs[0].Data

	m := &data.DirectMethods[0]
	if err := f.SetSlot(&m.Flags, dex.AccPublic); err != nil {
		t.Fatalf("SetSlot() error: %v", err)
	}
	if buf[m.Flags.Offset] != 0x01 {
		t.Errorf("patched byte = %#x, want 0x01", buf[m.Flags.Offset])
	}

	if err := f.SetSlot(&m.Flags, dex.AccConstructor); !errors.Is(err, dex.ErrFlagEncodingOverflow) {
		t.Errorf("SetSlot(wide value) error = %v, want ErrFlagEncodingOverflow", err)
	}

	p := &data.DirectMethods[1]
	if err := f.SetSlot(&p.Flags, dex.AccPublic); err != nil {
		t.Fatalf("SetSlot() error: %v", err)
	}
	if got := buf[p.Flags.Offset : p.Flags.Offset+2]; got[0] != 0x81 || got[1] != 0x00 {
		t.Errorf("padded slot = %x, want 8100", got)
	}

	again, err := dex.Parse(buf)
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	for i, em := range again.ClassDefs[0].Data.DirectMethods {
		if em.Flags.Value != dex.AccPublic {
			t.Errorf("method %d flags = %v, want public", i, em.Flags.Value)
		}
		if em.Flags.Len != data.DirectMethods[i].Flags.Len {
			t.Errorf("method %d flags length changed: %d -> %d", i, data.DirectMethods[i].Flags.Len, em.Flags.Len)
		}
	}
}

func TestSetClassFlags(t *testing.T) {
	buf := dextest.Build(dextest.Class{Descriptor: "La;", Flags: uint32(dex.AccFinal)})
	f, err := dex.Parse(buf)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if err := f.SetClassFlags(0, dex.AccPublic); err != nil {
		t.Fatalf("SetClassFlags() error: %v", err)
	}
	off := f.ClassDefs[0].Offset + 4
	if got := binary.LittleEndian.Uint32(buf[off:]); got != uint32(dex.AccPublic) {
		t.Errorf("class flags in buffer = %#x, want 0x1", got)
	}
	if err := f.SetClassFlags(1, 0); err == nil {
		t.Error("SetClassFlags(out of range) succeeded")
	}
}

func TestFinalizeAndVerify(t *testing.T) {
	buf := dextest.Build(sampleClasses()...)
	if err := dex.Verify(buf); err != nil {
		t.Fatalf("Verify(built) error: %v", err)
	}

	buf[len(buf)-1] ^= 0xff
	if err := dex.Verify(buf); !errors.Is(err, dex.ErrSignatureMismatch) {
		t.Errorf("Verify(modified) error = %v, want ErrSignatureMismatch", err)
	}
	if err := dex.Finalize(buf); err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	if err := dex.Verify(buf); err != nil {
		t.Errorf("Verify(finalized) error: %v", err)
	}

	buf[dextest.OffChecksum] ^= 0x01
	if err := dex.Verify(buf); !errors.Is(err, dex.ErrChecksumMismatch) {
		t.Errorf("Verify(bad checksum) error = %v, want ErrChecksumMismatch", err)
	}
}

func TestCursor(t *testing.T) {
	c := dex.NewCursor([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0xe5, 0x8e, 0x26, 0x7f})
	if v, err := c.U8(); err != nil || v != 0x01 {
		t.Fatalf("U8() = %#x, %v", v, err)
	}
	if v, err := c.U16(); err != nil || v != 0x0302 {
		t.Fatalf("U16() = %#x, %v", v, err)
	}
	if v, err := c.U32(); err != nil || v != 0x07060504 {
		t.Fatalf("U32() = %#x, %v", v, err)
	}
	if v, n, err := c.ULEB128(); err != nil || v != 624485 || n != 3 {
		t.Fatalf("ULEB128() = %d, %d, %v", v, n, err)
	}
	if v, n, err := c.SLEB128(); err != nil || v != -1 || n != 1 {
		t.Fatalf("SLEB128() = %d, %d, %v", v, n, err)
	}
	if _, err := c.U8(); !errors.Is(err, dex.ErrTruncatedFile) {
		t.Errorf("read past end error = %v, want ErrTruncatedFile", err)
	}
	if err := c.Seek(100); !errors.Is(err, dex.ErrTruncatedFile) {
		t.Errorf("Seek(100) error = %v", err)
	}
	if err := c.PutU32At(9, 1); !errors.Is(err, dex.ErrTruncatedFile) {
		t.Errorf("PutU32At(9) error = %v", err)
	}
	if err := c.PutU32At(0, 0xdeadbeef); err != nil {
		t.Errorf("PutU32At(0) error = %v", err)
	}
}

func TestAccessFlagsString(t *testing.T) {
	tests := []struct {
		flags dex.AccessFlags
		want  string
	}{
		{0, "none"},
		{dex.AccPublic | dex.AccStatic | dex.AccFinal, "public static final"},
		{dex.AccPrivate | dex.AccConstructor, "private constructor"},
		{0x80000, "0x80000"},
	}
	for _, tt := range tests {
		if got := tt.flags.String(); got != tt.want {
			t.Errorf("%#x.String() = %q, want %q", uint32(tt.flags), got, tt.want)
		}
	}
}

func TestJavaName(t *testing.T) {
	tests := map[string]string{
		"Lfrob/blar/blix;":    "frob.blar.blix",
		"[Ljava/lang/Object;": "java.lang.Object[]",
		"[[B":                 "byte[][]",
		"[C":                  "char[]",
		"D":                   "double",
		"<illegal>":           "<illegal>",
	}
	for raw, want := range tests {
		if got := dex.JavaName(raw); got != want {
			t.Errorf("JavaName(%q) = %q, want %q", raw, got, want)
		}
	}
}
