package codec

import (
	"bytes"
	"errors"
	"testing"
)

func dataCodec(t *testing.T) *Tagged {
	t.Helper()
	c, err := NewTagged(
		VariantSpec{Name: "Byte", Size: 1},
		VariantSpec{Name: "Integer", Size: 4},
		VariantSpec{Name: "Char", Size: 4},
		VariantSpec{Name: "FooStruct", Size: 8},
	)
	if err != nil {
		t.Fatalf("new tagged: %v", err)
	}
	return c
}

func TestTaggedSerializeByteLayout(t *testing.T) {
	c := dataCodec(t)
	cases := []struct {
		in   uint8
		want []byte
	}{
		{8, []byte{66, 121, 116, 101, 0, 0, 0, 0, 0, 8}},
		{16, []byte{66, 121, 116, 101, 0, 0, 0, 0, 0, 16}},
		{32, []byte{66, 121, 116, 101, 0, 0, 0, 0, 0, 32}},
	}
	for _, tc := range cases {
		got, err := c.Serialize(Uint8Variant("Byte", tc.in))
		if err != nil {
			t.Fatalf("serialize %d: %v", tc.in, err)
		}
		if !bytes.Equal(got, tc.want) {
			t.Fatalf("layout mismatch for %d: got=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestTaggedFromRawKnownBytes(t *testing.T) {
	c := dataCodec(t)
	v, err := c.FromRaw([]byte{66, 121, 116, 101, 0, 0, 0, 0, 0, 42})
	if err != nil {
		t.Fatalf("from raw: %v", err)
	}
	if !v.Equal(Uint8Variant("Byte", 42)) {
		t.Fatalf("unexpected variant: %+v", v)
	}
}

func TestTaggedRoundTripAndFrameLen(t *testing.T) {
	c := dataCodec(t)
	foo := Variant{Name: "FooStruct", Data: []byte{0, 0, 0, 42, 0, 0, 0, 21}}
	values := []Variant{
		Uint8Variant("Byte", 255),
		Int32Variant("Integer", -8),
		RuneVariant("Char", 'c'),
		foo,
	}
	for _, v := range values {
		raw, err := c.Serialize(v)
		if err != nil {
			t.Fatalf("serialize %s: %v", v.Name, err)
		}
		n, err := FrameLen[Variant](c, raw)
		if err != nil {
			t.Fatalf("frame len %s: %v", v.Name, err)
		}
		if n != len(raw) {
			t.Fatalf("frame len %s: got %d want %d", v.Name, n, len(raw))
		}
		out, err := c.FromRaw(raw)
		if err != nil {
			t.Fatalf("from raw %s: %v", v.Name, err)
		}
		if !out.Equal(v) {
			t.Fatalf("round trip mismatch: got=%+v want=%+v", out, v)
		}
	}

	i, err := Int32Variant("Integer", -8).Int32()
	if err != nil || i != -8 {
		t.Fatalf("int32 accessor: %d %v", i, err)
	}
	r, err := RuneVariant("Char", 'c').Rune()
	if err != nil || r != 'c' {
		t.Fatalf("rune accessor: %q %v", r, err)
	}
}

func TestTaggedRejectsUnknownAndMissized(t *testing.T) {
	c := dataCodec(t)
	if _, err := c.Serialize(Uint8Variant("Nope", 1)); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}
	if _, err := c.Serialize(Variant{Name: "Integer", Data: []byte{1}}); !errors.Is(err, ErrVariantSize) {
		t.Fatalf("expected ErrVariantSize, got %v", err)
	}
	if got := c.DataSize([]byte("Unknown!!")); got >= 0 {
		t.Fatalf("expected negative data size for unknown header, got %d", got)
	}
	if _, err := c.FromRaw([]byte{66, 121, 116, 101, 0, 0, 0, 0, 0, 1, 2}); !errors.Is(err, ErrFrameSize) {
		t.Fatalf("expected ErrFrameSize, got %v", err)
	}
}

func TestNewTaggedValidatesSpecs(t *testing.T) {
	if _, err := NewTagged(); !errors.Is(err, ErrInvalidVariant) {
		t.Fatalf("expected ErrInvalidVariant for empty spec, got %v", err)
	}
	if _, err := NewTagged(VariantSpec{Name: "A", Size: 1}, VariantSpec{Name: "A", Size: 2}); !errors.Is(err, ErrInvalidVariant) {
		t.Fatalf("expected ErrInvalidVariant for duplicate, got %v", err)
	}
	if _, err := NewTagged(VariantSpec{Name: "A", Size: -1}); !errors.Is(err, ErrInvalidVariant) {
		t.Fatalf("expected ErrInvalidVariant for negative size, got %v", err)
	}
}

func TestDecodeOverwritesInPlace(t *testing.T) {
	c := dataCodec(t)
	raw, err := c.Serialize(Int32Variant("Integer", 7))
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	dst := Uint8Variant("Byte", 1)
	if err := Decode[Variant](c, &dst, raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !dst.Equal(Int32Variant("Integer", 7)) {
		t.Fatalf("unexpected value after decode: %+v", dst)
	}

	if err := Decode[Variant](c, &dst, raw[:2]); err == nil {
		t.Fatalf("expected error for truncated frame")
	}
	if !dst.Equal(Int32Variant("Integer", 7)) {
		t.Fatalf("failed decode changed destination: %+v", dst)
	}
}
