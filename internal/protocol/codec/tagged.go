package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// VariantSpec registers one variant of a tagged union and the fixed size of its data.
type VariantSpec struct {
	Name string
	Size int
}

// Variant is one value of a tagged union.
type Variant struct {
	Name string
	Data []byte
}

// Tagged encodes a Variant as its name, NUL-padded to the longest registered
// name, followed by the variant's fixed-size data.
type Tagged struct {
	width int
	sizes map[string]int
	names []string
}

var _ Codec[Variant] = (*Tagged)(nil)

func NewTagged(specs ...VariantSpec) (*Tagged, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no variants", ErrInvalidVariant)
	}
	c := &Tagged{sizes: make(map[string]int, len(specs))}
	for i, spec := range specs {
		name := spec.Name
		if strings.TrimSpace(name) == "" || strings.IndexByte(name, 0) >= 0 {
			return nil, fmt.Errorf("%w: variants[%d] invalid name %q", ErrInvalidVariant, i, name)
		}
		if spec.Size < 0 {
			return nil, fmt.Errorf("%w: variants[%d] negative size", ErrInvalidVariant, i)
		}
		if _, ok := c.sizes[name]; ok {
			return nil, fmt.Errorf("%w: duplicate variant %q", ErrInvalidVariant, name)
		}
		c.sizes[name] = spec.Size
		c.names = append(c.names, name)
		if len(name) > c.width {
			c.width = len(name)
		}
	}
	return c, nil
}

func MustTagged(specs ...VariantSpec) *Tagged {
	c, err := NewTagged(specs...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Tagged) Variants() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

func (c *Tagged) HeaderSize() int {
	return c.width
}

func (c *Tagged) DataSize(header []byte) int {
	size, ok := c.sizes[variantName(header)]
	if !ok || len(header) != c.width {
		return -1
	}
	return size
}

func (c *Tagged) Serialize(v Variant) ([]byte, error) {
	size, ok := c.sizes[v.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, v.Name)
	}
	if len(v.Data) != size {
		return nil, fmt.Errorf("%w: %q got %d want %d", ErrVariantSize, v.Name, len(v.Data), size)
	}
	out := make([]byte, c.width+size)
	copy(out, v.Name)
	copy(out[c.width:], v.Data)
	return out, nil
}

func (c *Tagged) FromRaw(frame []byte) (Variant, error) {
	if len(frame) < c.width {
		return Variant{}, ErrShortFrame
	}
	name := variantName(frame[:c.width])
	size, ok := c.sizes[name]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	if len(frame)-c.width != size {
		return Variant{}, fmt.Errorf("%w: %q got %d want %d", ErrFrameSize, name, len(frame)-c.width, size)
	}
	data := make([]byte, size)
	copy(data, frame[c.width:])
	return Variant{Name: name, Data: data}, nil
}

func variantName(header []byte) string {
	if i := bytes.IndexByte(header, 0); i >= 0 {
		header = header[:i]
	}
	return string(header)
}

func Uint8Variant(name string, v uint8) Variant {
	return Variant{Name: name, Data: []byte{v}}
}

func Int32Variant(name string, v int32) Variant {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, uint32(v))
	return Variant{Name: name, Data: data}
}

func Float64Variant(name string, v float64) Variant {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, math.Float64bits(v))
	return Variant{Name: name, Data: data}
}

func RuneVariant(name string, r rune) Variant {
	return Int32Variant(name, int32(r))
}

func (v Variant) Uint8() (uint8, error) {
	if len(v.Data) != 1 {
		return 0, fmt.Errorf("%w: %q is not a u8", ErrVariantSize, v.Name)
	}
	return v.Data[0], nil
}

func (v Variant) Int32() (int32, error) {
	if len(v.Data) != 4 {
		return 0, fmt.Errorf("%w: %q is not an i32", ErrVariantSize, v.Name)
	}
	return int32(binary.BigEndian.Uint32(v.Data)), nil
}

func (v Variant) Float64() (float64, error) {
	if len(v.Data) != 8 {
		return 0, fmt.Errorf("%w: %q is not an f64", ErrVariantSize, v.Name)
	}
	return math.Float64frombits(binary.BigEndian.Uint64(v.Data)), nil
}

func (v Variant) Rune() (rune, error) {
	i, err := v.Int32()
	return rune(i), err
}

func (v Variant) Equal(o Variant) bool {
	return v.Name == o.Name && bytes.Equal(v.Data, o.Data)
}
