package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const FieldHeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("codec: short field header")
	ErrShortFieldValue  = errors.New("codec: short field value")
)

// Field type ids.
const (
	TypeU8     uint8 = 1
	TypeU16    uint8 = 2
	TypeU32    uint8 = 3
	TypeU64    uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
)

// Field is one type-length-value item: id u16, type u8, len u32, value.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

// FieldCodec frames single Fields, so a stream of fields can be sent one value per frame.
type FieldCodec struct{}

var _ Codec[Field] = FieldCodec{}

func (FieldCodec) HeaderSize() int {
	return FieldHeaderLen
}

func (FieldCodec) DataSize(header []byte) int {
	if len(header) != FieldHeaderLen {
		return -1
	}
	l := binary.BigEndian.Uint32(header[3:7])
	if l > 1<<31-1 {
		return -1
	}
	return int(l)
}

func (FieldCodec) Serialize(f Field) ([]byte, error) {
	return EncodeField(f), nil
}

func (FieldCodec) FromRaw(frame []byte) (Field, error) {
	fields, err := DecodeFields(frame)
	if err != nil {
		return Field{}, err
	}
	if len(fields) != 1 {
		return Field{}, fmt.Errorf("%w: expected one field, got %d", ErrFrameSize, len(fields))
	}
	return fields[0], nil
}

func EncodeField(f Field) []byte {
	buf := make([]byte, FieldHeaderLen+len(f.Value))
	binary.BigEndian.PutUint16(buf[0:2], f.ID)
	buf[2] = f.Type
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(f.Value)))
	copy(buf[7:], f.Value)
	return buf
}

func EncodeFields(fields []Field) []byte {
	out := make([]byte, 0)
	for _, f := range fields {
		out = append(out, EncodeField(f)...)
	}
	return out
}

func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0)
	i := 0
	for i < len(payload) {
		if len(payload)-i < FieldHeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += FieldHeaderLen
		if uint32(len(payload)-i) < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

func GetField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func StringField(id uint16, s string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(s)}
}

func MustType(f Field, expected uint8) error {
	if f.Type != expected {
		return fmt.Errorf("codec: field %d type mismatch: got %d want %d", f.ID, f.Type, expected)
	}
	return nil
}
