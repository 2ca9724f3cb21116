package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	EnvelopeHeaderLen uint16 = 32

	// DefaultMagic is "KNET" in ASCII.
	DefaultMagic   uint32 = 0x4b4e4554
	DefaultVersion uint16 = 1

	FlagHasMeta    uint32 = 0x01
	FlagIsResponse uint32 = 0x02
	FlagIsError    uint32 = 0x04
)

// EnvelopeHeader is the fixed envelope header.
type EnvelopeHeader struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType uint32
	Flags       uint32
	PayloadLen  uint64
}

// Envelope is one message: header, optional opaque metadata, payload.
type Envelope struct {
	Header  EnvelopeHeader
	Meta    []byte
	Payload []byte
}

// EnvelopeCodec frames Envelopes. A zero Magic accepts any magic on decode and
// writes whatever the header carries on encode.
type EnvelopeCodec struct {
	Magic   uint32
	Version uint16
}

var _ Codec[Envelope] = EnvelopeCodec{}

func (c EnvelopeCodec) HeaderSize() int {
	return int(EnvelopeHeaderLen)
}

func (c EnvelopeCodec) DataSize(header []byte) int {
	h, err := DecodeEnvelopeHeader(header)
	if err != nil {
		return -1
	}
	if err := c.check(h); err != nil {
		return -1
	}
	meta := uint64(h.HeaderLen - EnvelopeHeaderLen)
	if h.PayloadLen > math.MaxInt32 {
		return -1
	}
	return int(meta + h.PayloadLen)
}

func (c EnvelopeCodec) Serialize(e Envelope) ([]byte, error) {
	metaLen := len(e.Meta)
	if metaLen > math.MaxUint16-int(EnvelopeHeaderLen) {
		return nil, fmt.Errorf("%w: meta too large (%d)", ErrInvalidHeader, metaLen)
	}
	h := e.Header
	if h.Magic == 0 {
		h.Magic = c.Magic
	}
	if h.Version == 0 {
		h.Version = c.Version
	}
	h.HeaderLen = EnvelopeHeaderLen + uint16(metaLen)
	h.PayloadLen = uint64(len(e.Payload))
	if metaLen > 0 {
		h.Flags |= FlagHasMeta
	} else {
		h.Flags &^= FlagHasMeta
	}

	out := make([]byte, 0, int(h.HeaderLen)+len(e.Payload))
	out = append(out, EncodeEnvelopeHeader(h)...)
	out = append(out, e.Meta...)
	out = append(out, e.Payload...)
	return out, nil
}

func (c EnvelopeCodec) FromRaw(frame []byte) (Envelope, error) {
	if len(frame) < int(EnvelopeHeaderLen) {
		return Envelope{}, ErrShortFrame
	}
	h, err := DecodeEnvelopeHeader(frame[:EnvelopeHeaderLen])
	if err != nil {
		return Envelope{}, err
	}
	if err := c.check(h); err != nil {
		return Envelope{}, err
	}
	metaLen := int(h.HeaderLen - EnvelopeHeaderLen)
	if uint64(len(frame)) != uint64(h.HeaderLen)+h.PayloadLen {
		return Envelope{}, fmt.Errorf("%w: got %d want %d", ErrFrameSize, len(frame), uint64(h.HeaderLen)+h.PayloadLen)
	}
	body := frame[EnvelopeHeaderLen:]
	e := Envelope{
		Header:  h,
		Meta:    append([]byte(nil), body[:metaLen]...),
		Payload: append([]byte(nil), body[metaLen:]...),
	}
	return e, nil
}

func (c EnvelopeCodec) check(h EnvelopeHeader) error {
	if c.Magic != 0 && h.Magic != c.Magic {
		return fmt.Errorf("%w: 0x%08x", ErrInvalidMagic, h.Magic)
	}
	if h.HeaderLen < EnvelopeHeaderLen {
		return fmt.Errorf("%w: header_len %d smaller than fixed header", ErrInvalidHeader, h.HeaderLen)
	}
	if h.Flags&FlagHasMeta != 0 && h.HeaderLen == EnvelopeHeaderLen {
		return fmt.Errorf("%w: meta flag set without meta bytes", ErrInvalidHeader)
	}
	return nil
}

func EncodeEnvelopeHeader(h EnvelopeHeader) []byte {
	buf := make([]byte, EnvelopeHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.MessageID)
	binary.BigEndian.PutUint32(buf[16:20], h.MessageType)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
	return buf
}

func DecodeEnvelopeHeader(b []byte) (EnvelopeHeader, error) {
	if len(b) != int(EnvelopeHeaderLen) {
		return EnvelopeHeader{}, fmt.Errorf("%w: fixed header length %d", ErrInvalidHeader, len(b))
	}
	return EnvelopeHeader{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(b[6:8]),
		MessageID:   binary.BigEndian.Uint64(b[8:16]),
		MessageType: binary.BigEndian.Uint32(b[16:20]),
		Flags:       binary.BigEndian.Uint32(b[20:24]),
		PayloadLen:  binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
