// Package codec defines how a value becomes one frame on the wire and back.
//
// A frame is a fixed-size header followed by a data segment whose length is
// computed from the header alone. The transport never inspects frame contents;
// it only asks the codec for sizes and hands it complete frames.
package codec

import (
	"errors"
	"fmt"
)

var (
	ErrShortFrame     = errors.New("codec: short frame")
	ErrFrameSize      = errors.New("codec: frame size mismatch")
	ErrUnknownVariant = errors.New("codec: unknown variant")
	ErrVariantSize    = errors.New("codec: variant data size mismatch")
	ErrInvalidVariant = errors.New("codec: invalid variant spec")
	ErrInvalidMagic   = errors.New("codec: invalid magic")
	ErrInvalidHeader  = errors.New("codec: invalid header")
)

// Codec is the wire contract for values of type T.
type Codec[T any] interface {
	// Serialize returns the full frame (header + data) for v.
	Serialize(v T) ([]byte, error)
	// HeaderSize is the constant size of the header segment.
	HeaderSize() int
	// DataSize returns the data segment length announced by header, which is
	// exactly HeaderSize bytes. A negative result rejects the header.
	DataSize(header []byte) int
	// FromRaw rebuilds a value from one complete frame.
	FromRaw(frame []byte) (T, error)
}

// FrameLen returns HeaderSize + DataSize(header) for a serialized frame.
func FrameLen[T any](c Codec[T], frame []byte) (int, error) {
	h := c.HeaderSize()
	if len(frame) < h {
		return 0, fmt.Errorf("%w: %d < header %d", ErrShortFrame, len(frame), h)
	}
	d := c.DataSize(frame[:h])
	if d < 0 {
		return 0, ErrInvalidHeader
	}
	return h + d, nil
}

// Decode replaces *dst with the value carried by frame. On error *dst is left
// unchanged.
func Decode[T any](c Codec[T], dst *T, frame []byte) error {
	v, err := c.FromRaw(frame)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
