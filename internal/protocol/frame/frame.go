// Package frame reads and writes codec frames on a byte stream.
//
// Every value travels as a header of codec.HeaderSize bytes followed by a data
// segment of codec.DataSize(header) bytes. Nothing else is on the wire.
package frame

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/knet/internal/protocol/codec"
)

var (
	// ErrTruncated covers any short read; callers treat it as the peer going away.
	ErrTruncated     = errors.New("frame: truncated")
	ErrShortHeader   = fmt.Errorf("%w: short header", ErrTruncated)
	ErrShortData     = fmt.Errorf("%w: short data", ErrTruncated)
	ErrFrameTooLarge = errors.New("frame: data segment too large")
	ErrBadDataSize   = errors.New("frame: header rejected by codec")
	ErrEncode        = errors.New("frame: encode failed")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxDataBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxDataBytes: 8 * 1024 * 1024,
	}
}

func (l Limits) WithDefaults() Limits {
	if l.MaxDataBytes <= 0 {
		l.MaxDataBytes = DefaultLimits().MaxDataBytes
	}
	return l
}

// ReadFrame reads exactly one frame from r and decodes it with c. No more than
// HeaderSize bytes are allocated before the data size is known.
func ReadFrame[T any](r io.Reader, c codec.Codec[T], limits Limits) (T, error) {
	var zero T
	limits = limits.WithDefaults()

	h := c.HeaderSize()
	header := make([]byte, h)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return zero, ErrShortHeader
		}
		return zero, err
	}

	d := c.DataSize(header)
	if d < 0 {
		return zero, ErrBadDataSize
	}
	if d > limits.MaxDataBytes {
		return zero, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, d, limits.MaxDataBytes)
	}

	buf := make([]byte, h+d)
	copy(buf, header)
	if d > 0 {
		if _, err := io.ReadFull(r, buf[h:]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return zero, ErrShortData
			}
			return zero, err
		}
	}
	return c.FromRaw(buf)
}

// WriteFrame serializes v with c and writes it with a single Write call.
func WriteFrame[T any](w io.Writer, c codec.Codec[T], v T, limits Limits) error {
	limits = limits.WithDefaults()
	raw, err := c.Serialize(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	if d := len(raw) - c.HeaderSize(); d > limits.MaxDataBytes {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, d, limits.MaxDataBytes)
	}
	_, err = w.Write(raw)
	return err
}

// IsValueError reports whether a WriteFrame error concerns only the value, not the stream.
func IsValueError(err error) bool {
	return errors.Is(err, ErrEncode) || errors.Is(err, ErrFrameTooLarge)
}

// IsDisconnect reports whether err from ReadFrame means the connection is done
// rather than a local failure. Every read error ends the connection, so this
// is only used to pick a log level.
func IsDisconnect(err error) bool {
	return errors.Is(err, ErrTruncated) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}
