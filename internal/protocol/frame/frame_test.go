package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/knet/internal/protocol/codec"
)

func testCodec(t *testing.T) *codec.Tagged {
	t.Helper()
	return codec.MustTagged(
		codec.VariantSpec{Name: "Byte", Size: 1},
		codec.VariantSpec{Name: "Integer", Size: 4},
	)
}

func TestReadWriteFrameRoundTrip(t *testing.T) {
	c := testCodec(t)
	var buf bytes.Buffer
	in := []codec.Variant{
		codec.Uint8Variant("Byte", 1),
		codec.Int32Variant("Integer", 1234),
		codec.Uint8Variant("Byte", 2),
	}
	for _, v := range in {
		if err := WriteFrame[codec.Variant](&buf, c, v, DefaultLimits()); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	for i, want := range in {
		got, err := ReadFrame[codec.Variant](&buf, c, DefaultLimits())
		if err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		if !got.Equal(want) {
			t.Fatalf("frame %d mismatch: got=%+v want=%+v", i, got, want)
		}
	}
	if _, err := ReadFrame[codec.Variant](&buf, c, DefaultLimits()); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader at end of stream, got %v", err)
	}
}

func TestReadFrameShortHeaderIsTruncation(t *testing.T) {
	_, err := ReadFrame[codec.Variant](bytes.NewReader([]byte{'B', 'y'}), testCodec(t), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) || !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected truncated header, got %v", err)
	}
	if !IsDisconnect(err) {
		t.Fatalf("expected short header to count as disconnect")
	}
}

func TestReadFrameShortDataIsTruncation(t *testing.T) {
	c := codec.FieldCodec{}
	raw := codec.EncodeField(codec.StringField(1, "hello"))
	_, err := ReadFrame[codec.Field](bytes.NewReader(raw[:len(raw)-2]), c, DefaultLimits())
	if !errors.Is(err, ErrShortData) || !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected truncated data, got %v", err)
	}
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	c := codec.FieldCodec{}
	header := []byte{0, 1, codec.TypeBytes, 0x7F, 0, 0, 0}
	_, err := ReadFrame[codec.Field](bytes.NewReader(header), c, Limits{MaxDataBytes: 1024})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameRejectsUnknownHeader(t *testing.T) {
	_, err := ReadFrame[codec.Variant](bytes.NewReader([]byte("Nope!!!\x00")), testCodec(t), DefaultLimits())
	if !errors.Is(err, ErrBadDataSize) {
		t.Fatalf("expected ErrBadDataSize, got %v", err)
	}
}

func TestWriteFrameSingleWrite(t *testing.T) {
	w := &countingWriter{}
	c := codec.EnvelopeCodec{Magic: 1}
	env := codec.Envelope{Payload: []byte("payload")}
	if err := WriteFrame[codec.Envelope](w, c, env, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if w.calls != 1 {
		t.Fatalf("expected exactly one write, got %d", w.calls)
	}
	if w.n != int(codec.EnvelopeHeaderLen)+len("payload") {
		t.Fatalf("unexpected byte count: %d", w.n)
	}
}

func TestReadFrameOverPipe(t *testing.T) {
	c := codec.EnvelopeCodec{Magic: 9}
	pr, pw := io.Pipe()
	go func() {
		_ = WriteFrame[codec.Envelope](pw, c, codec.Envelope{Payload: []byte("a")}, DefaultLimits())
		_ = pw.Close()
	}()
	got, err := ReadFrame[codec.Envelope](pr, c, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(got.Payload) != "a" {
		t.Fatalf("unexpected payload: %q", got.Payload)
	}
	if _, err := ReadFrame[codec.Envelope](pr, c, DefaultLimits()); !IsDisconnect(err) {
		t.Fatalf("expected disconnect after close, got %v", err)
	}
}

type countingWriter struct {
	calls int
	n     int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.calls++
	w.n += len(p)
	return len(p), nil
}

func TestWriteFrameEncodeErrorIsValueError(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame[codec.Variant](&buf, testCodec(t), codec.Uint8Variant("Missing", 1), DefaultLimits())
	if !errors.Is(err, ErrEncode) || !errors.Is(err, codec.ErrUnknownVariant) {
		t.Fatalf("expected wrapped encode error, got %v", err)
	}
	if !IsValueError(err) {
		t.Fatalf("expected value error classification")
	}
	if buf.Len() != 0 {
		t.Fatalf("nothing should be written on encode failure")
	}
}
