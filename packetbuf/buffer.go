// Package packetbuf provides the byte buffer used to encode and decode packet
// payloads. All fixed-width values are big-endian. Variable-length integers use
// 7-bit groups, least-significant group first, with the high bit of each byte
// marking that more groups follow.
//
// A Buffer is used in one of two phases. As a write target it only grows: every
// Write* call appends to the end. As a read source it is sized once (from a
// received payload or with Resize) and then consumed through a cursor that only
// moves forward until ResetReading rewinds it.
package packetbuf

import (
	"encoding/binary"
	"math"

	"github.com/go-faster/errors"
)

var (
	// ErrOutOfBounds is returned when a read would move the cursor past the end
	// of the buffer. The cursor is left where it was.
	ErrOutOfBounds = errors.New("read out of bounds")

	// ErrVarIntTooLong is returned when a variable-length integer does not
	// terminate within MaxVarIntLen bytes.
	ErrVarIntTooLong = errors.New("varint too long")
)

// MaxVarIntLen is the longest encoding of a 64-bit value (negative values
// always take all ten bytes).
const MaxVarIntLen = 10

// Buffer is a growable byte sequence with a forward-only read cursor.
// A Buffer is not safe for concurrent use.
type Buffer struct {
	data      []byte
	readIndex int
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// WithCapacity returns an empty Buffer with room for capacity bytes.
//
// Parameters:
//   - capacity: Number of bytes to preallocate
//
// Returns:
//   - An empty Buffer
func WithCapacity(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// FromBytes returns a Buffer holding a copy of p with the cursor at zero.
//
// Parameters:
//   - p: The bytes to read from
//
// Returns:
//   - A Buffer positioned at the start of p
func FromBytes(p []byte) *Buffer {
	data := make([]byte, len(p))
	copy(data, p)
	return &Buffer{data: data}
}

// Len returns the total number of bytes held, independent of the cursor.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int {
	return len(b.data) - b.readIndex
}

// ReadIndex returns the cursor position.
func (b *Buffer) ReadIndex() int {
	return b.readIndex
}

// Bytes returns the whole content. The slice aliases the buffer and is only
// valid until the next write or Resize.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Unread returns the bytes after the cursor without advancing it.
func (b *Buffer) Unread() []byte {
	return b.data[b.readIndex:]
}

// ResetReading rewinds the cursor to zero without touching the content.
func (b *Buffer) ResetReading() {
	b.readIndex = 0
}

// Resize truncates the buffer to n bytes or zero-extends it to n bytes. The
// cursor is clamped to the new length.
//
// Parameters:
//   - n: The new length; negative values are treated as zero
func (b *Buffer) Resize(n int) {
	if n < 0 {
		n = 0
	}

	if n <= len(b.data) {
		b.data = b.data[:n]
	} else if n <= cap(b.data) {
		old := len(b.data)
		b.data = b.data[:n]
		clear(b.data[old:])
	} else {
		grown := make([]byte, n, n+n/4)
		copy(grown, b.data)
		b.data = grown
	}

	if b.readIndex > n {
		b.readIndex = n
	}
}

// WriteAll appends p verbatim.
func (b *Buffer) WriteAll(p []byte) {
	b.data = append(b.data, p...)
}

// WriteSlice appends p verbatim. It is an alias of WriteAll.
func (b *Buffer) WriteSlice(p []byte) {
	b.WriteAll(p)
}

// Write implements io.Writer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.WriteAll(p)
	return len(p), nil
}

// take advances the cursor by n and returns the bytes it passed over.
func (b *Buffer) take(n int) ([]byte, error) {
	if n < 0 || n > b.Remaining() {
		return nil, errors.Wrapf(ErrOutOfBounds, "need %d bytes at offset %d, have %d", n, b.readIndex, b.Remaining())
	}

	p := b.data[b.readIndex : b.readIndex+n]
	b.readIndex += n
	return p, nil
}

// ReadBytes reads exactly n raw bytes. The result is a copy.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	p, err := b.take(n)
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)
	copy(out, p)
	return out, nil
}

// WriteU8 appends one byte.
func (b *Buffer) WriteU8(v uint8) {
	b.data = append(b.data, v)
}

// ReadU8 consumes one byte.
func (b *Buffer) ReadU8() (uint8, error) {
	p, err := b.take(1)
	if err != nil {
		return 0, err
	}

	return p[0], nil
}

// WriteI8 appends v as one two's complement byte.
func (b *Buffer) WriteI8(v int8) {
	b.WriteU8(uint8(v))
}

// ReadI8 consumes one byte as a signed value.
func (b *Buffer) ReadI8() (int8, error) {
	v, err := b.ReadU8()
	return int8(v), err
}

// WriteU16 appends v in big-endian order.
func (b *Buffer) WriteU16(v uint16) {
	b.data = binary.BigEndian.AppendUint16(b.data, v)
}

// ReadU16 consumes a big-endian uint16.
func (b *Buffer) ReadU16() (uint16, error) {
	p, err := b.take(2)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(p), nil
}

// WriteI16 appends v in big-endian order.
func (b *Buffer) WriteI16(v int16) {
	b.WriteU16(uint16(v))
}

// ReadI16 consumes a big-endian int16.
func (b *Buffer) ReadI16() (int16, error) {
	v, err := b.ReadU16()
	return int16(v), err
}

// WriteU32 appends v in big-endian order.
func (b *Buffer) WriteU32(v uint32) {
	b.data = binary.BigEndian.AppendUint32(b.data, v)
}

// ReadU32 consumes a big-endian uint32.
func (b *Buffer) ReadU32() (uint32, error) {
	p, err := b.take(4)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(p), nil
}

// WriteI32 appends v in big-endian order.
func (b *Buffer) WriteI32(v int32) {
	b.WriteU32(uint32(v))
}

// ReadI32 consumes a big-endian int32.
func (b *Buffer) ReadI32() (int32, error) {
	v, err := b.ReadU32()
	return int32(v), err
}

// WriteU64 appends v in big-endian order.
func (b *Buffer) WriteU64(v uint64) {
	b.data = binary.BigEndian.AppendUint64(b.data, v)
}

// ReadU64 consumes a big-endian uint64.
func (b *Buffer) ReadU64() (uint64, error) {
	p, err := b.take(8)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint64(p), nil
}

// WriteI64 appends v in big-endian order.
func (b *Buffer) WriteI64(v int64) {
	b.WriteU64(uint64(v))
}

// ReadI64 consumes a big-endian int64.
func (b *Buffer) ReadI64() (int64, error) {
	v, err := b.ReadU64()
	return int64(v), err
}

// WriteU128 appends the high word, then the low word, both big-endian.
func (b *Buffer) WriteU128(v Uint128) {
	b.WriteU64(v.Hi)
	b.WriteU64(v.Lo)
}

// ReadU128 consumes 16 bytes written by WriteU128.
func (b *Buffer) ReadU128() (Uint128, error) {
	p, err := b.take(16)
	if err != nil {
		return Uint128{}, err
	}

	return Uint128{Hi: binary.BigEndian.Uint64(p[:8]), Lo: binary.BigEndian.Uint64(p[8:])}, nil
}

// WriteI128 appends v with the same layout as WriteU128.
func (b *Buffer) WriteI128(v Int128) {
	b.WriteU64(uint64(v.Hi))
	b.WriteU64(v.Lo)
}

// ReadI128 consumes 16 bytes written by WriteI128.
func (b *Buffer) ReadI128() (Int128, error) {
	u, err := b.ReadU128()
	if err != nil {
		return Int128{}, err
	}

	return Int128{Hi: int64(u.Hi), Lo: u.Lo}, nil
}

// WriteF32 appends the IEEE 754 bits of v in big-endian order.
func (b *Buffer) WriteF32(v float32) {
	b.WriteU32(math.Float32bits(v))
}

// ReadF32 consumes a big-endian IEEE 754 float32.
func (b *Buffer) ReadF32() (float32, error) {
	v, err := b.ReadU32()
	return math.Float32frombits(v), err
}

// WriteF64 appends the IEEE 754 bits of v in big-endian order.
func (b *Buffer) WriteF64(v float64) {
	b.WriteU64(math.Float64bits(v))
}

// ReadF64 consumes a big-endian IEEE 754 float64.
func (b *Buffer) ReadF64() (float64, error) {
	v, err := b.ReadU64()
	return math.Float64frombits(v), err
}

// WriteBool writes 1 for true and 0 for false.
func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteU8(1)
		return
	}

	b.WriteU8(0)
}

// ReadBool reads one byte; only 1 is true.
func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadU8()
	return v == 1, err
}
