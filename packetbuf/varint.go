package packetbuf

import "github.com/go-faster/errors"

// VarIntSize returns the number of bytes WriteVarInt emits for v.
func VarIntSize(v int64) int {
	u := uint64(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}

	return n
}

// AppendVarInt appends the variable-length encoding of v to dst. The value is
// encoded as its unsigned bit pattern, so negative values take ten bytes.
func AppendVarInt(dst []byte, v int64) []byte {
	u := uint64(v)
	for u >= 0x80 {
		dst = append(dst, byte(u)|0x80)
		u >>= 7
	}

	return append(dst, byte(u))
}

// ReadVarIntFrom decodes a variable-length integer from the start of p.
//
// Parameters:
//   - p: Bytes starting at the first group of the varint
//
// Returns:
//   - The decoded value
//   - The number of bytes it occupied
//   - ErrOutOfBounds if p ends before the last group, or ErrVarIntTooLong
func ReadVarIntFrom(p []byte) (int64, int, error) {
	var result uint64
	for i := 0; i < MaxVarIntLen; i++ {
		if i >= len(p) {
			return 0, 0, errors.Wrapf(ErrOutOfBounds, "varint truncated after %d bytes", i)
		}

		group := p[i]
		if i == MaxVarIntLen-1 && group > 1 {
			return 0, 0, errors.Wrapf(ErrVarIntTooLong, "final group 0x%02x overflows 64 bits", group)
		}

		result |= uint64(group&0x7f) << (7 * uint(i))
		if group&0x80 == 0 {
			return int64(result), i + 1, nil
		}
	}

	return 0, 0, ErrVarIntTooLong
}

// WriteVarInt appends v as a variable-length integer.
func (b *Buffer) WriteVarInt(v int64) {
	b.data = AppendVarInt(b.data, v)
}

// ReadVarInt reads a variable-length integer at the cursor.
func (b *Buffer) ReadVarInt() (int64, error) {
	v, n, err := ReadVarIntFrom(b.Unread())
	if err != nil {
		return 0, err
	}

	b.readIndex += n
	return v, nil
}

// WriteString writes a varint byte length followed by the raw bytes of s.
func (b *Buffer) WriteString(s string) {
	b.WriteVarInt(int64(len(s)))
	b.data = append(b.data, s...)
}

// ReadString reads a varint length and that many bytes. The bytes are passed
// through unchanged; no UTF-8 validation is done.
func (b *Buffer) ReadString() (string, error) {
	p, err := b.readPrefixed()
	if err != nil {
		return "", err
	}

	return string(p), nil
}

// WriteByteArray writes a varint length followed by p.
func (b *Buffer) WriteByteArray(p []byte) {
	b.WriteVarInt(int64(len(p)))
	b.data = append(b.data, p...)
}

// ReadByteArray reads a varint length and returns a copy of that many bytes.
func (b *Buffer) ReadByteArray() ([]byte, error) {
	p, err := b.readPrefixed()
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

func (b *Buffer) readPrefixed() ([]byte, error) {
	start := b.readIndex
	n, err := b.ReadVarInt()
	if err != nil {
		return nil, errors.Wrap(err, "read length prefix")
	}

	if n < 0 || n > int64(b.Remaining()) {
		b.readIndex = start
		return nil, errors.Wrapf(ErrOutOfBounds, "length prefix %d exceeds %d remaining bytes", n, b.Remaining())
	}

	p, _ := b.take(int(n))
	return p, nil
}
