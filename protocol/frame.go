package protocol

import (
	"math"

	"github.com/go-faster/errors"

	"github.com/cyberinferno/dragonet/packetbuf"
)

var (
	// ErrIncompleteFrame means the input ends inside a frame; more bytes are
	// needed before it can be parsed.
	ErrIncompleteFrame = errors.New("incomplete frame")

	// ErrFrameTooLarge means the declared payload length is negative or above
	// the configured limit.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrInvalidPacketID means the id prefix does not fit in 32 bits.
	ErrInvalidPacketID = errors.New("invalid packet id")
)

// Frame is one wire unit: VarInt(length) VarInt(id) Payload.
type Frame struct {
	ID      uint32
	Payload []byte
}

// EncodeFrame encodes pkt's payload and prefixes it with its length and id.
//
// Parameters:
//   - pkt: The packet to frame
//
// Returns:
//   - A fresh write-only buffer holding the whole frame
func EncodeFrame[P Phase](pkt Packet[P]) *packetbuf.Buffer {
	payload := packetbuf.New()
	pkt.Encode(payload)

	return AppendFrame(packetbuf.WithCapacity(payload.Len()+2*packetbuf.MaxVarIntLen), pkt.Metadata().ID, payload.Bytes())
}

// AppendFrame writes VarInt(len(payload)) VarInt(id) payload to dst and
// returns dst.
func AppendFrame(dst *packetbuf.Buffer, id uint32, payload []byte) *packetbuf.Buffer {
	dst.WriteVarInt(int64(len(payload)))
	dst.WriteVarInt(int64(id))
	dst.WriteAll(payload)
	return dst
}

// ParseFrame parses the frame at the start of p. The returned payload aliases
// p.
//
// Parameters:
//   - p: Received bytes, starting at a frame boundary
//   - maxPayload: Largest accepted payload length; zero or less means no limit
//
// Returns:
//   - The frame
//   - The number of bytes of p it occupies
//   - ErrIncompleteFrame if p holds only part of the frame, or a wrapped
//     ErrFrameTooLarge, ErrInvalidPacketID or packetbuf.ErrVarIntTooLong
func ParseFrame(p []byte, maxPayload int) (Frame, int, error) {
	length, n, err := packetbuf.ReadVarIntFrom(p)
	if err != nil {
		return Frame{}, 0, frameVarIntError(err, "length")
	}

	if length < 0 || (maxPayload > 0 && length > int64(maxPayload)) {
		return Frame{}, 0, errors.Wrapf(ErrFrameTooLarge, "declared length %d", length)
	}

	id, m, err := packetbuf.ReadVarIntFrom(p[n:])
	if err != nil {
		return Frame{}, 0, frameVarIntError(err, "packet id")
	}

	if id < 0 || id > math.MaxUint32 {
		return Frame{}, 0, errors.Wrapf(ErrInvalidPacketID, "id %d", id)
	}

	header := n + m
	if int64(len(p)-header) < length {
		return Frame{}, 0, ErrIncompleteFrame
	}

	end := header + int(length)
	return Frame{ID: uint32(id), Payload: p[header:end:end]}, end, nil
}

func frameVarIntError(err error, field string) error {
	if errors.Is(err, packetbuf.ErrOutOfBounds) {
		return ErrIncompleteFrame
	}

	return errors.Wrapf(err, "read frame %s", field)
}

// DecodeFrame decodes frame's payload with proto under meta built from the
// frame id, phase and direction.
func DecodeFrame[P Phase, T Packet[P]](proto Protocol[P, T], frame Frame, phase P, direction Direction) (T, error) {
	meta := Metadata[P]{ID: frame.ID, Phase: phase, Direction: direction}
	return proto.Decode(packetbuf.FromBytes(frame.Payload), meta)
}
