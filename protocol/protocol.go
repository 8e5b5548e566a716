// Package protocol defines what a packet set and its phases must provide for
// the engines to decode, dispatch and frame packets without knowing them.
package protocol

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/cyberinferno/dragonet/packetbuf"
)

var (
	// ErrUnknownPacket is returned by Decode for an id that is not defined for
	// the given direction and phase.
	ErrUnknownPacket = errors.New("unknown packet")

	// ErrUnknownPhase is returned by PhaseByID for an unmapped id.
	ErrUnknownPhase = errors.New("unknown phase")

	// ErrPhaseNotSet is returned when a packet arrives on a connection whose
	// phase was never set.
	ErrPhaseNotSet = errors.New("protocol phase not set")
)

// Direction tells which side a packet travels to.
type Direction uint8

const (
	Clientbound Direction = iota // Sent by the server, decoded by the client
	Serverbound                  // Sent by the client, decoded by the server
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Clientbound:
		return "Clientbound"
	case Serverbound:
		return "Serverbound"
	default:
		return "Unknown"
	}
}

// Opposite returns the direction of the peer.
func (d Direction) Opposite() Direction {
	if d == Clientbound {
		return Serverbound
	}

	return Clientbound
}

// Phase is a protocol state such as a handshake or a main session. Any
// comparable type works; small enums are the usual choice.
type Phase interface {
	comparable
}

// Metadata is the dispatch key of a packet.
type Metadata[P Phase] struct {
	ID        uint32
	Phase     P
	Direction Direction
}

// String formats the metadata for logs and errors.
func (m Metadata[P]) String() string {
	return fmt.Sprintf("id=%#x phase=%v direction=%s", m.ID, m.Phase, m.Direction)
}

// Packet is one variant of a protocol's packet union.
type Packet[P Phase] interface {
	// Encode appends the payload, without length or id prefix, to buf.
	Encode(buf *packetbuf.Buffer)

	// Metadata returns the id, phase and direction of the packet.
	Metadata() Metadata[P]
}

// Protocol decodes payloads into packets of type T.
type Protocol[P Phase, T Packet[P]] interface {
	// Decode consumes a payload. Every (direction, phase, id) combination the
	// protocol does not define must fail with an error wrapping
	// ErrUnknownPacket.
	Decode(buf *packetbuf.Buffer, meta Metadata[P]) (T, error)

	// PhaseByID maps a small integer to a phase, failing with ErrUnknownPhase.
	PhaseByID(id uint8) (P, error)
}

// UnknownPacket returns an error wrapping ErrUnknownPacket that names meta.
func UnknownPacket[P Phase](meta Metadata[P]) error {
	return errors.Wrap(ErrUnknownPacket, meta.String())
}

// UnknownPhase returns an error wrapping ErrUnknownPhase that names id.
func UnknownPhase(id uint8) error {
	return errors.Wrapf(ErrUnknownPhase, "id %d", id)
}
