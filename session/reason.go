package session

import (
	"github.com/go-faster/errors"

	"github.com/cyberinferno/dragonet/packetbuf"
	"github.com/cyberinferno/dragonet/protocol"
)

// Close reasons reported to logs and metrics.
const (
	ReasonPeerClosed    = "peer_closed"
	ReasonLocal         = "local"
	ReasonEngineStopped = "engine_stopped"
	ReasonProtocol      = "protocol"
	ReasonIO            = "io"
)

// CloseReason maps the error that ended a session to a short label.
func CloseReason(err error) string {
	switch {
	case err == nil, errors.Is(err, ErrClosedLocally):
		return ReasonLocal
	case errors.Is(err, ErrPeerClosed):
		return ReasonPeerClosed
	case errors.Is(err, ErrEngineStopped):
		return ReasonEngineStopped
	case IsProtocolError(err):
		return ReasonProtocol
	default:
		return ReasonIO
	}
}

// IsProtocolError reports whether err comes from a peer violating the framing
// or packet contract rather than from the socket.
func IsProtocolError(err error) bool {
	return errors.Is(err, protocol.ErrPhaseNotSet) ||
		errors.Is(err, protocol.ErrUnknownPacket) ||
		errors.Is(err, protocol.ErrFrameTooLarge) ||
		errors.Is(err, protocol.ErrInvalidPacketID) ||
		errors.Is(err, packetbuf.ErrOutOfBounds) ||
		errors.Is(err, packetbuf.ErrVarIntTooLong)
}

// IsGraceful reports whether err is an expected end of a session.
func IsGraceful(err error) bool {
	switch CloseReason(err) {
	case ReasonPeerClosed, ReasonLocal, ReasonEngineStopped:
		return true
	default:
		return false
	}
}
