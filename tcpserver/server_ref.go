package tcpserver

import (
	"net"

	"github.com/cyberinferno/dragonet/netpoll"
	"github.com/cyberinferno/dragonet/protocol"
	"github.com/cyberinferno/dragonet/session"
)

// connection pairs a session with the socket the reactor registered.
type connection[P protocol.Phase, T protocol.Packet[P]] struct {
	*session.Session[P, T]
	conn *netpoll.Conn
}

// ServerRef is the server-level handle given to startup callbacks. It may be
// kept and used from any goroutine.
type ServerRef[P protocol.Phase, T protocol.Packet[P]] struct {
	server *Server[P, T]
}

// Addr returns the bound address.
func (r *ServerRef[P, T]) Addr() net.Addr {
	return r.server.Addr()
}

// ConnectionCount returns the number of live connections.
func (r *ServerRef[P, T]) ConnectionCount() int {
	return r.server.sessions.Len()
}

// Connections returns a snapshot of the live connections.
func (r *ServerRef[P, T]) Connections() []session.Handle[P, T] {
	conns := r.server.sessions.Values()
	handles := make([]session.Handle[P, T], 0, len(conns))
	for _, c := range conns {
		handles = append(handles, c.Session)
	}

	return handles
}

// Connection returns the live connection with the given id.
func (r *ServerRef[P, T]) Connection(id session.ConnectionID) (session.Handle[P, T], bool) {
	c, ok := r.server.sessions.Load(id)
	if !ok {
		return nil, false
	}

	return c.Session, true
}

// Broadcast queues pkt on every live connection.
//
// Parameters:
//   - pkt: The packet to send
//
// Returns:
//   - The number of connections the packet was queued on
func (r *ServerRef[P, T]) Broadcast(pkt T) int {
	return r.BroadcastFunc(nil, pkt)
}

// BroadcastFunc queues pkt on every live connection accepted by filter. A nil
// filter accepts all connections.
//
// Parameters:
//   - filter: Selects the receiving connections
//   - pkt: The packet to send
//
// Returns:
//   - The number of connections the packet was queued on
func (r *ServerRef[P, T]) BroadcastFunc(filter func(session.Handle[P, T]) bool, pkt T) int {
	sent := 0
	r.server.sessions.Range(func(_ session.ConnectionID, c *connection[P, T]) bool {
		if filter != nil && !filter(c.Session) {
			return true
		}

		if c.Enqueue(pkt) == nil {
			sent++
		}

		return true
	})

	return sent
}

// RemoveConnection closes a connection; see Server.RemoveConnection.
func (r *ServerRef[P, T]) RemoveConnection(id session.ConnectionID) bool {
	return r.server.RemoveConnection(id)
}

// Stop stops the server; see Server.Stop.
func (r *ServerRef[P, T]) Stop() {
	r.server.Stop()
}
