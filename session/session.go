// Package session holds the per-connection protocol and I/O state shared by
// the server and client engines.
//
// A Session is driven by exactly one reactor goroutine through HandleReadable,
// HandleWritable and Terminate. Everything else reaches it through the Handle
// interface, whose methods take the session lock for the duration of one
// operation and never across a socket call.
package session

import (
	"io"
	"net"
	"sync"

	"github.com/go-faster/errors"

	"github.com/cyberinferno/dragonet/netpoll"
	"github.com/cyberinferno/dragonet/packetbuf"
	"github.com/cyberinferno/dragonet/protocol"
)

var (
	// ErrPeerClosed means the peer shut down its side of the connection.
	ErrPeerClosed = errors.New("peer closed connection")

	// ErrSessionClosed is returned by handle operations on a session that has
	// been closed or asked to close.
	ErrSessionClosed = errors.New("session closed")

	// ErrClosedLocally is returned by HandleWritable once a close requested
	// through the handle has flushed every queued packet.
	ErrClosedLocally = errors.New("session closed by handle")

	// ErrEngineStopped is the close reason given to sessions that are torn
	// down because their engine stopped.
	ErrEngineStopped = errors.New("engine stopped")
)

const (
	// DefaultReadBufferSize is the initial size of the receive scratch buffer.
	DefaultReadBufferSize = 4096

	// DefaultMaxFrameSize is the largest payload accepted from a peer.
	DefaultMaxFrameSize = 2 << 20

	// maxReadChunk caps a single read, which bounds how far the inbound
	// buffer can run ahead of the frame size check.
	maxReadChunk = 64 << 10

	// retainedInboundSize is the largest inbound capacity kept once the
	// buffer is empty.
	retainedInboundSize = 64 << 10
)

// ConnectionID identifies a connection within one engine.
type ConnectionID uint64

// Stream is the non-blocking socket under a session. Read returns zero bytes
// and a nil error when the peer closed, and a would-block error when no data
// is available.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Handle is the synchronized view of a session given to callbacks. It may be
// used from any goroutine.
type Handle[P protocol.Phase, T protocol.Packet[P]] interface {
	// ID returns the connection identifier.
	ID() ConnectionID

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr

	// Direction returns the direction of the packets this session decodes.
	Direction() protocol.Direction

	// SetPhase sets the phase used to decode the next inbound frame.
	SetPhase(phase P)

	// Phase returns the current phase and whether one was set.
	Phase() (P, bool)

	// Enqueue appends pkt to the outbound queue and wakes the reactor.
	Enqueue(pkt T) error

	// Send is an alias of Enqueue.
	Send(pkt T) error

	// QueueLen returns the number of packets waiting to be written.
	QueueLen() int

	// Close asks the reactor to close the connection once the queue drains.
	Close()

	// Closed reports whether the session has been closed or asked to close.
	Closed() bool
}

// Options configures a Session.
type Options struct {
	// RemoteAddr is reported by Handle.RemoteAddr.
	RemoteAddr net.Addr

	// Direction is the direction of the packets this session decodes:
	// Serverbound on a server, Clientbound on a client.
	Direction protocol.Direction

	// ReadBufferSize is the initial receive scratch size. Zero means
	// DefaultReadBufferSize.
	ReadBufferSize int

	// MaxFrameSize bounds the declared payload length. Zero means
	// DefaultMaxFrameSize; negative disables the limit.
	MaxFrameSize int

	// Notify is called, outside the session lock, whenever the session has
	// new output or a close request for the reactor.
	Notify func(id ConnectionID)
}

// IOStats counts what one HandleReadable or HandleWritable call moved.
type IOStats struct {
	Bytes   int
	Packets int
}

// Session is one live connection.
type Session[P protocol.Phase, T protocol.Packet[P]] struct {
	id        ConnectionID
	stream    Stream
	proto     protocol.Protocol[P, T]
	remote    net.Addr
	direction protocol.Direction
	maxChunk  int
	maxFrame  int
	notify    func(ConnectionID)

	mu             sync.Mutex
	phase          P
	phaseSet       bool
	queue          []T
	closeRequested bool
	closed         bool

	// Reactor-only state.
	scratch *packetbuf.Buffer
	inbound []byte
	pending []byte
}

// New creates a session with no phase and an empty queue.
//
// Parameters:
//   - id: The connection identifier
//   - stream: The connected, non-blocking socket
//   - proto: The protocol used to decode inbound frames
//   - opts: Addresses, sizes and the reactor notification hook
//
// Returns:
//   - The new session
func New[P protocol.Phase, T protocol.Packet[P]](id ConnectionID, stream Stream, proto protocol.Protocol[P, T], opts Options) *Session[P, T] {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}

	if opts.MaxFrameSize == 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}

	scratch := packetbuf.WithCapacity(opts.ReadBufferSize)
	scratch.Resize(opts.ReadBufferSize)

	return &Session[P, T]{
		id:        id,
		stream:    stream,
		proto:     proto,
		remote:    opts.RemoteAddr,
		direction: opts.Direction,
		maxChunk:  max(opts.ReadBufferSize, maxReadChunk),
		maxFrame:  opts.MaxFrameSize,
		notify:    opts.Notify,
		scratch:   scratch,
	}
}

// ID returns the id assigned by the engine.
func (s *Session[P, T]) ID() ConnectionID {
	return s.id
}

// RemoteAddr returns the peer address.
func (s *Session[P, T]) RemoteAddr() net.Addr {
	return s.remote
}

// Direction returns the direction of the packets this session decodes.
func (s *Session[P, T]) Direction() protocol.Direction {
	return s.direction
}

// SetPhase selects the phase used to decode the next frame.
func (s *Session[P, T]) SetPhase(phase P) {
	s.mu.Lock()
	s.phase = phase
	s.phaseSet = true
	s.mu.Unlock()
}

// Phase returns the current phase and whether one was set.
func (s *Session[P, T]) Phase() (P, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.phase, s.phaseSet
}

// Enqueue appends pkt to the outbound queue. Packets are never dropped: the
// queue grows until the reactor drains it.
//
// Parameters:
//   - pkt: The packet to send
//
// Returns:
//   - ErrSessionClosed if the session is closed or closing
func (s *Session[P, T]) Enqueue(pkt T) error {
	s.mu.Lock()
	if s.closed || s.closeRequested {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.queue = append(s.queue, pkt)
	s.mu.Unlock()

	s.wake()
	return nil
}

// Send is Enqueue.
func (s *Session[P, T]) Send(pkt T) error {
	return s.Enqueue(pkt)
}

// QueueLen returns the number of packets not yet encoded for writing.
func (s *Session[P, T]) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

// Close requests a graceful close. Packets already queued are still written.
func (s *Session[P, T]) Close() {
	s.mu.Lock()
	if s.closed || s.closeRequested {
		s.mu.Unlock()
		return
	}
	s.closeRequested = true
	s.mu.Unlock()

	s.wake()
}

// Closed reports whether Close was requested or the session was terminated.
func (s *Session[P, T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed || s.closeRequested
}

// Terminate closes the socket and drops everything still queued. It is called
// by the reactor after deregistering the connection and is safe to call more
// than once.
func (s *Session[P, T]) Terminate() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	s.pending = nil
	s.inbound = nil
	return s.stream.Close()
}

// HandleReadable reads until the socket would block, decoding and
// dispatching every complete frame in arrival order after each read. A
// trailing partial frame is kept for the next call. The phase is looked up
// per frame, so dispatch may change how the following frame decodes. Frame
// headers are checked against MaxFrameSize as soon as they arrive, so an
// oversized frame fails before its payload is buffered.
//
// Parameters:
//   - dispatch: Called synchronously with each decoded packet
//
// Returns:
//   - What was read and dispatched
//   - nil to keep the connection, ErrPeerClosed on orderly shutdown, or the
//     I/O or protocol error that should close it
func (s *Session[P, T]) HandleReadable(dispatch func(T)) (IOStats, error) {
	var stats IOStats

	for {
		n, done, readErr := s.read()
		stats.Bytes += n

		packets, err := s.dispatchFrames(dispatch)
		stats.Packets += packets
		if err != nil {
			return stats, err
		}

		if done {
			return stats, readErr
		}
	}
}

// read appends one chunk from the socket to the inbound buffer. The chunk
// size doubles while reads fill it, up to maxReadChunk. The bool reports that
// the socket would block or failed.
func (s *Session[P, T]) read() (int, bool, error) {
	for {
		chunk := s.scratch.Bytes()
		n, err := s.stream.Read(chunk)
		if err != nil {
			if netpoll.IsInterrupted(err) {
				continue
			}

			if netpoll.IsWouldBlock(err) {
				return 0, true, nil
			}

			return 0, true, errors.Wrap(err, "read")
		}

		if n == 0 {
			return 0, true, ErrPeerClosed
		}

		s.inbound = append(s.inbound, chunk[:n]...)
		if n == len(chunk) && len(chunk) < s.maxChunk {
			s.scratch.Resize(min(2*len(chunk), s.maxChunk))
		}

		return n, false, nil
	}
}

func (s *Session[P, T]) dispatchFrames(dispatch func(T)) (int, error) {
	packets := 0
	offset := 0
	defer func() {
		n := copy(s.inbound, s.inbound[offset:])
		s.inbound = s.inbound[:n]
		if n == 0 && cap(s.inbound) > retainedInboundSize {
			s.inbound = nil
		}
	}()

	for offset < len(s.inbound) {
		frame, n, err := protocol.ParseFrame(s.inbound[offset:], s.maxFrame)
		if errors.Is(err, protocol.ErrIncompleteFrame) {
			return packets, nil
		}

		if err != nil {
			return packets, err
		}

		offset += n

		phase, ok := s.Phase()
		if !ok {
			return packets, errors.Wrapf(protocol.ErrPhaseNotSet, "packet id %#x", frame.ID)
		}

		pkt, err := protocol.DecodeFrame(s.proto, frame, phase, s.direction)
		if err != nil {
			return packets, errors.Wrap(err, "decode packet")
		}

		packets++
		dispatch(pkt)
	}

	return packets, nil
}

// HandleWritable writes queued packets in FIFO order until the queue is empty
// or the socket would block. A frame cut short by a full socket is resumed
// from where it stopped before the next packet is dequeued.
//
// Returns:
//   - What was written; Packets counts fully written frames
//   - nil to keep the connection, ErrClosedLocally once a requested close has
//     drained the queue, or the I/O error that should close it
func (s *Session[P, T]) HandleWritable() (IOStats, error) {
	var stats IOStats

	for {
		if len(s.pending) == 0 {
			pkt, ok := s.dequeue()
			if !ok {
				break
			}

			s.pending = protocol.EncodeFrame[P](pkt).Bytes()
		}

		n, err := s.stream.Write(s.pending)
		stats.Bytes += n
		s.pending = s.pending[n:]
		if err != nil {
			if netpoll.IsInterrupted(err) {
				continue
			}

			if netpoll.IsWouldBlock(err) {
				return stats, nil
			}

			return stats, errors.Wrap(err, "write")
		}

		if len(s.pending) == 0 {
			stats.Packets++
		} else if n == 0 {
			return stats, errors.Wrap(io.ErrShortWrite, "write")
		}
	}

	if s.drainedClose() {
		return stats, ErrClosedLocally
	}

	return stats, nil
}

func (s *Session[P, T]) dequeue() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if len(s.queue) == 0 {
		return zero, false
	}

	pkt := s.queue[0]
	s.queue[0] = zero
	s.queue = s.queue[1:]
	return pkt, true
}

func (s *Session[P, T]) drainedClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeRequested && len(s.queue) == 0 && len(s.pending) == 0
}

// HasOutput reports whether a flush would have anything to do: queued
// packets, an unfinished frame or a pending close.
func (s *Session[P, T]) HasOutput() bool {
	if len(s.pending) > 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue) > 0 || s.closeRequested
}

func (s *Session[P, T]) wake() {
	if s.notify != nil {
		s.notify(s.id)
	}
}
