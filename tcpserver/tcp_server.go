// Package tcpserver is the server role of the engine: one reactor goroutine
// accepts connections, reads and decodes frames, dispatches packets to
// callbacks and flushes outbound queues, all over non-blocking sockets.
package tcpserver

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/cyberinferno/dragonet/idgenerator"
	"github.com/cyberinferno/dragonet/logger"
	"github.com/cyberinferno/dragonet/metrics"
	"github.com/cyberinferno/dragonet/netpoll"
	"github.com/cyberinferno/dragonet/protocol"
	"github.com/cyberinferno/dragonet/registry"
	"github.com/cyberinferno/dragonet/safeset"
	"github.com/cyberinferno/dragonet/session"
)

var (
	// ErrNoAddress is returned when the server is bound or run without a
	// listen address.
	ErrNoAddress = errors.New("no listen address configured")

	// ErrAlreadyBound is returned by Bind on a bound or running server.
	ErrAlreadyBound = errors.New("server already bound")

	// ErrAlreadyRunning is returned by Run while the loop is already running.
	ErrAlreadyRunning = errors.New("server already running")

	// ErrServerStopped is returned by Bind and Run once the server stopped.
	ErrServerStopped = errors.New("server stopped")
)

// State is the server lifecycle stage.
type State int32

const (
	Unbound State = iota
	Bound
	Running
	Stopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Unbound:
		return "Unbound"
	case Bound:
		return "Bound"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// StartupFunc runs once after the listener is registered and before the loop
// starts.
type StartupFunc[P protocol.Phase, T protocol.Packet[P]] func(ref *ServerRef[P, T])

// ConnectionFunc runs when a connection is accepted.
type ConnectionFunc[P protocol.Phase, T protocol.Packet[P]] func(conn session.Handle[P, T])

// PacketFunc runs for every decoded packet.
type PacketFunc[P protocol.Phase, T protocol.Packet[P]] func(conn session.Handle[P, T], pkt T)

// DisconnectFunc runs after a connection was removed. reason is the error
// that ended it.
type DisconnectFunc[P protocol.Phase, T protocol.Packet[P]] func(conn session.Handle[P, T], reason error)

// Server accepts connections and drives their sessions from a single reactor
// goroutine. Callbacks run on that goroutine in registration order and may
// hand their session.Handle to other goroutines. Callbacks must be registered
// before Run.
type Server[P protocol.Phase, T protocol.Packet[P]] struct {
	proto   protocol.Protocol[P, T]
	config  Config
	log     logger.Logger
	metrics *metrics.Metrics
	id      uuid.UUID

	mu       sync.Mutex
	state    State
	listener *netpoll.Listener
	poller   *netpoll.Poller
	stopping atomic.Bool
	done     chan struct{}

	sessions *registry.Registry[session.ConnectionID, *connection[P, T]]
	dirty    *safeset.SafeSet[session.ConnectionID]
	removals *safeset.SafeSet[session.ConnectionID]
	ids      *idgenerator.IdGenerator

	onStartup    []StartupFunc[P, T]
	onConnect    []ConnectionFunc[P, T]
	onPacket     []PacketFunc[P, T]
	onDisconnect []DisconnectFunc[P, T]
}

// New creates an unbound server.
//
// Parameters:
//   - proto: The protocol used to decode serverbound packets
//   - config: Server settings; zero sizes take their defaults
//   - log: The logger; nil discards logs
//
// Returns:
//   - A new Server in the Unbound state
func New[P protocol.Phase, T protocol.Packet[P]](proto protocol.Protocol[P, T], config Config, log logger.Logger) *Server[P, T] {
	if log == nil {
		log = logger.NewNopLogger()
	}

	config = config.withDefaults()
	id := uuid.New()

	return &Server[P, T]{
		proto:  proto,
		config: config,
		id:     id,
		log: log.With(
			logger.Field{Key: "engine", Value: config.Name},
			logger.Field{Key: "engine_id", Value: id.String()},
		),
		done:     make(chan struct{}),
		sessions: registry.New[session.ConnectionID, *connection[P, T]](),
		dirty:    safeset.NewSafeSet[session.ConnectionID](),
		removals: safeset.NewSafeSet[session.ConnectionID](),
		ids:      idgenerator.NewIdGenerator(netpoll.ListenerToken),
	}
}

// WithAddress sets the listen address.
func (s *Server[P, T]) WithAddress(address string) *Server[P, T] {
	s.mu.Lock()
	s.config.Address = address
	s.mu.Unlock()
	return s
}

// WithMetrics records engine activity into m.
func (s *Server[P, T]) WithMetrics(m *metrics.Metrics) *Server[P, T] {
	s.metrics = m
	return s
}

// WithStartupEvent registers a startup callback.
func (s *Server[P, T]) WithStartupEvent(fn StartupFunc[P, T]) *Server[P, T] {
	s.onStartup = append(s.onStartup, fn)
	return s
}

// WithConnectionEvent registers a connection-established callback.
func (s *Server[P, T]) WithConnectionEvent(fn ConnectionFunc[P, T]) *Server[P, T] {
	s.onConnect = append(s.onConnect, fn)
	return s
}

// WithPacketEvent registers a packet callback.
func (s *Server[P, T]) WithPacketEvent(fn PacketFunc[P, T]) *Server[P, T] {
	s.onPacket = append(s.onPacket, fn)
	return s
}

// WithDisconnectEvent registers a disconnect callback.
func (s *Server[P, T]) WithDisconnectEvent(fn DisconnectFunc[P, T]) *Server[P, T] {
	s.onDisconnect = append(s.onDisconnect, fn)
	return s
}

// ID returns the engine instance identifier used in logs.
func (s *Server[P, T]) ID() uuid.UUID {
	return s.id
}

// State returns the lifecycle stage.
func (s *Server[P, T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Addr returns the bound address, or nil before Bind.
func (s *Server[P, T]) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Done is closed once the server has stopped and released its sockets.
func (s *Server[P, T]) Done() <-chan struct{} {
	return s.done
}

// Ref returns the server-level handle given to startup callbacks.
func (s *Server[P, T]) Ref() *ServerRef[P, T] {
	return &ServerRef[P, T]{server: s}
}

// Bind opens the listening socket and the poller.
//
// Returns:
//   - ErrNoAddress if no address is set, ErrAlreadyBound or ErrServerStopped
//     in the wrong state, or the socket error
func (s *Server[P, T]) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.bindLocked()
}

func (s *Server[P, T]) bindLocked() error {
	switch s.state {
	case Bound, Running:
		return ErrAlreadyBound
	case Stopped:
		return ErrServerStopped
	}

	if s.config.Address == "" {
		return ErrNoAddress
	}

	ln, err := netpoll.Listen(s.config.Address, s.config.Backlog)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.config.Address)
	}

	poller, err := netpoll.NewPoller(s.config.EventCapacity)
	if err != nil {
		_ = ln.Close()
		return errors.Wrap(err, "create poller")
	}

	if err := poller.Register(ln.Fd(), netpoll.ListenerToken, netpoll.Readable); err != nil {
		_ = poller.Close()
		_ = ln.Close()
		return errors.Wrap(err, "register listener")
	}

	s.listener = ln
	s.poller = poller
	s.state = Bound
	s.log.Info("server bound", logger.Field{Key: "addr", Value: ln.Addr().String()})

	return nil
}

// Run binds if needed, fires the startup callbacks and runs the reactor loop
// until Stop is called or ctx is cancelled.
//
// Parameters:
//   - ctx: Cancelling it stops the server
//
// Returns:
//   - nil after a requested stop, a configuration error before the loop, or
//     the poller failure that ended the loop
func (s *Server[P, T]) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Unbound {
		if err := s.bindLocked(); err != nil {
			s.mu.Unlock()
			s.log.Error("server failed to start", logger.Err(err))
			return err
		}
	}

	switch s.state {
	case Running:
		s.mu.Unlock()
		return ErrAlreadyRunning
	case Stopped:
		s.mu.Unlock()
		return ErrServerStopped
	}

	s.state = Running
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, s.Stop)
	defer stop()

	s.log.Info("server running", logger.Field{Key: "addr", Value: s.listener.Addr().String()})

	ref := s.Ref()
	for _, fn := range s.onStartup {
		fn(ref)
	}

	err := s.loop()
	if err != nil {
		s.log.Error("server loop failed", logger.Err(err))
	}

	s.shutdown()
	return err
}

// Start binds synchronously and runs the loop in a new goroutine.
//
// Returns:
//   - The Bind error, if any
func (s *Server[P, T]) Start(ctx context.Context) error {
	if err := s.Bind(); err != nil {
		return err
	}

	go func() {
		_ = s.Run(ctx)
	}()

	return nil
}

// Stop asks the server to stop. It returns immediately; use Done to wait.
// It is safe to call more than once and from any goroutine.
func (s *Server[P, T]) Stop() {
	if !s.stopping.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Running:
		_ = s.poller.Wake()
	case Bound:
		_ = s.poller.Close()
		_ = s.listener.Close()
		s.state = Stopped
		close(s.done)
	case Unbound:
		s.state = Stopped
		close(s.done)
	}
}

// RemoveConnection closes the connection with the given id on the next loop
// iteration. Removing an unknown or already removed id is a no-op.
//
// Parameters:
//   - id: The connection to remove
//
// Returns:
//   - true if this call scheduled the removal; false for unknown ids and for
//     ids already removed or already scheduled
func (s *Server[P, T]) RemoveConnection(id session.ConnectionID) bool {
	if !s.sessions.Has(id) {
		return false
	}

	if !s.removals.Add(id) {
		return false
	}

	s.wake()
	return true
}

func (s *Server[P, T]) loop() error {
	events := make([]netpoll.Event, 0, s.config.EventCapacity)

	for !s.stopping.Load() {
		var err error
		events, err = s.poller.Wait(events, -1)
		if err != nil {
			if s.stopping.Load() {
				return nil
			}

			return errors.Wrap(err, "wait for readiness")
		}

		for _, ev := range events {
			switch ev.Token {
			case netpoll.ListenerToken:
				s.acceptAll()
			case netpoll.WakerToken:
			default:
				s.handleEvent(ev)
			}
		}

		s.processRemovals()
		s.flushDirty()
	}

	return nil
}

func (s *Server[P, T]) acceptAll() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if netpoll.IsInterrupted(err) {
				continue
			}

			if !netpoll.IsWouldBlock(err) {
				s.metrics.ConnectionError("accept")
				s.log.Error("accept failed", logger.Err(err))
			}

			return
		}

		s.register(conn)
	}
}

func (s *Server[P, T]) register(conn *netpoll.Conn) {
	id := session.ConnectionID(s.ids.Id())
	sess := session.New[P, T](id, conn, s.proto, session.Options{
		RemoteAddr:     conn.RemoteAddr(),
		Direction:      protocol.Serverbound,
		ReadBufferSize: s.config.ReadBufferSize,
		MaxFrameSize:   s.config.MaxFrameSize,
		Notify:         s.markDirty,
	})

	log := connLogger(s.log, sess)
	if err := s.poller.Register(conn.Fd(), uint64(id), netpoll.Readable|netpoll.Writable); err != nil {
		s.metrics.ConnectionError("register")
		log.Error("failed to register connection", logger.Err(err))
		_ = conn.Close()
		return
	}

	c := &connection[P, T]{Session: sess, conn: conn}
	s.sessions.Store(id, c)
	s.metrics.ConnectionOpened()
	log.Debug("connection accepted")

	for _, fn := range s.onConnect {
		fn(sess)
	}
}

func (s *Server[P, T]) handleEvent(ev netpoll.Event) {
	c, ok := s.sessions.Load(session.ConnectionID(ev.Token))
	if !ok {
		return
	}

	if ev.Readable || ev.Closed {
		stats, err := c.HandleReadable(func(pkt T) {
			for _, fn := range s.onPacket {
				fn(c.Session, pkt)
			}
		})
		s.metrics.Received(stats.Bytes, stats.Packets)
		if err != nil {
			s.closeConnection(c, err)
			return
		}
	}

	if ev.Writable && c.HasOutput() {
		s.flush(c)
	}
}

func (s *Server[P, T]) flush(c *connection[P, T]) {
	stats, err := c.HandleWritable()
	s.metrics.Sent(stats.Bytes, stats.Packets)
	if err != nil {
		s.closeConnection(c, err)
	}
}

func (s *Server[P, T]) flushDirty() {
	for _, id := range s.dirty.Drain() {
		if c, ok := s.sessions.Load(id); ok && c.HasOutput() {
			s.flush(c)
		}
	}
}

func (s *Server[P, T]) processRemovals() {
	for _, id := range s.removals.Drain() {
		if c, ok := s.sessions.Load(id); ok {
			s.closeConnection(c, session.ErrClosedLocally)
		}
	}
}

// closeConnection deregisters and drops a connection, then notifies the
// disconnect callbacks. Only the first call for a connection has any effect.
func (s *Server[P, T]) closeConnection(c *connection[P, T], reason error) {
	if _, ok := s.sessions.Remove(c.ID()); !ok {
		return
	}

	log := connLogger(s.log, c.Session)
	if err := s.poller.Deregister(c.conn.Fd()); err != nil {
		log.Debug("deregister failed", logger.Err(err))
	}

	_ = c.Terminate()
	s.dirty.Remove(c.ID())

	label := session.CloseReason(reason)
	s.metrics.ConnectionClosed(label)
	if session.IsGraceful(reason) {
		log.Debug("connection closed", logger.Field{Key: "reason", Value: label})
	} else {
		s.metrics.ConnectionError(label)
		log.Warn("connection closed", logger.Field{Key: "reason", Value: label}, logger.Err(reason))
	}

	for _, fn := range s.onDisconnect {
		fn(c.Session, reason)
	}
}

func (s *Server[P, T]) shutdown() {
	for _, c := range s.sessions.Values() {
		s.closeConnection(c, session.ErrEngineStopped)
	}

	s.mu.Lock()
	_ = s.listener.Close()
	_ = s.poller.Close()
	s.state = Stopped
	s.mu.Unlock()

	s.dirty.Reset()
	s.removals.Reset()
	close(s.done)
	s.log.Info("server stopped")
}

func (s *Server[P, T]) markDirty(id session.ConnectionID) {
	if s.dirty.Add(id) {
		s.wake()
	}
}

func (s *Server[P, T]) wake() {
	if err := s.poller.Wake(); err != nil && !errors.Is(err, netpoll.ErrClosed) {
		s.log.Warn("failed to wake reactor", logger.Err(err))
	}
}

func connLogger[P protocol.Phase, T protocol.Packet[P]](log logger.Logger, sess *session.Session[P, T]) logger.Logger {
	return log.With(
		logger.Field{Key: "conn_id", Value: uint64(sess.ID())},
		logger.Field{Key: "remote", Value: sess.RemoteAddr().String()},
	)
}
