// Package tcpclient is the client role of the engine: one reactor goroutine
// drives a single non-blocking connection, dispatching decoded packets to
// callbacks and flushing the outbound queue.
package tcpclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/cyberinferno/dragonet/idgenerator"
	"github.com/cyberinferno/dragonet/logger"
	"github.com/cyberinferno/dragonet/metrics"
	"github.com/cyberinferno/dragonet/netpoll"
	"github.com/cyberinferno/dragonet/protocol"
	"github.com/cyberinferno/dragonet/session"
)

var (
	// ErrNoAddress is returned by Run when no target address is set.
	ErrNoAddress = errors.New("no target address configured")

	// ErrAlreadyStarted is returned by Run on a client that already ran.
	ErrAlreadyStarted = errors.New("client already started")

	// ErrConnectTimeout is returned when the connection is not established
	// within Config.ConnectTimeout.
	ErrConnectTimeout = errors.New("connect timed out")
)

// State is the client lifecycle stage.
type State int32

const (
	Unconfigured State = iota // Not started
	Connecting                // Socket created, connect in progress
	Registered                // Socket registered with the poller
	Running                   // Reactor loop running
	Stopped                   // Connection closed; the client cannot be reused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Unconfigured:
		return "Unconfigured"
	case Connecting:
		return "Connecting"
	case Registered:
		return "Registered"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// StateEvent is emitted when the client changes state.
type StateEvent struct {
	State     State     // The new state
	Address   string    // The target address
	Timestamp time.Time // When the change happened
	Error     error     // Non-nil if the change was caused by an error
}

// StateFunc is called synchronously on every state change.
type StateFunc func(event StateEvent)

// ConnectFunc runs once, after the socket is registered and before the loop
// starts.
type ConnectFunc[P protocol.Phase, T protocol.Packet[P]] func(conn session.Handle[P, T])

// PacketFunc runs for every decoded packet.
type PacketFunc[P protocol.Phase, T protocol.Packet[P]] func(conn session.Handle[P, T], pkt T)

// DisconnectFunc runs once the connection is gone. reason is the error that
// ended it.
type DisconnectFunc[P protocol.Phase, T protocol.Packet[P]] func(conn session.Handle[P, T], reason error)

// Client connects to one server and drives the session from its Run
// goroutine. Callbacks run on that goroutine in registration order and must
// be registered before Run.
type Client[P protocol.Phase, T protocol.Packet[P]] struct {
	proto   protocol.Protocol[P, T]
	config  Config
	log     logger.Logger
	metrics *metrics.Metrics
	id      uuid.UUID
	ids     *idgenerator.IdGenerator

	mu       sync.Mutex
	state    State
	poller   *netpoll.Poller
	conn     *netpoll.Conn
	sess     *session.Session[P, T]
	stopping atomic.Bool
	dirty    atomic.Bool
	done     chan struct{}

	// established is only touched by the reactor goroutine.
	established bool

	onState      []StateFunc
	onConnect    []ConnectFunc[P, T]
	onPacket     []PacketFunc[P, T]
	onDisconnect []DisconnectFunc[P, T]
}

// New creates a client in the Unconfigured state.
//
// Parameters:
//   - proto: The protocol used to decode clientbound packets
//   - config: Client settings (e.g. from DefaultClientConfig)
//   - log: The logger; nil discards logs
//
// Returns:
//   - A new Client
func New[P protocol.Phase, T protocol.Packet[P]](proto protocol.Protocol[P, T], config Config, log logger.Logger) *Client[P, T] {
	if log == nil {
		log = logger.NewNopLogger()
	}

	config = config.withDefaults()
	id := uuid.New()

	return &Client[P, T]{
		proto:  proto,
		config: config,
		id:     id,
		ids:    idgenerator.NewIdGenerator(netpoll.ListenerToken),
		log: log.With(
			logger.Field{Key: "engine", Value: config.Name},
			logger.Field{Key: "engine_id", Value: id.String()},
		),
		done: make(chan struct{}),
	}
}

// WithAddress sets the target address.
func (c *Client[P, T]) WithAddress(address string) *Client[P, T] {
	c.mu.Lock()
	c.config.Address = address
	c.mu.Unlock()
	return c
}

// WithMetrics records client activity into m.
func (c *Client[P, T]) WithMetrics(m *metrics.Metrics) *Client[P, T] {
	c.metrics = m
	return c
}

// WithStateEvent registers a state change callback.
func (c *Client[P, T]) WithStateEvent(fn StateFunc) *Client[P, T] {
	c.onState = append(c.onState, fn)
	return c
}

// OnConnect registers a connect-established callback.
func (c *Client[P, T]) OnConnect(fn ConnectFunc[P, T]) *Client[P, T] {
	c.onConnect = append(c.onConnect, fn)
	return c
}

// WithPacketEvent registers a packet callback.
func (c *Client[P, T]) WithPacketEvent(fn PacketFunc[P, T]) *Client[P, T] {
	c.onPacket = append(c.onPacket, fn)
	return c
}

// WithDisconnectEvent registers a disconnect callback.
func (c *Client[P, T]) WithDisconnectEvent(fn DisconnectFunc[P, T]) *Client[P, T] {
	c.onDisconnect = append(c.onDisconnect, fn)
	return c
}

// ID returns the engine instance identifier used in logs.
func (c *Client[P, T]) ID() uuid.UUID {
	return c.id
}

// State returns the lifecycle stage.
func (c *Client[P, T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Handle returns the session handle once the socket is registered.
func (c *Client[P, T]) Handle() (session.Handle[P, T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return nil, false
	}

	return c.sess, true
}

// Done is closed once the client has stopped.
func (c *Client[P, T]) Done() <-chan struct{} {
	return c.done
}

// Run connects, fires the connect callbacks and runs the reactor loop until
// the connection ends, Stop is called or ctx is cancelled.
//
// Parameters:
//   - ctx: Cancelling it stops the client
//
// Returns:
//   - nil when the connection ended gracefully (peer close, Stop, or a close
//     requested through the handle); ErrNoAddress or ErrAlreadyStarted
//     before connecting; otherwise the error that ended the connection
func (c *Client[P, T]) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Unconfigured {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}

	if c.config.Address == "" {
		c.mu.Unlock()
		c.log.Error("client failed to start", logger.Err(ErrNoAddress))
		return ErrNoAddress
	}

	if err := c.open(); err != nil {
		c.state = Stopped
		close(c.done)
		c.mu.Unlock()
		c.emitState(Stopped, err)
		c.log.Error("client failed to connect", logger.Err(err))
		return err
	}
	c.mu.Unlock()
	c.emitState(Connecting, nil)

	stop := context.AfterFunc(ctx, c.Stop)
	defer stop()

	reason := c.register()
	if reason == nil {
		reason = c.loop()
	}

	c.shutdown(reason)
	if session.IsGraceful(reason) {
		return nil
	}

	return reason
}

// Stop asks the client to close the connection and return from Run. It is
// safe to call more than once and from any goroutine.
func (c *Client[P, T]) Stop() {
	if !c.stopping.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Unconfigured:
		c.state = Stopped
		close(c.done)
	case Stopped:
	default:
		_ = c.poller.Wake()
	}
}

// open creates the poller and starts the non-blocking connect. The caller
// holds c.mu.
func (c *Client[P, T]) open() error {
	poller, err := netpoll.NewPoller(16)
	if err != nil {
		return errors.Wrap(err, "create poller")
	}

	conn, err := netpoll.Dial(c.config.Address)
	if err != nil {
		_ = poller.Close()
		return errors.Wrapf(err, "dial %s", c.config.Address)
	}

	c.poller = poller
	c.conn = conn
	c.state = Connecting
	return nil
}

func (c *Client[P, T]) register() error {
	id := session.ConnectionID(c.ids.Id())
	if err := c.poller.Register(c.conn.Fd(), uint64(id), netpoll.Readable|netpoll.Writable); err != nil {
		return errors.Wrap(err, "register connection")
	}

	sess := session.New[P, T](id, c.conn, c.proto, session.Options{
		RemoteAddr:     c.conn.RemoteAddr(),
		Direction:      protocol.Clientbound,
		ReadBufferSize: c.config.ReadBufferSize,
		MaxFrameSize:   c.config.MaxFrameSize,
		Notify:         c.markDirty,
	})

	c.mu.Lock()
	c.sess = sess
	c.state = Registered
	c.mu.Unlock()
	c.emitState(Registered, nil)

	for _, fn := range c.onConnect {
		fn(sess)
	}

	c.mu.Lock()
	c.state = Running
	c.mu.Unlock()
	c.emitState(Running, nil)

	return nil
}

func (c *Client[P, T]) loop() error {
	var (
		events    = make([]netpoll.Event, 0, 16)
		token     = uint64(c.sess.ID())
		connected = false
		deadline  time.Time
	)

	if c.config.ConnectTimeout > 0 {
		deadline = time.Now().Add(c.config.ConnectTimeout)
	}

	for !c.stopping.Load() {
		timeout := time.Duration(-1)
		if !connected && !deadline.IsZero() {
			timeout = time.Until(deadline)
			if timeout <= 0 {
				return ErrConnectTimeout
			}
		}

		var err error
		events, err = c.poller.Wait(events, timeout)
		if err != nil {
			if c.stopping.Load() {
				break
			}

			return errors.Wrap(err, "wait for readiness")
		}

		for _, ev := range events {
			if ev.Token != token {
				continue
			}

			if !connected && (ev.Writable || ev.Closed) {
				if err := c.conn.ConnectError(); err != nil {
					return errors.Wrapf(err, "connect %s", c.config.Address)
				}

				connected = true
				c.established = true
				c.metrics.ConnectionOpened()
				c.log.Info("client connected", logger.Field{Key: "remote", Value: c.conn.RemoteAddr().String()})
			}

			if ev.Readable || ev.Closed {
				stats, err := c.sess.HandleReadable(c.dispatch)
				c.metrics.Received(stats.Bytes, stats.Packets)
				if err != nil {
					return err
				}
			}

			if ev.Writable && c.sess.HasOutput() {
				if err := c.flush(); err != nil {
					return err
				}
			}
		}

		if connected && c.dirty.CompareAndSwap(true, false) {
			if err := c.flush(); err != nil {
				return err
			}
		}
	}

	return session.ErrEngineStopped
}

func (c *Client[P, T]) dispatch(pkt T) {
	for _, fn := range c.onPacket {
		fn(c.sess, pkt)
	}
}

func (c *Client[P, T]) flush() error {
	stats, err := c.sess.HandleWritable()
	c.metrics.Sent(stats.Bytes, stats.Packets)
	return err
}

func (c *Client[P, T]) shutdown(reason error) {
	c.mu.Lock()
	sess := c.sess
	if err := c.poller.Deregister(c.conn.Fd()); err != nil {
		c.log.Debug("deregister failed", logger.Err(err))
	}

	if sess != nil {
		_ = sess.Terminate()
	} else {
		_ = c.conn.Close()
	}

	_ = c.poller.Close()
	c.state = Stopped
	c.mu.Unlock()

	label := session.CloseReason(reason)
	if c.established {
		c.metrics.ConnectionClosed(label)
	}

	if session.IsGraceful(reason) {
		c.log.Info("client stopped", logger.Field{Key: "reason", Value: label})
	} else {
		c.metrics.ConnectionError(label)
		c.log.Warn("client stopped", logger.Field{Key: "reason", Value: label}, logger.Err(reason))
	}

	if sess != nil {
		for _, fn := range c.onDisconnect {
			fn(sess, reason)
		}
	}

	c.emitState(Stopped, reason)
	close(c.done)
}

func (c *Client[P, T]) markDirty(session.ConnectionID) {
	if c.dirty.CompareAndSwap(false, true) {
		if err := c.poller.Wake(); err != nil && !errors.Is(err, netpoll.ErrClosed) {
			c.log.Warn("failed to wake reactor", logger.Err(err))
		}
	}
}

func (c *Client[P, T]) emitState(state State, err error) {
	event := StateEvent{
		State:     state,
		Address:   c.config.Address,
		Timestamp: time.Now(),
		Error:     err,
	}

	for _, fn := range c.onState {
		fn(event)
	}
}
