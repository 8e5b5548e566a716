// Package netpoll is the readiness facility behind the engines: an
// edge-triggered poller with a cross-goroutine waker, and non-blocking TCP
// listener and connection sockets registered with it.
//
// Only linux is implemented. On other platforms the constructors return
// ErrUnsupported.
package netpoll

import (
	"math"
	"syscall"

	"github.com/go-faster/errors"
)

// ErrUnsupported is returned by the constructors on platforms without a poller
// implementation.
var ErrUnsupported = errors.New("netpoll: platform not supported")

// ErrClosed is returned by operations on a closed poller or socket.
var ErrClosed = errors.New("netpoll: use of closed descriptor")

// Interest selects the readiness kinds a registration reports.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Writable
)

const (
	// ListenerToken is reserved for the server's listening socket.
	ListenerToken uint64 = 0

	// WakerToken identifies wake-ups requested through Poller.Wake.
	WakerToken uint64 = math.MaxUint64
)

// Event is one readiness notification.
type Event struct {
	Token    uint64
	Readable bool
	Writable bool
	// Closed reports a hang-up or socket error. A read or write on the socket
	// will surface the cause.
	Closed bool
}

// IsWouldBlock reports whether err means the operation cannot proceed without
// blocking.
func IsWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// IsInterrupted reports whether err means the call was interrupted and should
// be retried.
func IsInterrupted(err error) bool {
	return errors.Is(err, syscall.EINTR)
}
