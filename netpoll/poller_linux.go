//go:build linux

package netpoll

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sys/unix"
)

// Poller wraps an epoll instance. Registrations are edge-triggered. Wait must
// only be called from one goroutine; Wake may be called from any.
type Poller struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
	closed atomic.Bool

	// wakeMu keeps Close from releasing the eventfd under a concurrent Wake.
	wakeMu sync.RWMutex
}

// NewPoller creates a poller that reports at most capacity events per Wait.
//
// Parameters:
//   - capacity: Size of the event batch; values below 1 become 128
//
// Returns:
//   - The poller, or an error if epoll or the eventfd waker could not be set up
func NewPoller(capacity int) (*Poller, error) {
	if capacity < 1 {
		capacity = 128
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, errors.Wrap(err, "eventfd")
	}

	p := &Poller{epfd: epfd, wakefd: wakefd, raw: make([]unix.EpollEvent, capacity)}
	ev := unix.EpollEvent{Events: unix.EPOLLIN}
	setToken(&ev, WakerToken)
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, errors.Wrap(err, "register waker")
	}

	return p, nil
}

// Register adds fd under token with edge-triggered interest.
func (p *Poller) Register(fd int, token uint64, interest Interest) error {
	if p.closed.Load() {
		return ErrClosed
	}

	ev := unix.EpollEvent{Events: unix.EPOLLET | unix.EPOLLRDHUP}
	if interest&Readable != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	setToken(&ev, token)

	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Deregister removes fd. Removing an fd that is not registered returns the
// kernel's ENOENT.
func (p *Poller) Deregister(fd int) error {
	if p.closed.Load() {
		return ErrClosed
	}

	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one event is ready, the timeout elapses, or Wake
// is called, and appends the events to dst[:0]. A negative timeout blocks
// indefinitely. An interrupted wait returns no events and no error.
func (p *Poller) Wait(dst []Event, timeout time.Duration) ([]Event, error) {
	dst = dst[:0]
	if p.closed.Load() {
		return dst, ErrClosed
	}

	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(p.epfd, p.raw, msec)
	if err != nil {
		if IsInterrupted(err) {
			return dst, nil
		}
		return dst, err
	}

	for i := 0; i < n; i++ {
		raw := p.raw[i]
		ev := Event{
			Token:    token(&raw),
			Readable: raw.Events&unix.EPOLLIN != 0,
			Writable: raw.Events&unix.EPOLLOUT != 0,
			Closed:   raw.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0,
		}

		if ev.Token == WakerToken {
			p.drainWake()
		}

		dst = append(dst, ev)
	}

	return dst, nil
}

// Wake makes a concurrent or subsequent Wait return. Wakes coalesce.
func (p *Poller) Wake() error {
	p.wakeMu.RLock()
	defer p.wakeMu.RUnlock()

	if p.closed.Load() {
		return ErrClosed
	}

	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	for {
		_, err := unix.Write(p.wakefd, one[:])
		switch {
		case err == nil, IsWouldBlock(err):
			return nil
		case IsInterrupted(err):
			continue
		default:
			return err
		}
	}
}

func (p *Poller) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakefd, buf[:])
		if err == nil || IsWouldBlock(err) {
			return
		}
		if !IsInterrupted(err) {
			return
		}
	}
}

// Close releases the epoll instance and the waker. It is safe to call more
// than once.
func (p *Poller) Close() error {
	p.wakeMu.Lock()
	defer p.wakeMu.Unlock()

	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := unix.Close(p.wakefd)
	if cerr := unix.Close(p.epfd); err == nil {
		err = cerr
	}

	return err
}

// The 64-bit epoll data union is exposed by x/sys as two 32-bit fields.
func setToken(ev *unix.EpollEvent, token uint64) {
	ev.Fd = int32(uint32(token))
	ev.Pad = int32(uint32(token >> 32))
}

func token(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}
