//go:build linux

package netpoll

import (
	"net"
	"sync/atomic"
	"syscall"

	"github.com/go-faster/errors"
	"golang.org/x/sys/unix"
)

// Listener is a non-blocking TCP listening socket.
type Listener struct {
	fd     int
	addr   *net.TCPAddr
	closed atomic.Bool
}

// Listen binds a non-blocking listener to address with SO_REUSEADDR set.
//
// Parameters:
//   - address: "host:port"; port 0 picks a free port, see Addr
//   - backlog: Accept queue length; values below 1 use the system maximum
//
// Returns:
//   - The listener, or an error if the address is invalid or binding fails
func Listen(address string, backlog int) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", address)
	}

	sa, family := toSockaddr(tcpAddr, false)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, errors.Wrap(err, "socket")
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrap(err, "setsockopt SO_REUSEADDR")
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrapf(err, "bind %s", address)
	}

	if backlog < 1 {
		backlog = unix.SOMAXCONN
	}

	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrapf(err, "listen %s", address)
	}

	local, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrap(err, "getsockname")
	}

	return &Listener{fd: fd, addr: fromSockaddr(local)}, nil
}

// Fd returns the socket descriptor for poller registration.
func (l *Listener) Fd() int {
	return l.fd
}

// Addr returns the bound address, including the port chosen for port 0.
func (l *Listener) Addr() *net.TCPAddr {
	return l.addr
}

// Accept accepts one pending connection. When none is pending the error
// satisfies IsWouldBlock.
func (l *Listener) Accept() (*Conn, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}

	fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, err
	}

	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	c := &Conn{fd: fd, remote: fromSockaddr(sa)}
	if local, err := unix.Getsockname(fd); err == nil {
		c.local = fromSockaddr(local)
	}

	return c, nil
}

// Close closes the listening socket. It is safe to call more than once.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	return unix.Close(l.fd)
}

// Conn is a non-blocking TCP connection. Read and Write return errors that
// satisfy IsWouldBlock instead of blocking.
type Conn struct {
	fd     int
	local  *net.TCPAddr
	remote *net.TCPAddr
	closed atomic.Bool
}

// Dial starts a non-blocking connect to address. The connection is usable
// once the poller reports it writable; ConnectError then tells whether the
// connect succeeded.
//
// Parameters:
//   - address: "host:port"; an empty host dials the loopback address
//
// Returns:
//   - The connecting socket, or an error if the address is invalid or the
//     connect failed immediately
func Dial(address string) (*Conn, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", address)
	}

	sa, family := toSockaddr(tcpAddr, true)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, errors.Wrap(err, "socket")
	}

	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	for {
		err = unix.Connect(fd, sa)
		if !IsInterrupted(err) {
			break
		}
	}
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return nil, errors.Wrapf(err, "connect %s", address)
	}

	c := &Conn{fd: fd, remote: fromSockaddr(sa)}
	if local, err := unix.Getsockname(fd); err == nil {
		c.local = fromSockaddr(local)
	}

	return c, nil
}

// Fd returns the socket descriptor for poller registration.
func (c *Conn) Fd() int {
	return c.fd
}

// LocalAddr returns the local address, if known.
func (c *Conn) LocalAddr() *net.TCPAddr {
	return c.local
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() *net.TCPAddr {
	return c.remote
}

// Read reads available bytes into p. Zero bytes with a nil error means the
// peer closed its side.
func (c *Conn) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}

	n, err := unix.Read(c.fd, p)
	if err != nil {
		return 0, err
	}

	return n, nil
}

// Write writes as much of p as the socket accepts.
func (c *Conn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}

	n, err := unix.Write(c.fd, p)
	if err != nil {
		return 0, err
	}

	return n, nil
}

// ConnectError reports the result of a non-blocking connect.
func (c *Conn) ConnectError() error {
	v, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}

	if v != 0 {
		return syscall.Errno(v)
	}

	return nil
}

// Close closes the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	return unix.Close(c.fd)
}

func toSockaddr(addr *net.TCPAddr, dial bool) (unix.Sockaddr, int) {
	ip := addr.IP
	if dial && (ip == nil || ip.IsUnspecified()) {
		ip = net.IPv4(127, 0, 0, 1)
	}

	if ip4 := ip.To4(); ip == nil || ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET
	}

	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], ip.To16())
	return sa, unix.AF_INET6
}

func fromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
	default:
		return &net.TCPAddr{}
	}
}
