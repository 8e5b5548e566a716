//go:build !linux

package netpoll

import (
	"net"
	"time"
)

// Poller is unavailable on this platform.
type Poller struct{}

// NewPoller always fails with ErrUnsupported.
func NewPoller(capacity int) (*Poller, error) { return nil, ErrUnsupported }

func (p *Poller) Register(fd int, token uint64, interest Interest) error { return ErrUnsupported }
func (p *Poller) Deregister(fd int) error                                { return ErrUnsupported }
func (p *Poller) Wake() error                                            { return ErrUnsupported }
func (p *Poller) Close() error                                           { return nil }

func (p *Poller) Wait(dst []Event, timeout time.Duration) ([]Event, error) {
	return dst[:0], ErrUnsupported
}

// Listener is unavailable on this platform.
type Listener struct{}

// Listen always fails with ErrUnsupported.
func Listen(address string, backlog int) (*Listener, error) { return nil, ErrUnsupported }

func (l *Listener) Fd() int                { return -1 }
func (l *Listener) Addr() *net.TCPAddr     { return &net.TCPAddr{} }
func (l *Listener) Accept() (*Conn, error) { return nil, ErrUnsupported }
func (l *Listener) Close() error           { return nil }

// Conn is unavailable on this platform.
type Conn struct{}

// Dial always fails with ErrUnsupported.
func Dial(address string) (*Conn, error) { return nil, ErrUnsupported }

func (c *Conn) Fd() int                     { return -1 }
func (c *Conn) LocalAddr() *net.TCPAddr     { return &net.TCPAddr{} }
func (c *Conn) RemoteAddr() *net.TCPAddr    { return &net.TCPAddr{} }
func (c *Conn) Read(p []byte) (int, error)  { return 0, ErrUnsupported }
func (c *Conn) Write(p []byte) (int, error) { return 0, ErrUnsupported }
func (c *Conn) ConnectError() error         { return ErrUnsupported }
func (c *Conn) Close() error                { return nil }
