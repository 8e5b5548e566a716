package tcpclient

import (
	"time"

	"github.com/cyberinferno/dragonet/session"
)

// Config holds the client settings.
type Config struct {
	// Name identifies the client in logs.
	Name string

	// Address is the "host:port" to connect to. An empty host means the
	// loopback address.
	Address string

	// ReadBufferSize is the initial receive buffer.
	ReadBufferSize int

	// MaxFrameSize is the largest payload the server may declare.
	MaxFrameSize int

	// ConnectTimeout bounds the non-blocking connect; 0 means no limit.
	ConnectTimeout time.Duration
}

// DefaultClientConfig returns the default settings for address.
//
// Parameters:
//   - address: The "host:port" to connect to; may be empty and set later
//     with WithAddress
//
// Returns:
//   - A Config with defaults: ReadBufferSize 4096, MaxFrameSize 2 MiB,
//     ConnectTimeout 10s
func DefaultClientConfig(address string) Config {
	return Config{
		Name:           "dragonet-client",
		Address:        address,
		ReadBufferSize: session.DefaultReadBufferSize,
		MaxFrameSize:   session.DefaultMaxFrameSize,
		ConnectTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultClientConfig(c.Address)
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.ConnectTimeout < 0 {
		c.ConnectTimeout = 0
	}

	return c
}
