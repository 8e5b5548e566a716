package tcpserver

import (
	"github.com/cyberinferno/dragonet/session"
)

// Config holds the server settings.
type Config struct {
	// Name identifies the server in logs.
	Name string

	// Address is the IPv4 or IPv6 listen address, for example "0.0.0.0:25565".
	// Port 0 picks a free port; Addr reports it after Bind.
	Address string

	// Backlog is the listen queue length.
	Backlog int

	// ReadBufferSize is the initial receive buffer per connection.
	ReadBufferSize int

	// MaxFrameSize is the largest payload a peer may declare.
	MaxFrameSize int

	// EventCapacity is the number of readiness events fetched per wait.
	EventCapacity int
}

// DefaultServerConfig returns the default settings for address.
//
// Parameters:
//   - address: The listen address; may be empty and set later with WithAddress
//
// Returns:
//   - A Config with default sizes
func DefaultServerConfig(address string) Config {
	return Config{
		Name:           "dragonet",
		Address:        address,
		Backlog:        1024,
		ReadBufferSize: session.DefaultReadBufferSize,
		MaxFrameSize:   session.DefaultMaxFrameSize,
		EventCapacity:  1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultServerConfig(c.Address)
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Backlog <= 0 {
		c.Backlog = d.Backlog
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.EventCapacity <= 0 {
		c.EventCapacity = d.EventCapacity
	}

	return c
}
