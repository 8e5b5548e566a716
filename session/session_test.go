package session_test

import (
	"syscall"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/dragonet/examples/ping"
	"github.com/cyberinferno/dragonet/packetbuf"
	"github.com/cyberinferno/dragonet/protocol"
	"github.com/cyberinferno/dragonet/session"
)

// fakeStream replays scripted reads and accepts at most writeLimit bytes
// before reporting EAGAIN.
type fakeStream struct {
	reads      [][]byte
	eof        bool
	readErr    error
	written    []byte
	writeLimit int
	writeErr   error
	closed     int
}

func (f *fakeStream) Read(p []byte) (int, error) {
	if len(f.reads) == 0 {
		if f.readErr != nil {
			return 0, f.readErr
		}

		if f.eof {
			return 0, nil
		}

		return 0, syscall.EAGAIN
	}

	n := copy(p, f.reads[0])
	if n == len(f.reads[0]) {
		f.reads = f.reads[1:]
	} else {
		f.reads[0] = f.reads[0][n:]
	}

	return n, nil
}

func (f *fakeStream) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}

	if f.writeLimit < 0 {
		f.written = append(f.written, p...)
		return len(p), nil
	}

	if f.writeLimit == 0 {
		return 0, syscall.EAGAIN
	}

	n := min(len(p), f.writeLimit)
	f.writeLimit -= n
	f.written = append(f.written, p[:n]...)
	return n, nil
}

func (f *fakeStream) Close() error {
	f.closed++
	return nil
}

func frameBytes(pkt ping.Packet) []byte {
	return protocol.EncodeFrame[ping.Phase](pkt).Bytes()
}

func newServerSession(stream *fakeStream, notify func(session.ConnectionID)) *session.Session[ping.Phase, ping.Packet] {
	return session.New[ping.Phase, ping.Packet](1, stream, ping.Protocol{}, session.Options{
		Direction:      protocol.Serverbound,
		ReadBufferSize: 4,
		Notify:         notify,
	})
}

func collect(out *[]ping.Packet) func(ping.Packet) {
	return func(p ping.Packet) { *out = append(*out, p) }
}

func TestSession_HandleReadable(t *testing.T) {
	t.Run("fails when no phase was set", func(t *testing.T) {
		s := newServerSession(&fakeStream{reads: [][]byte{frameBytes(ping.Ping{Nonce: 1})}}, nil)

		var got []ping.Packet
		_, err := s.HandleReadable(collect(&got))
		assert.ErrorIs(t, err, protocol.ErrPhaseNotSet)
		assert.Empty(t, got)
	})

	t.Run("dispatches every frame of one read in order", func(t *testing.T) {
		var wire []byte
		wire = append(wire, frameBytes(ping.Ping{Nonce: 1})...)
		wire = append(wire, frameBytes(ping.Echo{Text: "hello"})...)
		wire = append(wire, frameBytes(ping.Ping{Nonce: 2})...)

		s := newServerSession(&fakeStream{reads: [][]byte{wire}}, nil)
		s.SetPhase(ping.Main)

		var got []ping.Packet
		stats, err := s.HandleReadable(collect(&got))
		require.NoError(t, err)
		assert.Equal(t, len(wire), stats.Bytes)
		assert.Equal(t, 3, stats.Packets)
		assert.Equal(t, []ping.Packet{ping.Ping{Nonce: 1}, ping.Echo{Text: "hello"}, ping.Ping{Nonce: 2}}, got)
	})

	t.Run("keeps a partial frame until the rest arrives", func(t *testing.T) {
		wire := frameBytes(ping.Echo{Text: "split across reads"})
		stream := &fakeStream{reads: [][]byte{wire[:5]}}
		s := newServerSession(stream, nil)
		s.SetPhase(ping.Main)

		var got []ping.Packet
		stats, err := s.HandleReadable(collect(&got))
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Packets)
		assert.Empty(t, got)

		stream.reads = [][]byte{wire[5:]}
		stats, err = s.HandleReadable(collect(&got))
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Packets)
		assert.Equal(t, []ping.Packet{ping.Echo{Text: "split across reads"}}, got)
	})

	t.Run("phase change in dispatch applies to the next frame", func(t *testing.T) {
		var wire []byte
		wire = append(wire, frameBytes(ping.Hello{Version: 1, Name: "c"})...)
		wire = append(wire, frameBytes(ping.Ping{Nonce: 9})...)

		s := newServerSession(&fakeStream{reads: [][]byte{wire}}, nil)
		s.SetPhase(ping.Handshake)

		var got []ping.Packet
		_, err := s.HandleReadable(func(p ping.Packet) {
			got = append(got, p)
			if _, ok := p.(ping.Hello); ok {
				s.SetPhase(ping.Main)
			}
		})
		require.NoError(t, err)
		assert.Equal(t, []ping.Packet{ping.Hello{Version: 1, Name: "c"}, ping.Ping{Nonce: 9}}, got)
	})

	t.Run("dispatches data that arrived with the peer close", func(t *testing.T) {
		s := newServerSession(&fakeStream{reads: [][]byte{frameBytes(ping.Ping{Nonce: 3})}, eof: true}, nil)
		s.SetPhase(ping.Main)

		var got []ping.Packet
		_, err := s.HandleReadable(collect(&got))
		assert.ErrorIs(t, err, session.ErrPeerClosed)
		assert.Equal(t, []ping.Packet{ping.Ping{Nonce: 3}}, got)
	})

	t.Run("unknown packet id closes the connection", func(t *testing.T) {
		wire := protocol.AppendFrame(packetbuf.New(), 0x7f, nil).Bytes()
		s := newServerSession(&fakeStream{reads: [][]byte{wire}}, nil)
		s.SetPhase(ping.Main)

		_, err := s.HandleReadable(func(ping.Packet) {})
		assert.ErrorIs(t, err, protocol.ErrUnknownPacket)
	})

	t.Run("declared length above the limit is rejected", func(t *testing.T) {
		stream := &fakeStream{reads: [][]byte{{0xff, 0xff, 0xff, 0x7f, 0x00}}}
		s := session.New[ping.Phase, ping.Packet](1, stream, ping.Protocol{}, session.Options{
			Direction:    protocol.Serverbound,
			MaxFrameSize: 1024,
		})
		s.SetPhase(ping.Main)

		_, err := s.HandleReadable(func(ping.Packet) {})
		assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
	})

	t.Run("oversized frame fails before its payload is read", func(t *testing.T) {
		header := append(packetbuf.AppendVarInt(nil, 1<<20), 0x00)
		reads := [][]byte{header}
		for i := 0; i < 64; i++ {
			reads = append(reads, make([]byte, 16<<10))
		}

		stream := &fakeStream{reads: reads}
		s := session.New[ping.Phase, ping.Packet](1, stream, ping.Protocol{}, session.Options{
			Direction:      protocol.Serverbound,
			ReadBufferSize: 16,
			MaxFrameSize:   1024,
		})
		s.SetPhase(ping.Main)

		stats, err := s.HandleReadable(func(ping.Packet) {})
		assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
		assert.Equal(t, len(header), stats.Bytes)
		assert.Len(t, stream.reads, 64)
	})

	t.Run("read errors other than would-block are fatal", func(t *testing.T) {
		s := newServerSession(&fakeStream{readErr: syscall.ECONNRESET}, nil)
		s.SetPhase(ping.Main)

		_, err := s.HandleReadable(func(ping.Packet) {})
		assert.ErrorIs(t, err, syscall.ECONNRESET)
	})

	t.Run("interrupted reads are retried", func(t *testing.T) {
		stream := &interruptOnce{fakeStream: fakeStream{reads: [][]byte{frameBytes(ping.Ping{Nonce: 4})}}}
		s := session.New[ping.Phase, ping.Packet](1, stream, ping.Protocol{}, session.Options{Direction: protocol.Serverbound})
		s.SetPhase(ping.Main)

		var got []ping.Packet
		_, err := s.HandleReadable(collect(&got))
		require.NoError(t, err)
		assert.Equal(t, []ping.Packet{ping.Ping{Nonce: 4}}, got)
	})
}

type interruptOnce struct {
	fakeStream
	interrupted bool
}

func (i *interruptOnce) Read(p []byte) (int, error) {
	if !i.interrupted {
		i.interrupted = true
		return 0, syscall.EINTR
	}

	return i.fakeStream.Read(p)
}

func TestSession_HandleWritable(t *testing.T) {
	t.Run("writes queued frames in order", func(t *testing.T) {
		stream := &fakeStream{writeLimit: -1}
		s := newServerSession(stream, nil)

		require.NoError(t, s.Send(ping.Ping{Nonce: 7}))
		require.NoError(t, s.Enqueue(ping.Echo{Text: "x"}))

		stats, err := s.HandleWritable()
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Packets)
		assert.Equal(t, 0, s.QueueLen())

		want := append(frameBytes(ping.Ping{Nonce: 7}), frameBytes(ping.Echo{Text: "x"})...)
		assert.Equal(t, want, stream.written)
		assert.Equal(t, []byte{0x04, 0x00, 0x00, 0x00, 0x00, 0x07}, stream.written[:6])
	})

	t.Run("resumes a short write before the next frame", func(t *testing.T) {
		stream := &fakeStream{writeLimit: 3}
		s := newServerSession(stream, nil)
		require.NoError(t, s.Send(ping.Ping{Nonce: 7}))
		require.NoError(t, s.Send(ping.Ping{Nonce: 8}))

		stats, err := s.HandleWritable()
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Packets)
		assert.Equal(t, 3, stats.Bytes)
		assert.Equal(t, 1, s.QueueLen())
		assert.True(t, s.HasOutput())

		stream.writeLimit = -1
		stats, err = s.HandleWritable()
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Packets)

		want := append(frameBytes(ping.Ping{Nonce: 7}), frameBytes(ping.Ping{Nonce: 8})...)
		assert.Equal(t, want, stream.written)
		assert.False(t, s.HasOutput())
	})

	t.Run("reports output while packets or a close are pending", func(t *testing.T) {
		s := newServerSession(&fakeStream{writeLimit: -1}, nil)
		assert.False(t, s.HasOutput())

		require.NoError(t, s.Send(ping.Ping{Nonce: 1}))
		assert.True(t, s.HasOutput())

		_, err := s.HandleWritable()
		require.NoError(t, err)
		assert.False(t, s.HasOutput())

		s.Close()
		assert.True(t, s.HasOutput())
	})

	t.Run("write errors are fatal", func(t *testing.T) {
		s := newServerSession(&fakeStream{writeErr: syscall.EPIPE}, nil)
		require.NoError(t, s.Send(ping.Ping{Nonce: 1}))

		_, err := s.HandleWritable()
		assert.ErrorIs(t, err, syscall.EPIPE)
	})

	t.Run("queue is unbounded without drains", func(t *testing.T) {
		s := newServerSession(&fakeStream{writeLimit: 0}, nil)
		for i := 0; i < 1000; i++ {
			require.NoError(t, s.Send(ping.Ping{Nonce: uint32(i)}))
		}

		assert.Equal(t, 1000, s.QueueLen())
	})
}

func TestSession_Close(t *testing.T) {
	t.Run("drains the queue before reporting the close", func(t *testing.T) {
		stream := &fakeStream{writeLimit: -1}
		s := newServerSession(stream, nil)
		require.NoError(t, s.Send(ping.Ping{Nonce: 1}))

		s.Close()
		assert.True(t, s.Closed())
		assert.ErrorIs(t, s.Send(ping.Ping{Nonce: 2}), session.ErrSessionClosed)

		stats, err := s.HandleWritable()
		assert.ErrorIs(t, err, session.ErrClosedLocally)
		assert.Equal(t, 1, stats.Packets)
	})

	t.Run("terminate closes the stream once and drops the queue", func(t *testing.T) {
		stream := &fakeStream{writeLimit: 0}
		s := newServerSession(stream, nil)
		require.NoError(t, s.Send(ping.Ping{Nonce: 1}))

		require.NoError(t, s.Terminate())
		require.NoError(t, s.Terminate())
		assert.Equal(t, 1, stream.closed)
		assert.Equal(t, 0, s.QueueLen())
		assert.True(t, errors.Is(s.Send(ping.Ping{Nonce: 2}), session.ErrSessionClosed))
	})
}

func TestSession_Notify(t *testing.T) {
	var notified []session.ConnectionID
	s := newServerSession(&fakeStream{}, func(id session.ConnectionID) {
		notified = append(notified, id)
	})

	require.NoError(t, s.Send(ping.Ping{Nonce: 1}))
	s.Close()
	s.Close()

	assert.Equal(t, []session.ConnectionID{1, 1}, notified)
}

func TestSession_Handle(t *testing.T) {
	var h session.Handle[ping.Phase, ping.Packet] = newServerSession(&fakeStream{}, nil)

	_, ok := h.Phase()
	assert.False(t, ok)

	h.SetPhase(ping.Main)
	phase, ok := h.Phase()
	assert.True(t, ok)
	assert.Equal(t, ping.Main, phase)
	assert.Equal(t, session.ConnectionID(1), h.ID())
	assert.Equal(t, protocol.Serverbound, h.Direction())
	assert.False(t, h.Closed())
}

func TestCloseReason(t *testing.T) {
	cases := []struct {
		err      error
		reason   string
		graceful bool
	}{
		{nil, session.ReasonLocal, true},
		{session.ErrClosedLocally, session.ReasonLocal, true},
		{session.ErrPeerClosed, session.ReasonPeerClosed, true},
		{session.ErrEngineStopped, session.ReasonEngineStopped, true},
		{errors.Wrap(protocol.ErrPhaseNotSet, "id 0"), session.ReasonProtocol, false},
		{errors.Wrap(protocol.ErrUnknownPacket, "decode"), session.ReasonProtocol, false},
		{errors.Wrap(packetbuf.ErrOutOfBounds, "decode"), session.ReasonProtocol, false},
		{errors.Wrap(syscall.ECONNRESET, "read"), session.ReasonIO, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.reason, session.CloseReason(tc.err), "%v", tc.err)
		assert.Equal(t, tc.graceful, session.IsGraceful(tc.err), "%v", tc.err)
	}
}
