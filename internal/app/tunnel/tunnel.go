// Package tunnel bridges one local TCP connection with one minecraft data
// channel and keeps track of the live bridges of a session.
package tunnel

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// Writes into a channel are chunked so every channel message fits the
	// read buffer on the far side.
	chunkSize       = 16 << 10
	channelReadSize = 64 << 10
)

type State int32

const (
	StateOpen State = iota
	StateClosed
)

// Tunnel forwards bytes both ways between a socket and a channel. Either side
// ending closes the other.
type Tunnel struct {
	ID    uint64
	Label string

	socket  net.Conn
	channel net.Conn

	state     atomic.Int32
	closeOnce sync.Once
	done      chan struct{}

	sent     atomic.Int64
	received atomic.Int64
}

func New(id uint64, label string, socket, channel net.Conn) *Tunnel {
	return &Tunnel{
		ID:      id,
		Label:   label,
		socket:  socket,
		channel: channel,
		done:    make(chan struct{}),
	}
}

func (t *Tunnel) State() State { return State(t.state.Load()) }

// Done is closed once both directions have stopped.
func (t *Tunnel) Done() <-chan struct{} { return t.done }

// Sent is the number of bytes moved from the socket into the channel.
func (t *Tunnel) Sent() int64 { return t.sent.Load() }

// Received is the number of bytes moved from the channel into the socket.
func (t *Tunnel) Received() int64 { return t.received.Load() }

// Run blocks until the tunnel is closed from either side.
func (t *Tunnel) Run(logger *zerolog.Logger) {
	defer close(t.done)

	var g errgroup.Group
	g.Go(func() error {
		defer t.Close()
		return pump(t.channel, t.socket, chunkSize, &t.sent)
	})
	g.Go(func() error {
		defer t.Close()
		return pump(t.socket, t.channel, channelReadSize, &t.received)
	})
	if err := g.Wait(); err != nil && !isClosedErr(err) {
		logger.Debug().Err(err).Uint64("tunnel", t.ID).Msg("tunnel copy error")
	}
	logger.Debug().
		Uint64("tunnel", t.ID).
		Str("label", t.Label).
		Int64("sent", t.Sent()).
		Int64("received", t.Received()).
		Msg("tunnel closed")
}

func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		t.state.Store(int32(StateClosed))
		_ = t.socket.Close()
		_ = t.channel.Close()
	})
}

func pump(dst io.Writer, src io.Reader, size int, counter *atomic.Int64) error {
	buf := make([]byte, size)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			counter.Add(int64(n))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe)
}
