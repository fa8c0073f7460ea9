package tunnel

import (
	"io"
	"net"
	"sync"
	"time"
)

var _ net.Conn = (*ChannelConn)(nil)

// ChannelConn presents a detached data channel as a net.Conn so a
// tunnel can treat both of its ends the same way.
//
// Deadlines are not supported: a detached stream cannot unblock one
// direction without closing both. The setters accept any value and do
// nothing; a tunnel ends a bridge by closing it.
type ChannelConn struct {
	rwc   io.ReadWriteCloser
	local string
	peer  string

	closeOnce sync.Once
	closeErr  error
}

// NewChannelConn wraps rwc. local and peer only label the endpoints.
func NewChannelConn(rwc io.ReadWriteCloser, local, peer string) *ChannelConn {
	return &ChannelConn{rwc: rwc, local: local, peer: peer}
}

func (c *ChannelConn) Read(b []byte) (int, error)  { return c.rwc.Read(b) }
func (c *ChannelConn) Write(b []byte) (int, error) { return c.rwc.Write(b) }

func (c *ChannelConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.rwc.Close() })
	return c.closeErr
}

func (c *ChannelConn) LocalAddr() net.Addr  { return channelAddr(c.local) }
func (c *ChannelConn) RemoteAddr() net.Addr { return channelAddr(c.peer) }

func (c *ChannelConn) SetDeadline(time.Time) error      { return nil }
func (c *ChannelConn) SetReadDeadline(time.Time) error  { return nil }
func (c *ChannelConn) SetWriteDeadline(time.Time) error { return nil }

type channelAddr string

func (a channelAddr) Network() string { return "webrtc" }
func (a channelAddr) String() string  { return string(a) }
