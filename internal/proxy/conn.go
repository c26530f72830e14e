package proxy

import (
	"io"
	"net"
	"sync"
	"time"

	"siranga/internal/registry"
)

// channelConn adapts an SSH channel to net.Conn for the HTTP transport and
// feeds the tunnel's byte counters: writes count towards the tunnel client
// (bytes out), reads count from it (bytes in).
type channelConn struct {
	channel io.ReadWriteCloser
	view    registry.View

	closeOnce sync.Once
	done      func()
}

func newChannelConn(channel io.ReadWriteCloser, view registry.View) *channelConn {
	return &channelConn{
		channel: channel,
		view:    view,
		done:    view.TrackConn(),
	}
}

func (c *channelConn) Read(b []byte) (int, error) {
	n, err := c.channel.Read(b)
	if n > 0 {
		c.view.AddBytes(uint64(n), 0)
	}
	return n, err
}

func (c *channelConn) Write(b []byte) (int, error) {
	n, err := c.channel.Write(b)
	if n > 0 {
		c.view.AddBytes(0, uint64(n))
	}
	return n, err
}

func (c *channelConn) Close() error {
	err := c.channel.Close()
	c.closeOnce.Do(c.done)
	return err
}

// SSH channels carry no addresses and enforce no deadlines; flow control
// comes from the SSH window, not from socket timeouts.

func (c *channelConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
}

func (c *channelConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
}

func (c *channelConn) SetDeadline(time.Time) error      { return nil }
func (c *channelConn) SetReadDeadline(time.Time) error  { return nil }
func (c *channelConn) SetWriteDeadline(time.Time) error { return nil }
