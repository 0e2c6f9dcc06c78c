// Package transport provides the byte-stream channels sessions run over: a
// blocking channel on a net.Conn, a TLS+ALPN listener front, and an
// event-loop front based on gnet.
package transport

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// readChunk is the unit of a best-effort pull from the socket.
const readChunk = 32 * 1024

// NetChannel adapts a net.Conn to the push/pull channel contract. Push has
// no partial-success reporting; Close is idempotent and safe to call from
// concurrent error paths.
type NetChannel struct {
	conn      net.Conn
	closeOnce sync.Once
	closeErr  error
}

// NewNetChannel wraps an established connection.
func NewNetChannel(conn net.Conn) *NetChannel {
	return &NetChannel{conn: conn}
}

// Push writes the whole buffer or fails.
func (c *NetChannel) Push(p []byte) error {
	if _, err := c.conn.Write(p); err != nil {
		return errors.Wrap(err, "channel push")
	}
	return nil
}

// PullExactly blocks until exactly n bytes are available.
func (c *NetChannel) PullExactly(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, errors.Wrap(err, "channel pull")
	}
	return buf, nil
}

// PullBestEffort returns whatever bytes are available. With canWait it
// blocks for at least one byte; without, it polls the socket and may return
// an empty slice.
func (c *NetChannel) PullBestEffort(canWait bool) ([]byte, error) {
	buf := make([]byte, readChunk)
	if !canWait {
		if err := c.conn.SetReadDeadline(time.Now()); err != nil {
			return nil, errors.Wrap(err, "channel poll")
		}
		n, err := c.conn.Read(buf)
		_ = c.conn.SetReadDeadline(time.Time{})
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return nil, nil
			}
			return nil, errors.Wrap(err, "channel poll")
		}
		return buf[:n], nil
	}
	n, err := c.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

// Close shuts the underlying connection down exactly once.
func (c *NetChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr exposes the peer address for request metadata.
func (c *NetChannel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
