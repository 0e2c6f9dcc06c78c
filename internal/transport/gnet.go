package transport

import (
	"bytes"
	"context"
	"io"
	"log"
	"net"
	"sync"

	"github.com/panjf2000/gnet/v2"
	"github.com/pkg/errors"
)

// GnetChannel bridges gnet's event-loop delivery to the blocking pull
// contract: the loop feeds inbound bytes into a buffer, sessions pull from
// it on their own goroutines, and Push hands writes back to the loop
// asynchronously.
type GnetChannel struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	conn   gnet.Conn
	closed bool
}

func newGnetChannel(conn gnet.Conn) *GnetChannel {
	ch := &GnetChannel{conn: conn}
	ch.cond = sync.NewCond(&ch.mu)
	return ch
}

// feed appends loop-delivered bytes and wakes pullers. Called only from the
// event loop, which owns the source buffer, so the bytes must be copied.
func (c *GnetChannel) feed(p []byte) {
	c.mu.Lock()
	c.buf.Write(p)
	c.cond.Broadcast()
	c.mu.Unlock()
}

// markClosed records loop-side closure and wakes pullers into EOF.
func (c *GnetChannel) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Push queues the buffer for asynchronous write on the event loop.
func (c *GnetChannel) Push(p []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("channel closed")
	}
	// AsyncWrite keeps the slice until the loop drains it; sessions reuse
	// their write buffer, so hand the loop its own copy.
	owned := append([]byte(nil), p...)
	return errors.Wrap(c.conn.AsyncWrite(owned, nil), "channel push")
}

// PullExactly blocks until n bytes are buffered.
func (c *GnetChannel) PullExactly(n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.buf.Len() < n {
		if c.closed {
			if c.buf.Len() == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}
		c.cond.Wait()
	}
	out := make([]byte, n)
	_, _ = c.buf.Read(out)
	return out, nil
}

// PullBestEffort returns buffered bytes, blocking for at least one when
// canWait is set.
func (c *GnetChannel) PullBestEffort(canWait bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.buf.Len() == 0 {
		if c.closed {
			return nil, io.EOF
		}
		if !canWait {
			return nil, nil
		}
		c.cond.Wait()
	}
	out := make([]byte, c.buf.Len())
	_, _ = c.buf.Read(out)
	return out, nil
}

// Close tears the connection down from the session side.
func (c *GnetChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	return c.conn.Close()
}

// RemoteAddr exposes the peer address for request metadata.
func (c *GnetChannel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// GnetFront runs a gnet event loop and hands each accepted connection, as a
// GnetChannel, to the session handler on a fresh goroutine.
type GnetFront struct {
	gnet.BuiltinEventEngine
	addr   string
	handle func(ch *GnetChannel)
	logger *log.Logger
	eng    gnet.Engine
}

// NewGnetFront creates a front listening on addr, e.g. "127.0.0.1:8443".
func NewGnetFront(addr string, handle func(ch *GnetChannel), logger *log.Logger) *GnetFront {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &GnetFront{addr: addr, handle: handle, logger: logger}
}

// Run blocks serving the event loop until Stop or a fatal engine error.
func (f *GnetFront) Run(opts ...gnet.Option) error {
	opts = append([]gnet.Option{gnet.WithMulticore(true)}, opts...)
	return gnet.Run(f, "tcp://"+f.addr, opts...)
}

// Stop shuts the event loop down.
func (f *GnetFront) Stop(ctx context.Context) error {
	return f.eng.Stop(ctx)
}

func (f *GnetFront) OnBoot(eng gnet.Engine) gnet.Action {
	f.eng = eng
	f.logger.Printf("event loop listening on %s", f.addr)
	return gnet.None
}

func (f *GnetFront) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	ch := newGnetChannel(c)
	c.SetContext(ch)
	go f.handle(ch)
	return nil, gnet.None
}

func (f *GnetFront) OnTraffic(c gnet.Conn) gnet.Action {
	ch, ok := c.Context().(*GnetChannel)
	if !ok {
		return gnet.Close
	}
	buf, err := c.Next(-1)
	if err != nil {
		return gnet.Close
	}
	ch.feed(buf)
	return gnet.None
}

func (f *GnetFront) OnClose(c gnet.Conn, err error) gnet.Action {
	if ch, ok := c.Context().(*GnetChannel); ok {
		ch.markClosed()
	}
	return gnet.None
}
