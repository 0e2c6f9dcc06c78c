package transfer

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alcidesv/second-transfer/internal/h1"
	"github.com/alcidesv/second-transfer/internal/h2/session"
	"github.com/alcidesv/second-transfer/internal/transport"
)

// Server accepts connections, negotiates the application protocol, and runs
// one session engine per HTTP/2 connection or the fallback loop per HTTP/1.1
// connection.
type Server struct {
	cfg       Config
	attendant Attendant
	metrics   session.Metrics

	mu       sync.Mutex
	listener net.Listener
	front    *transport.GnetFront
	sessions map[*session.Session]struct{}
	wg       sync.WaitGroup
	closed   bool

	nextConnID atomic.Uint64
}

// NewServer validates cfg and builds a server around the attendant.
func NewServer(cfg Config, attendant Attendant) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if attendant == nil {
		return nil, fmt.Errorf("attendant is required")
	}
	var m session.Metrics = session.NopMetrics{}
	if cfg.EnableMetrics {
		m = NewPrometheusMetrics(nil)
	}
	return &Server{
		cfg:       cfg,
		attendant: attendant,
		metrics:   m,
		sessions:  make(map[*session.Session]struct{}),
	}, nil
}

// ListenAndServe serves on the configured address, with TLS when a
// certificate is configured. It blocks until Shutdown or a fatal error.
func (s *Server) ListenAndServe() error {
	if s.cfg.CertFile != "" {
		cert, err := transport.LoadCertificate(s.cfg.CertFile, s.cfg.KeyFile)
		if err != nil {
			return err
		}
		inner, err := net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
		}
		return s.Serve(transport.NewTLSListener(inner, cert))
	}
	if s.cfg.UseEventLoop {
		return s.serveEventLoop()
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("server is shut down")
	}
	s.listener = ln
	s.mu.Unlock()
	s.cfg.logger().Printf("listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// serveEventLoop runs the gnet front for plaintext connections. Protocol
// selection still sniffs the preface, through the channel's own buffer.
func (s *Server) serveEventLoop() error {
	front := transport.NewGnetFront(s.cfg.Addr, func(ch *transport.GnetChannel) {
		s.serveSniffedChannel(ch, ch.RemoteAddr())
	}, s.cfg.logger())
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("server is shut down")
	}
	s.front = front
	s.mu.Unlock()
	return front.Run()
}

// handleConn classifies one accepted connection and serves it to completion.
func (s *Server) handleConn(conn net.Conn) {
	proto, err := transport.NegotiatedProtocol(conn)
	if err != nil {
		s.cfg.logger().Printf("handshake with %s failed: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	switch proto {
	case transport.ProtoH2:
		s.serveH2(transport.NewNetChannel(conn), conn.RemoteAddr(), transport.ProtoH2)
	default:
		s.servePlain(conn)
	}
}

// servePlain sniffs a plaintext connection: a client preface means HTTP/2
// with prior knowledge, anything else falls back to HTTP/1.1.
func (s *Server) servePlain(conn net.Conn) {
	br := bufio.NewReader(conn)
	peek, err := br.Peek(3)
	if err != nil {
		conn.Close()
		return
	}
	buffered := &bufferedConn{Conn: conn, r: br}
	if string(peek) == "PRI" {
		s.serveH2(transport.NewNetChannel(buffered), conn.RemoteAddr(), transport.ProtoH2)
		return
	}
	s.serveH1(buffered)
}

// serveSniffedChannel is the event-loop analogue of servePlain.
func (s *Server) serveSniffedChannel(ch *transport.GnetChannel, peer net.Addr) {
	head, err := ch.PullExactly(3)
	if err != nil {
		_ = ch.Close()
		return
	}
	if string(head) == "PRI" {
		s.serveH2(&prefixedChannel{Channel: ch, prefix: head}, peer, transport.ProtoH2)
		return
	}
	// HTTP/1.1 over the event loop would need its own reader adapter; keep
	// the fallback on the plain accept path.
	s.cfg.logger().Printf("closing non-h2 event-loop connection from %v", peer)
	_ = ch.Close()
}

// serveH2 runs one session engine to completion.
func (s *Server) serveH2(ch session.Channel, peer net.Addr, proto string) {
	sess := session.New(ch, s.attendant, session.Options{
		Logger:               s.cfg.Logger,
		MaxConcurrentStreams: s.cfg.MaxConcurrentStreams,
		MaxFrameSize:         s.cfg.MaxFrameSize,
		InitialWindowSize:    s.cfg.InitialWindowSize,
		IdleTimeout:          s.cfg.IdleTimeout,
		Metrics:              s.metrics,
		ConnID:               s.nextConnID.Add(1),
		PeerAddr:             peer,
		Protocol:             proto,
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ch.Close()
		return
	}
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	if err := sess.Serve(); err != nil {
		s.cfg.logger().Printf("session with %v ended: %v", peer, err)
	}

	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func (s *Server) serveH1(conn net.Conn) {
	err := h1.Serve(conn, h1.Options{
		Logger:      s.cfg.Logger,
		Attendant:   s.attendant,
		ConnID:      s.nextConnID.Add(1),
		IdleTimeout: s.cfg.IdleTimeout,
	})
	if err != nil {
		s.cfg.logger().Printf("fallback connection with %v ended: %v", conn.RemoteAddr(), err)
	}
}

// Shutdown gracefully stops the server: the listener closes, every live
// session announces GOAWAY, and in-flight streams get the configured grace
// to finish before connections are torn down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	front := s.front
	live := make([]*session.Session, 0, len(s.sessions))
	for sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, sess := range live {
		sess.Shutdown()
	}

	grace := s.cfg.ShutdownGrace
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < grace {
			grace = until
		}
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	case <-ctx.Done():
	}

	if front != nil {
		_ = front.Stop(ctx)
	}
	return ctx.Err()
}

// bufferedConn lets bytes peeked during protocol sniffing be re-read.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// prefixedChannel replays sniffed bytes ahead of the wrapped channel.
type prefixedChannel struct {
	session.Channel
	prefix []byte
}

func (c *prefixedChannel) PullExactly(n int) ([]byte, error) {
	if len(c.prefix) == 0 {
		return c.Channel.PullExactly(n)
	}
	out := make([]byte, 0, n)
	take := n
	if take > len(c.prefix) {
		take = len(c.prefix)
	}
	out = append(out, c.prefix[:take]...)
	c.prefix = c.prefix[take:]
	if len(out) < n {
		rest, err := c.Channel.PullExactly(n - len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, rest...)
	}
	return out, nil
}

func (c *prefixedChannel) PullBestEffort(canWait bool) ([]byte, error) {
	if len(c.prefix) > 0 {
		out := c.prefix
		c.prefix = nil
		return out, nil
	}
	return c.Channel.PullBestEffort(canWait)
}
