// Package h1 is the HTTP/1.1 fallback front: it parses requests off a plain
// byte stream and serves them through the same attendant callback the
// multiplexed engine uses, one request at a time per connection.
package h1

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alcidesv/second-transfer/internal/h2/session"
)

// Options configures the fallback loop.
type Options struct {
	Logger      *log.Logger
	Attendant   session.Attendant
	ConnID      uint64
	IdleTimeout time.Duration
}

// Serve reads pipelined requests from conn until the peer closes, an error
// occurs, or a request asks for connection close. It always closes conn.
func Serve(conn net.Conn, opts Options) error {
	defer conn.Close()
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)
	for {
		if opts.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(opts.IdleTimeout))
		}
		req, keepAlive, err := readRequest(br)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		}
		req.ConnID = opts.ConnID
		req.Protocol = "http/1.1"
		req.PeerAddr = conn.RemoteAddr()
		req.Started = time.Now()

		resp, err := opts.Attendant(context.Background(), req)
		if err != nil || resp == nil {
			writeSimpleStatus(bw, 500)
			_ = bw.Flush()
			return err
		}
		if err := writeResponse(bw, resp, keepAlive); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("flushing response: %w", err)
		}
		if !keepAlive {
			return nil
		}
	}
}

// readRequest parses one request head plus its body into the engine's
// request shape, pseudo-headers first.
func readRequest(br *bufio.Reader) (*session.Request, bool, error) {
	tp := textproto.NewReader(br)
	line, err := tp.ReadLine()
	if err != nil {
		return nil, false, err
	}
	method, rest, ok := strings.Cut(line, " ")
	if !ok {
		return nil, false, fmt.Errorf("malformed request line %q", line)
	}
	target, proto, ok := strings.Cut(rest, " ")
	if !ok || (proto != "HTTP/1.1" && proto != "HTTP/1.0") {
		return nil, false, fmt.Errorf("malformed request line %q", line)
	}
	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, false, fmt.Errorf("reading headers: %w", err)
	}

	headers := [][2]string{
		{":method", method},
		{":scheme", "http"},
		{":path", target},
	}
	if host := mimeHeader.Get("Host"); host != "" {
		headers = append(headers, [2]string{":authority", host})
	}
	contentLength := 0
	keepAlive := proto == "HTTP/1.1"
	// MIMEHeader is a map; sort the names so the attendant sees the same
	// header order on every parse of the same request.
	names := make([]string, 0, len(mimeHeader))
	for key := range mimeHeader {
		names = append(names, key)
	}
	sort.Strings(names)
	for _, key := range names {
		lower := strings.ToLower(key)
		for _, v := range mimeHeader[key] {
			switch lower {
			case "host":
				continue
			case "connection":
				if strings.EqualFold(v, "close") {
					keepAlive = false
				} else if strings.EqualFold(v, "keep-alive") {
					keepAlive = true
				}
				continue
			case "content-length":
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					return nil, false, fmt.Errorf("malformed content-length %q", v)
				}
				contentLength = n
			}
			headers = append(headers, [2]string{lower, v})
		}
	}

	var body io.Reader = strings.NewReader("")
	if contentLength > 0 {
		buf := make([]byte, contentLength)
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, false, fmt.Errorf("reading body: %w", err)
		}
		body = strings.NewReader(string(buf))
	}
	return &session.Request{Headers: headers, Body: body}, keepAlive, nil
}

// writeResponse serializes a response, draining the body producer eagerly.
// HTTP/1.1 has no flow control, so pacing via ChunkInterval still applies
// but credit does not.
func writeResponse(bw *bufio.Writer, resp *session.Response, keepAlive bool) error {
	status := 200
	for _, h := range resp.Headers {
		if h[0] == ":status" {
			if n, err := strconv.Atoi(h[1]); err == nil {
				status = n
			}
		}
	}
	var body []byte
	if resp.Body != nil {
		for {
			chunk, err := resp.Body(context.Background())
			if err == io.EOF {
				break
			}
			if err != nil {
				writeSimpleStatus(bw, 500)
				return nil
			}
			body = append(body, chunk...)
			if resp.ChunkInterval > 0 {
				time.Sleep(resp.ChunkInterval)
			}
		}
	}

	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", status, statusText(status))
	for _, h := range resp.Headers {
		if strings.HasPrefix(h[0], ":") {
			continue
		}
		fmt.Fprintf(bw, "%s: %s\r\n", h[0], h[1])
	}
	fmt.Fprintf(bw, "content-length: %d\r\n", len(body))
	if !keepAlive {
		fmt.Fprintf(bw, "connection: close\r\n")
	}
	bw.WriteString("\r\n")
	_, err := bw.Write(body)
	return err
}

func writeSimpleStatus(bw *bufio.Writer, status int) {
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\ncontent-length: 0\r\nconnection: close\r\n\r\n", status, statusText(status))
}

func statusText(status int) string {
	switch status {
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 500:
		return "Internal Server Error"
	default:
		return "Status"
	}
}
