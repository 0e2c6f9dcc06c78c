package h1

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/alcidesv/second-transfer/internal/h2/session"
)

func startServer(t *testing.T, attendant session.Attendant) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go Serve(conn, Options{Attendant: attendant, IdleTimeout: 2 * time.Second})
		}
	}()
	return ln.Addr()
}

func echoAttendant(ctx context.Context, req *session.Request) (*session.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	reply := fmt.Sprintf("%s %s %s", req.Method(), req.Path(), body)
	return &session.Response{
		Headers: [][2]string{{":status", "200"}, {"content-type", "text/plain"}},
		Body:    session.BytesBody([]byte(reply)),
	}, nil
}

func readResponse(t *testing.T, br *bufio.Reader) (status string, body string) {
	t.Helper()
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	status = strings.TrimSpace(line)
	contentLength := 0
	for {
		h, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("reading headers: %v", err)
		}
		h = strings.TrimSpace(h)
		if h == "" {
			break
		}
		if n, ok := strings.CutPrefix(strings.ToLower(h), "content-length: "); ok {
			fmt.Sscanf(n, "%d", &contentLength)
		}
	}
	buf := make([]byte, contentLength)
	if _, err := io.ReadFull(br, buf); err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return status, string(buf)
}

func TestServeSingleRequest(t *testing.T) {
	addr := startServer(t, echoAttendant)
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintf(conn, "POST /echo HTTP/1.1\r\nHost: test\r\nContent-Length: 5\r\n\r\nhello")
	status, body := readResponse(t, bufio.NewReader(conn))
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Errorf("status %q", status)
	}
	if body != "POST /echo hello" {
		t.Errorf("body %q", body)
	}
}

func TestServeKeepAliveSequence(t *testing.T) {
	addr := startServer(t, echoAttendant)
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	br := bufio.NewReader(conn)

	for i := 0; i < 3; i++ {
		fmt.Fprintf(conn, "GET /n%d HTTP/1.1\r\nHost: test\r\n\r\n", i)
		_, body := readResponse(t, br)
		want := fmt.Sprintf("GET /n%d ", i)
		if body != want {
			t.Errorf("request %d: body %q, want %q", i, body, want)
		}
	}
}

func TestHeaderOrderIsStable(t *testing.T) {
	got := make(chan [][2]string, 1)
	attendant := func(ctx context.Context, req *session.Request) (*session.Response, error) {
		got <- req.Headers
		return &session.Response{Headers: [][2]string{{":status", "204"}}}, nil
	}
	addr := startServer(t, attendant)
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintf(conn, "GET / HTTP/1.1\r\nHost: test\r\nDelta: 4\r\nAlpha: 1\r\nCharlie: 3\r\nBravo: 2\r\n\r\n")
	readResponse(t, bufio.NewReader(conn))

	var headers [][2]string
	select {
	case headers = <-got:
	case <-time.After(time.Second):
		t.Fatal("attendant never ran")
	}
	var regular []string
	for _, h := range headers {
		if !strings.HasPrefix(h[0], ":") {
			regular = append(regular, h[0])
		}
	}
	want := []string{"alpha", "bravo", "charlie", "delta"}
	if len(regular) != len(want) {
		t.Fatalf("regular headers %v, want %v", regular, want)
	}
	for i, name := range want {
		if regular[i] != name {
			t.Fatalf("regular headers %v, want %v", regular, want)
		}
	}
}

func TestServeConnectionClose(t *testing.T) {
	addr := startServer(t, echoAttendant)
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	br := bufio.NewReader(conn)

	fmt.Fprintf(conn, "GET / HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n")
	readResponse(t, br)
	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("connection still open after Connection: close, err=%v", err)
	}
}

func TestServeRejectsMalformedRequest(t *testing.T) {
	addr := startServer(t, echoAttendant)
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintf(conn, "NOT A REQUEST LINE\r\n\r\n")
	// The server closes without a usable response; reads end quickly.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}
