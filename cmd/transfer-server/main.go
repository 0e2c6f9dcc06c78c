// Command transfer-server runs a small demonstration server: a couple of
// routes over HTTP/2 with TLS+ALPN or plaintext prior knowledge, with an
// HTTP/1.1 fallback on the same port.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alcidesv/second-transfer/pkg/transfer"
)

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:8443", "listen address")
		certFile    = flag.String("cert", "", "TLS certificate file (PEM)")
		keyFile     = flag.String("key", "", "TLS key file (PEM)")
		metricsAddr = flag.String("metrics", "", "Prometheus metrics listen address, empty to disable")
		eventLoop   = flag.Bool("event-loop", false, "serve plaintext connections on the gnet event loop")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "transfer: ", log.LstdFlags)

	cfg := transfer.DefaultConfig()
	cfg.Addr = *addr
	cfg.CertFile = *certFile
	cfg.KeyFile = *keyFile
	cfg.UseEventLoop = *eventLoop
	cfg.EnableMetrics = *metricsAddr != ""
	cfg.Logger = logger

	srv, err := transfer.NewServer(cfg, route)
	if err != nil {
		logger.Fatalf("configuring server: %v", err)
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Printf("metrics endpoint: %v", err)
			}
		}()
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Println("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	if err := srv.ListenAndServe(); err != nil {
		logger.Fatalf("server: %v", err)
	}
}

// route is the demonstration attendant.
func route(ctx context.Context, req *transfer.Request) (*transfer.Response, error) {
	switch req.Path() {
	case "/":
		body := []byte("<html><body><h1>second-transfer</h1></body></html>")
		encoding := transfer.NegotiateEncoding(req.Header("accept-encoding"))
		producer, err := transfer.CompressBody(body, encoding)
		if err != nil {
			return nil, err
		}
		headers := [][2]string{
			{":status", "200"},
			{"content-type", "text/html; charset=utf-8"},
		}
		if encoding != transfer.EncodingIdentity {
			headers = append(headers, [2]string{"content-encoding", encoding})
		}
		return &transfer.Response{Headers: headers, Body: producer}, nil

	case "/echo":
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		return &transfer.Response{
			Headers: [][2]string{
				{":status", "200"},
				{"content-type", "application/octet-stream"},
				{"content-length", strconv.Itoa(len(body))},
			},
			Body: transfer.BytesBody(body),
		}, nil

	case "/drip":
		// Paced delivery: ten chunks, one every 100ms.
		n := 0
		return &transfer.Response{
			Headers: [][2]string{
				{":status", "200"},
				{"content-type", "text/plain"},
			},
			Body: func(ctx context.Context) ([]byte, error) {
				if n >= 10 {
					return nil, io.EOF
				}
				n++
				return []byte(fmt.Sprintf("tick %d\n", n)), nil
			},
			ChunkInterval: 100 * time.Millisecond,
		}, nil

	default:
		return &transfer.Response{
			Headers: [][2]string{{":status", "404"}, {"content-type", "text/plain"}},
			Body:    transfer.BytesBody([]byte("not found\n")),
		}, nil
	}
}
