package transfer

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/alcidesv/second-transfer/internal/h2/frame"
)

// Config holds the server configuration. Zero values mean "use the default";
// DefaultConfig returns a fully populated one.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string

	// CertFile and KeyFile enable TLS with ALPN when both are set.
	CertFile string
	KeyFile  string

	// MaxConcurrentStreams bounds simultaneously active streams per session.
	MaxConcurrentStreams uint32

	// MaxFrameSize is the largest frame payload accepted, 16384..2^24-1.
	MaxFrameSize uint32

	// InitialWindowSize is the per-stream receive window advertised to peers.
	InitialWindowSize uint32

	// IdleTimeout closes sessions with no inbound frames for this long.
	// Zero disables the timeout.
	IdleTimeout time.Duration

	// ShutdownGrace bounds how long Shutdown waits for in-flight streams.
	ShutdownGrace time.Duration

	// UseEventLoop serves plaintext connections through the gnet event loop
	// instead of one accept goroutine per connection. Ignored with TLS.
	UseEventLoop bool

	// EnableMetrics registers Prometheus collectors for session activity.
	EnableMetrics bool

	// Logger receives server diagnostics. Nil discards them.
	Logger *log.Logger
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:                 "127.0.0.1:8443",
		MaxConcurrentStreams: 100,
		MaxFrameSize:         frame.DefaultMaxFrameSize,
		InitialWindowSize:    frame.DefaultWindow,
		IdleTimeout:          5 * time.Minute,
		ShutdownGrace:        10 * time.Second,
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.MaxFrameSize != 0 && (c.MaxFrameSize < frame.DefaultMaxFrameSize || c.MaxFrameSize > frame.MaxAllowedFrameSize) {
		return fmt.Errorf("max frame size %d outside %d..%d", c.MaxFrameSize, frame.DefaultMaxFrameSize, frame.MaxAllowedFrameSize)
	}
	if c.InitialWindowSize > frame.MaxWindow {
		return fmt.Errorf("initial window size %d exceeds %d", c.InitialWindowSize, frame.MaxWindow)
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("certificate and key must be set together")
	}
	if c.IdleTimeout < 0 || c.ShutdownGrace < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

func (c *Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.New(io.Discard, "", 0)
}
