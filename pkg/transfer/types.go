// Package transfer is the public surface of the server: configuration, the
// listener front-ends, and the attendant programming model. An attendant is
// a callback receiving one complete request and returning headers, a lazy
// body producer, optional trailers, and optional pushed streams; the engine
// handles framing, multiplexing, and flow control underneath.
package transfer

import (
	"io"

	"github.com/alcidesv/second-transfer/internal/h2/session"
)

// Re-exported attendant-model types. Aliases keep the internal engine and
// the public API interchangeable.
type (
	Request      = session.Request
	Response     = session.Response
	Attendant    = session.Attendant
	BodyProducer = session.BodyProducer
	PushedStream = session.PushedStream
)

// BytesBody adapts a static byte slice to a BodyProducer.
func BytesBody(p []byte) BodyProducer { return session.BytesBody(p) }

// ReaderBody adapts an io.Reader to a BodyProducer with a fixed chunk size.
func ReaderBody(r io.Reader, chunkSize int) BodyProducer {
	return session.ReaderBody(r, chunkSize)
}
