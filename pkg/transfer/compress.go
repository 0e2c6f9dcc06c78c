package transfer

import (
	"bytes"
	"compress/gzip"
	"strings"

	"github.com/andybalholm/brotli"
)

// Content encoding tokens.
const (
	EncodingBrotli   = "br"
	EncodingGzip     = "gzip"
	EncodingIdentity = "identity"
)

// NegotiateEncoding picks the best content encoding we support from an
// accept-encoding header value. Brotli wins over gzip when both are offered.
func NegotiateEncoding(acceptEncoding string) string {
	gzipOK := false
	for _, part := range strings.Split(acceptEncoding, ",") {
		token := strings.TrimSpace(part)
		if i := strings.IndexByte(token, ';'); i >= 0 {
			token = strings.TrimSpace(token[:i])
		}
		switch token {
		case EncodingBrotli:
			return EncodingBrotli
		case EncodingGzip:
			gzipOK = true
		}
	}
	if gzipOK {
		return EncodingGzip
	}
	return EncodingIdentity
}

// CompressBody compresses a body with the given encoding and returns a
// producer over the result. Identity and unknown encodings pass through.
func CompressBody(body []byte, encoding string) (BodyProducer, error) {
	switch encoding {
	case EncodingBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return BytesBody(buf.Bytes()), nil
	case EncodingGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return BytesBody(buf.Bytes()), nil
	default:
		return BytesBody(body), nil
	}
}
