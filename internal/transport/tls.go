package transport

import (
	"crypto/tls"
	"net"

	"github.com/pkg/errors"
)

// Application protocol identifiers negotiated over ALPN.
const (
	ProtoH2   = "h2"
	ProtoHTTP = "http/1.1"
)

// NewTLSListener wraps a plain listener in TLS with ALPN advertising HTTP/2
// first and HTTP/1.1 as fallback.
func NewTLSListener(inner net.Listener, cert tls.Certificate) net.Listener {
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ProtoH2, ProtoHTTP},
		MinVersion:   tls.VersionTLS12,
	}
	return tls.NewListener(inner, cfg)
}

// LoadCertificate reads a PEM certificate/key pair from disk.
func LoadCertificate(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "loading certificate")
	}
	return cert, nil
}

// NegotiatedProtocol completes the TLS handshake if needed and reports the
// ALPN result. Plain connections report HTTP/1.1 unless the caller sniffs
// the HTTP/2 preface itself.
func NegotiatedProtocol(conn net.Conn) (string, error) {
	tc, ok := conn.(*tls.Conn)
	if !ok {
		return ProtoHTTP, nil
	}
	if err := tc.Handshake(); err != nil {
		return "", errors.Wrap(err, "tls handshake")
	}
	if p := tc.ConnectionState().NegotiatedProtocol; p != "" {
		return p, nil
	}
	return ProtoHTTP, nil
}
