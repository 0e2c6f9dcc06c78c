package session

import (
	"fmt"
	"strconv"
	"strings"
)

// connectionHeaders are forbidden in HTTP/2 (RFC 7540 Section 8.1.2.2).
var connectionHeaders = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"upgrade":           true,
}

// validateRequestHeaders checks an initial request header block: mandatory
// pseudo-headers present exactly once and before all regular fields, names
// lowercase, no connection-specific fields (RFC 7540 Section 8.1.2).
func validateRequestHeaders(headers [][2]string) error {
	var method, scheme, path string
	var sawAuthority bool
	seenRegular := false
	for _, h := range headers {
		name, value := h[0], h[1]
		if name == "" {
			return fmt.Errorf("empty header name")
		}
		if strings.HasPrefix(name, ":") {
			if seenRegular {
				return fmt.Errorf("pseudo-header %q after regular header", name)
			}
			switch name {
			case ":method":
				if method != "" {
					return fmt.Errorf("duplicate :method")
				}
				method = value
			case ":scheme":
				if scheme != "" {
					return fmt.Errorf("duplicate :scheme")
				}
				scheme = value
			case ":path":
				if path != "" {
					return fmt.Errorf("duplicate :path")
				}
				path = value
			case ":authority":
				if sawAuthority {
					return fmt.Errorf("duplicate :authority")
				}
				sawAuthority = true
			default:
				return fmt.Errorf("unknown pseudo-header %q", name)
			}
			continue
		}
		seenRegular = true
		if name != strings.ToLower(name) {
			return fmt.Errorf("header name %q is not lowercase", name)
		}
		if connectionHeaders[name] {
			return fmt.Errorf("connection-specific header %q", name)
		}
		if name == "te" && value != "trailers" {
			return fmt.Errorf("te header must be \"trailers\", got %q", value)
		}
	}
	if method == "" {
		return fmt.Errorf("missing :method")
	}
	if method == "CONNECT" {
		if scheme != "" || path != "" {
			return fmt.Errorf("CONNECT request must omit :scheme and :path")
		}
		return nil
	}
	if scheme == "" {
		return fmt.Errorf("missing :scheme")
	}
	if path == "" {
		return fmt.Errorf("missing :path")
	}
	return nil
}

// validateTrailers checks a trailing header block: no pseudo-headers at all.
func validateTrailers(headers [][2]string) error {
	for _, h := range headers {
		name := h[0]
		if strings.HasPrefix(name, ":") {
			return fmt.Errorf("pseudo-header %q in trailers", name)
		}
		if name != strings.ToLower(name) {
			return fmt.Errorf("header name %q is not lowercase", name)
		}
		if connectionHeaders[name] {
			return fmt.Errorf("connection-specific header %q in trailers", name)
		}
	}
	return nil
}

// validateContentLength cross-checks a declared content-length against the
// body octets actually received, once the peer ends its direction.
func validateContentLength(headers [][2]string, received int) error {
	for _, h := range headers {
		if h[0] != "content-length" {
			continue
		}
		declared, err := strconv.ParseInt(h[1], 10, 64)
		if err != nil || declared < 0 {
			return fmt.Errorf("malformed content-length %q", h[1])
		}
		if declared != int64(received) {
			return fmt.Errorf("content-length %d does not match %d body bytes", declared, received)
		}
		return nil
	}
	return nil
}
