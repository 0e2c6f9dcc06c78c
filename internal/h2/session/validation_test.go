package session

import "testing"

func TestValidateRequestHeaders(t *testing.T) {
	valid := [][2]string{
		{":method", "GET"}, {":scheme", "https"}, {":path", "/"},
		{":authority", "example.com"}, {"accept", "*/*"},
	}
	if err := validateRequestHeaders(valid); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	cases := []struct {
		name    string
		headers [][2]string
	}{
		{"missing method", [][2]string{{":scheme", "https"}, {":path", "/"}}},
		{"missing path", [][2]string{{":method", "GET"}, {":scheme", "https"}}},
		{"missing scheme", [][2]string{{":method", "GET"}, {":path", "/"}}},
		{"duplicate method", [][2]string{{":method", "GET"}, {":method", "POST"}, {":scheme", "https"}, {":path", "/"}}},
		{"pseudo after regular", [][2]string{{":method", "GET"}, {"accept", "*/*"}, {":scheme", "https"}, {":path", "/"}}},
		{"unknown pseudo", [][2]string{{":method", "GET"}, {":scheme", "https"}, {":path", "/"}, {":weird", "x"}}},
		{"uppercase name", [][2]string{{":method", "GET"}, {":scheme", "https"}, {":path", "/"}, {"Accept", "*/*"}}},
		{"connection header", [][2]string{{":method", "GET"}, {":scheme", "https"}, {":path", "/"}, {"connection", "close"}}},
		{"bad te", [][2]string{{":method", "GET"}, {":scheme", "https"}, {":path", "/"}, {"te", "gzip"}}},
	}
	for _, tc := range cases {
		if err := validateRequestHeaders(tc.headers); err == nil {
			t.Errorf("%s: accepted", tc.name)
		}
	}

	connect := [][2]string{{":method", "CONNECT"}, {":authority", "example.com:443"}}
	if err := validateRequestHeaders(connect); err != nil {
		t.Errorf("CONNECT rejected: %v", err)
	}
	badConnect := [][2]string{{":method", "CONNECT"}, {":scheme", "https"}, {":authority", "x"}}
	if err := validateRequestHeaders(badConnect); err == nil {
		t.Error("CONNECT with :scheme accepted")
	}
}

func TestValidateTrailers(t *testing.T) {
	if err := validateTrailers([][2]string{{"grpc-status", "0"}}); err != nil {
		t.Errorf("valid trailers rejected: %v", err)
	}
	if err := validateTrailers([][2]string{{":status", "200"}}); err == nil {
		t.Error("pseudo-header in trailers accepted")
	}
	if err := validateTrailers([][2]string{{"Grpc-Status", "0"}}); err == nil {
		t.Error("uppercase trailer name accepted")
	}
}

func TestValidateContentLength(t *testing.T) {
	h := [][2]string{{":method", "POST"}, {"content-length", "4"}}
	if err := validateContentLength(h, 4); err != nil {
		t.Errorf("matching length rejected: %v", err)
	}
	if err := validateContentLength(h, 2); err == nil {
		t.Error("mismatched length accepted")
	}
	if err := validateContentLength([][2]string{{"content-length", "nope"}}, 0); err == nil {
		t.Error("malformed length accepted")
	}
	if err := validateContentLength([][2]string{{":method", "GET"}}, 7); err != nil {
		t.Errorf("absent content-length must not be checked: %v", err)
	}
}
