package frame

import (
	"bytes"

	"golang.org/x/net/http2/hpack"
)

// HeaderCodec is the pluggable header-compression contract. Implementations
// are stateful across a whole connection, so a decode failure corrupts shared
// state and must be treated as a connection error by the caller.
type HeaderCodec interface {
	Encode(headers [][2]string) ([]byte, error)
	Decode(block []byte) ([][2]string, error)
}

// HPACKCodec is the default HeaderCodec, backed by the x/net hpack
// implementation. One instance serves one connection; it is not safe for
// concurrent use.
type HPACKCodec struct {
	enc    *hpack.Encoder
	encBuf bytes.Buffer
	dec    *hpack.Decoder
}

// NewHPACKCodec creates a codec with the given dynamic table size for
// decoding. The encoder uses the protocol default table size.
func NewHPACKCodec(maxDynamicTable uint32) *HPACKCodec {
	c := &HPACKCodec{}
	c.enc = hpack.NewEncoder(&c.encBuf)
	c.dec = hpack.NewDecoder(maxDynamicTable, nil)
	return c
}

// Encode serializes headers into one HPACK block. The returned slice is a
// copy and stays valid across subsequent calls.
func (c *HPACKCodec) Encode(headers [][2]string) ([]byte, error) {
	c.encBuf.Reset()
	for _, h := range headers {
		if err := c.enc.WriteField(hpack.HeaderField{Name: h[0], Value: h[1]}); err != nil {
			return nil, err
		}
	}
	block := make([]byte, c.encBuf.Len())
	copy(block, c.encBuf.Bytes())
	return block, nil
}

// Decode parses a complete HPACK block. Failure is reported as a
// COMPRESSION_ERROR connection error because the decoder state is shared by
// every stream on the connection.
func (c *HPACKCodec) Decode(block []byte) ([][2]string, error) {
	headers := make([][2]string, 0, 16)
	c.dec.SetEmitFunc(func(hf hpack.HeaderField) {
		headers = append(headers, [2]string{hf.Name, hf.Value})
	})
	defer c.dec.SetEmitFunc(nil)
	if _, err := c.dec.Write(block); err != nil {
		return nil, connError(ErrCodeCompression, "header block decoding failed: "+err.Error())
	}
	if err := c.dec.Close(); err != nil {
		return nil, connError(ErrCodeCompression, "header block truncated: "+err.Error())
	}
	return headers, nil
}
