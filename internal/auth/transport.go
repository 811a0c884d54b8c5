package auth

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// compatTransport sends the header set the provider is known to accept and
// decodes the compressed bodies that header set invites.
//
// Setting Accept-Encoding by hand turns off net/http's transparent gzip
// handling, so decoding happens here. Brotli is the provider's usual pick.
type compatTransport struct {
	host string
	base http.RoundTripper
}

func (t *compatTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if t.host != "" {
		r.Host = t.host
	}
	r.Header.Set("Accept", "*/*")
	r.Header.Set("Accept-Encoding", "gzip, deflate, br")
	r.Header.Set("Connection", "keep-alive")

	resp, err := t.base.RoundTrip(r)
	if err != nil {
		return nil, err
	}

	if err := decodeBody(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// decodeBody replaces resp.Body with a decoding reader for the response's
// Content-Encoding. Unknown encodings are passed through untouched.
func decodeBody(resp *http.Response) error {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))

	var (
		decoded io.Reader
		err     error
	)
	switch encoding {
	case "gzip", "x-gzip":
		decoded, err = gzip.NewReader(resp.Body)
	case "deflate":
		decoded, err = newDeflateReader(resp.Body)
	case "br":
		decoded = brotli.NewReader(resp.Body)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("auth: decoding %s response: %w", encoding, err)
	}

	resp.Body = &decodedBody{Reader: decoded, raw: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// newDeflateReader handles both zlib-wrapped deflate, which is what HTTP
// "deflate" means, and the raw deflate streams some servers send instead.
func newDeflateReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(header) == 2 && isZlibHeader(header[0], header[1]) {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

type decodedBody struct {
	io.Reader
	raw io.ReadCloser
}

func (b *decodedBody) Close() error {
	if c, ok := b.Reader.(io.Closer); ok {
		c.Close()
	}
	return b.raw.Close()
}
