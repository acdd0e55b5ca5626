// Package decode normalizes arbitrarily content-encoded origin payloads to
// raw bytes. Decoding failure is never fatal: the caller always gets bytes
// back, worst case the ones it passed in.
package decode

import (
	"bytes"
	"io"
	"log"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

type Decoder struct {
	logger   *log.Logger
	maxBytes int64
}

// New builds a Decoder that refuses to inflate past maxBytes. A payload that
// expands beyond the bound is treated like a failed decode and returned as-is.
func New(logger *log.Logger, maxBytes int64) *Decoder {
	if maxBytes <= 0 {
		maxBytes = 50 << 20
	}
	return &Decoder{logger: logger, maxBytes: maxBytes}
}

// Decode undoes the declared content-encoding. Unknown or broken encodings
// degrade to the original bytes with a log line; the pipeline keeps going.
func (d *Decoder) Decode(body []byte, encoding string) []byte {
	if len(body) == 0 {
		return body
	}

	enc := normalizeEncoding(encoding)
	if enc == "" || enc == "identity" {
		return body
	}

	out, err := d.decode(body, enc)
	if err != nil {
		d.logger.Printf("content decode degraded encoding=%s err=%v", enc, err)
		return body
	}
	return out
}

func (d *Decoder) decode(body []byte, enc string) ([]byte, error) {
	src := bytes.NewReader(body)

	switch enc {
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(src)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return d.readAll(r)
	case "deflate":
		// HTTP deflate is zlib-wrapped, but raw flate is common in the
		// wild; try both.
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err == nil {
			defer zr.Close()
			return d.readAll(zr)
		}
		fr := flate.NewReader(src)
		defer fr.Close()
		return d.readAll(fr)
	case "br":
		return d.readAll(brotli.NewReader(src))
	case "zstd":
		r, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return d.readAll(r.IOReadCloser())
	case "lzma":
		r, err := lzma.NewReader(src)
		if err != nil {
			return nil, err
		}
		return d.readAll(r)
	case "lzma2":
		r, err := lzma.NewReader2(src)
		if err != nil {
			return nil, err
		}
		return d.readAll(r)
	case "xz":
		r, err := xz.NewReader(src)
		if err != nil {
			return nil, err
		}
		return d.readAll(r)
	default:
		return nil, errUnknownEncoding(enc)
	}
}

func (d *Decoder) readAll(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, d.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > d.maxBytes {
		return nil, errTooLarge{limit: d.maxBytes}
	}
	return out, nil
}

func normalizeEncoding(encoding string) string {
	enc := strings.ToLower(strings.TrimSpace(encoding))
	// A list like "gzip, identity" means encodings were applied in order;
	// anything beyond a single label is rare enough to take the first token
	// and let the degraded path catch mismatches.
	if i := strings.IndexByte(enc, ','); i >= 0 {
		enc = strings.TrimSpace(enc[:i])
	}
	return enc
}

type errUnknownEncoding string

func (e errUnknownEncoding) Error() string { return "unknown content-encoding " + string(e) }

type errTooLarge struct{ limit int64 }

func (e errTooLarge) Error() string { return "decoded payload exceeds byte limit" }
