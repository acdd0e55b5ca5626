// Package inspect classifies an origin payload as image/non-image and
// static/animated by looking at the declared MIME type and the raw bytes.
// It never decodes pixels.
package inspect

import (
	"bytes"
	"encoding/binary"
	"log"
	"strings"
)

// Description is the inspector's verdict for one payload.
type Description struct {
	IsImage    bool
	IsAnimated bool
}

var (
	pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	// GIF application extension announcing a loop count; present in
	// virtually every multi-frame GIF ever written.
	gifNetscapeMarker = []byte("NETSCAPE2.0")
	apngAnimationCtrl = []byte("acTL")
)

// Describe inspects buf under its declared MIME type. Malformed container
// data is reported as static, never as an error.
func Describe(logger *log.Logger, buf []byte, mimeType string) Description {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}

	d := Description{IsImage: strings.HasPrefix(mt, "image/")}
	if !d.IsImage {
		return d
	}

	switch mt {
	case "image/gif":
		d.IsAnimated = bytes.Contains(buf, gifNetscapeMarker)
	case "image/png", "image/apng":
		d.IsAnimated = pngHasAnimationControl(logger, buf)
	}
	return d
}

// pngHasAnimationControl walks the PNG chunk stream looking for an acTL
// chunk. Each chunk is a 4-byte big-endian length, a 4-byte type, the data,
// and a 4-byte CRC. The cursor arithmetic is bounds-checked at every step so
// truncated or lying chunk headers stop the scan instead of reading past the
// buffer.
func pngHasAnimationControl(logger *log.Logger, buf []byte) bool {
	if !bytes.HasPrefix(buf, pngSignature) {
		return false
	}

	const (
		chunkHeaderLen  = 8
		chunkCRCLen     = 4
		maxPNGChunkData = 1 << 31 // length field is defined as at most 2^31-1
	)

	cursor := len(pngSignature)
	for cursor+chunkHeaderLen <= len(buf) {
		length := int64(binary.BigEndian.Uint32(buf[cursor : cursor+4]))
		chunkType := buf[cursor+4 : cursor+8]

		if bytes.Equal(chunkType, apngAnimationCtrl) {
			return true
		}
		if length >= maxPNGChunkData {
			logger.Printf("png scan stopped: implausible chunk length=%d", length)
			return false
		}

		next := int64(cursor) + chunkHeaderLen + length + chunkCRCLen
		if next <= int64(cursor) || next > int64(len(buf)) {
			// Truncated stream; everything up to here was static.
			return false
		}
		cursor = int(next)
	}
	return false
}
