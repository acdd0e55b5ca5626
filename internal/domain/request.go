package domain

import (
	"net/http"
	"net/url"
	"strings"
)

// FormatPreference selects the output codec family. The modern family means
// webp (or avif where the build supports it); callers that need universal
// decoder support ask for jpeg instead.
type FormatPreference int

const (
	PreferModern FormatPreference = iota
	PreferJpeg
)

func (p FormatPreference) String() string {
	if p == PreferJpeg {
		return "jpeg"
	}
	return "modern"
}

// FetchResult is produced once per request by the origin fetch and is not
// mutated afterwards. Body holds the raw transfer bytes before any
// content-encoding is undone.
type FetchResult struct {
	StatusCode      int
	Header          http.Header
	Body            []byte
	ContentEncoding string
}

func (f FetchResult) ContentType() string {
	ct := f.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// ImageMetadata is derived once from the decoded bytes.
type ImageMetadata struct {
	Width  int
	Height int
	Frames int
	Bytes  int64
}

func (m ImageMetadata) PixelCount() int64 {
	return int64(m.Width) * int64(m.Height)
}

// CompressionContext carries everything the eligibility and planning passes
// need. It is immutable per request; nothing in it survives the response.
type CompressionContext struct {
	URL        *url.URL
	MIMEType   string
	Bytes      int64
	Preference FormatPreference
	Grayscale  bool
	Quality    int
	Animated   bool
}

func (c CompressionContext) IsPNG() bool {
	return c.MIMEType == "image/png" || c.MIMEType == "image/apng"
}

func (c CompressionContext) IsGIF() bool {
	return c.MIMEType == "image/gif"
}

// TranscodeResult is the orchestrator's output. Format reflects what was
// actually encoded, which can differ from the plan after a fallback.
type TranscodeResult struct {
	Data   []byte
	Bytes  int64
	Format OutputFormat
}
