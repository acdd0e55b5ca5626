package api

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelthrift/internal/domain"
)

const (
	headerOriginalSize = "x-original-size"
	headerBytesSaved   = "x-bytes-saved"
	headerBypass       = "x-proxy-bypass"

	fallbackFilename = "image"
	cacheControl     = "public, max-age=604800"
)

// trackedWriter suppresses writes after the header has gone out so a failed
// attempt earlier in the pipeline can never turn into a second WriteHeader
// panic. The suppression itself is logged by the caller.
type trackedWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (t *trackedWriter) WriteHeader(statusCode int) {
	if t.wroteHeader {
		return
	}
	t.wroteHeader = true
	t.ResponseWriter.WriteHeader(statusCode)
}

func (t *trackedWriter) Write(b []byte) (int, error) {
	if !t.wroteHeader {
		t.WriteHeader(http.StatusOK)
	}
	return t.ResponseWriter.Write(b)
}

// respondTranscoded emits the re-encoded image with savings accounting
// headers. Savings are clamped at zero: a transcode that grew the payload
// still reports honestly.
func (s *Server) respondTranscoded(w *trackedWriter, target *url.URL, result domain.TranscodeResult, originalSize int64) {
	if w.wroteHeader {
		s.logger.Printf("response already started, dropping transcoded body url=%s", target)
		return
	}

	saved := originalSize - result.Bytes
	if saved < 0 {
		saved = 0
	}
	if originalSize < 0 {
		originalSize = 0
	}

	h := w.Header()
	h.Set("Content-Type", result.Format.MIME())
	h.Set("Content-Length", strconv.FormatInt(result.Bytes, 10))
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", downloadFilename(target, string(result.Format))))
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", cacheControl)
	h.Set(headerOriginalSize, strconv.FormatInt(originalSize, 10))
	h.Set(headerBytesSaved, strconv.FormatInt(saved, 10))

	if _, err := w.Write(result.Data); err != nil {
		s.logger.Printf("client write failed url=%s err=%v", target, err)
	}
}

// respondBypass forwards the origin bytes unmodified, marked as such.
func (s *Server) respondBypass(w *trackedWriter, target *url.URL, contentType string, body []byte) {
	if w.wroteHeader {
		s.logger.Printf("response already started, dropping bypass body url=%s", target)
		return
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", cacheControl)
	h.Set(headerBypass, "1")
	h.Set(headerOriginalSize, strconv.Itoa(len(body)))
	h.Set(headerBytesSaved, "0")

	if _, err := w.Write(body); err != nil {
		s.logger.Printf("client write failed url=%s err=%v", target, err)
	}
}

// redirectToOrigin sends the client to the original resource instead of
// surfacing a pipeline failure as an error page.
func (s *Server) redirectToOrigin(w *trackedWriter, r *http.Request, target *url.URL) {
	if w.wroteHeader {
		s.logger.Printf("response already started, dropping redirect url=%s", target)
		return
	}
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// downloadFilename derives a content-disposition filename from the URL's
// last path segment: percent-decoded, stripped of control characters and
// path separators, falling back to a generic name whenever decoding or
// sanitizing comes up empty.
func downloadFilename(target *url.URL, format string) string {
	segment := path.Base(target.EscapedPath())
	if segment == "/" || segment == "." {
		segment = ""
	}

	decoded, err := url.PathUnescape(segment)
	if err != nil {
		decoded = ""
	}

	var b strings.Builder
	for _, r := range decoded {
		if r < 0x20 || r == 0x7f || r == '/' || r == '\\' || r == '"' {
			continue
		}
		b.WriteRune(r)
	}
	name := strings.TrimSpace(b.String())
	if name == "" {
		name = fallbackFilename
	}

	// The delivered format wins over whatever extension the origin used.
	ext := "." + format
	if !strings.HasSuffix(strings.ToLower(name), ext) {
		if i := strings.LastIndexByte(name, '.'); i > 0 {
			name = name[:i]
		}
		name += ext
	}
	return name
}
