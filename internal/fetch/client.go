// Package fetch retrieves the origin resource on the client's behalf. The
// proxy is not an anonymizer: cookies, user agent and the client address are
// forwarded so the origin sees the real requester.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/dunamismax/pixelthrift/internal/config"
	"github.com/dunamismax/pixelthrift/internal/domain"
)

// ErrOriginRefused marks anti-bot style responses (403, 429, 503). Whatever
// body the origin returned rides along in the FetchResult so the caller can
// bypass with it instead of failing the request.
var ErrOriginRefused = errors.New("origin refused request")

// identityHeaders are copied from the inbound request so the origin sees the
// real client.
var identityHeaders = []string{
	"Cookie",
	"User-Agent",
	"Accept",
	"Accept-Language",
	"Referer",
	"DNT",
}

type Client struct {
	logger       *log.Logger
	client       *http.Client
	maxBodyBytes int64
}

func NewClient(logger *log.Logger, cfg config.FetchConfig) *Client {
	return &Client{
		logger: logger,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// Forwarded is the client identity attached to the outbound request.
type Forwarded struct {
	Header     http.Header
	RemoteAddr string
}

// Fetch retrieves rawURL and buffers up to the configured byte limit. The
// response body is kept exactly as transferred; undoing content-encoding is
// the decoder's job.
func (c *Client) Fetch(ctx context.Context, rawURL string, fwd Forwarded) (domain.FetchResult, error) {
	var zero domain.FetchResult

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return zero, fmt.Errorf("build origin request: %w", err)
	}

	for _, name := range identityHeaders {
		if v := fwd.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	// Ask only for encodings the decoder can undo.
	req.Header.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	req.Header.Set("Via", "1.1 pixelthrift")
	if ip := clientIP(fwd.RemoteAddr); ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return zero, fmt.Errorf("origin fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return zero, fmt.Errorf("read origin body: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return zero, fmt.Errorf("origin body exceeds %d byte limit", c.maxBodyBytes)
	}

	result := domain.FetchResult{
		StatusCode:      resp.StatusCode,
		Header:          resp.Header,
		Body:            body,
		ContentEncoding: resp.Header.Get("Content-Encoding"),
	}

	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return result, ErrOriginRefused
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result, fmt.Errorf("origin returned status=%d", resp.StatusCode)
	}
	return result, nil
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return strings.TrimSpace(host)
}
