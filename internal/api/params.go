package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dunamismax/pixelthrift/internal/config"
	"github.com/dunamismax/pixelthrift/internal/domain"
)

var errMissingURL = errors.New("url query parameter is required")

// requestParams is the validated, normalized query surface:
//
//	GET /?url=<origin>&l=<quality>&jpeg=<flag>&bw=<flag>
type requestParams struct {
	URL        *url.URL
	Quality    int
	Preference domain.FormatPreference
	Grayscale  bool
}

// resolveParams validates the inbound query. Only a bad or missing url is an
// error; every other parameter falls back to its default.
func resolveParams(cfg config.CompressConfig, r *http.Request) (requestParams, error) {
	query := r.URL.Query()

	rawURL := query.Get("url")
	if rawURL == "" {
		return requestParams{}, errMissingURL
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return requestParams{}, fmt.Errorf("invalid url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return requestParams{}, fmt.Errorf("url must carry an explicit http or https scheme, got %q", target.Scheme)
	}
	if target.Host == "" {
		return requestParams{}, errors.New("url is missing a host")
	}

	quality := cfg.DefaultQuality
	if raw := query.Get("l"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			quality = parsed
		}
	}
	if quality < cfg.MinQuality {
		quality = cfg.MinQuality
	}
	if quality > cfg.MaxQuality {
		quality = cfg.MaxQuality
	}

	preference := domain.PreferModern
	if query.Has("jpeg") {
		preference = domain.PreferJpeg
	}

	// Grayscale is the bandwidth-saving default; bw=0 or bw=false opts out.
	grayscale := true
	if query.Has("bw") {
		if parsed, err := strconv.ParseBool(query.Get("bw")); err == nil {
			grayscale = parsed
		}
	}

	return requestParams{
		URL:        target,
		Quality:    quality,
		Preference: preference,
		Grayscale:  grayscale,
	}, nil
}
