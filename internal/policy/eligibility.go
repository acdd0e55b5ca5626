// Package policy holds the pure decision logic of the proxy: whether a
// payload is worth transcoding, and the exact encoder parameters if it is.
// Nothing here touches the network or a codec; every function is a
// deterministic mapping from its arguments.
package policy

import (
	"strings"

	"github.com/dunamismax/pixelthrift/internal/config"
	"github.com/dunamismax/pixelthrift/internal/domain"
)

// Eligible decides transcode vs bypass. All predicates must pass; the first
// failing one wins.
//
// The size floors scale with the risk of the re-encode: tiny modern-format
// candidates are not worth the CPU, small PNG/GIF sources being forced to
// jpeg would trade transparency for little gain, and small animated PNGs
// break more often than they shrink.
func Eligible(cfg config.CompressConfig, c domain.CompressionContext) bool {
	if !strings.HasPrefix(c.MIMEType, "image/") || c.Bytes <= 0 {
		return false
	}

	minLen := cfg.MinCompressLength
	if c.Preference == domain.PreferModern && c.Bytes < minLen {
		return false
	}
	if c.Preference == domain.PreferJpeg && (c.IsPNG() || c.IsGIF()) && c.Bytes < minLen*50 {
		return false
	}
	if c.IsPNG() && c.Animated && c.Bytes < minLen*100 {
		return false
	}
	return true
}
