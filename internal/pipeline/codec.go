// Package pipeline runs the transcode itself: it sequences the codec
// operations a plan calls for, bounds them with timeouts and a concurrency
// limit, and falls back across formats when an encoder rejects the content.
package pipeline

import (
	"errors"

	"github.com/dunamismax/pixelthrift/internal/domain"
)

var (
	// ErrCodecRejected means the encoder cannot produce the planned format
	// for this content (container limits, missing encoder support). The
	// orchestrator answers it with exactly one fallback attempt.
	ErrCodecRejected = errors.New("codec rejected planned format")

	// ErrDeadline marks a metadata read or encode that exceeded its bound.
	ErrDeadline = errors.New("transcode stage deadline exceeded")
)

// Image is one decoded (or lazily decoded) source being worked on. Ops apply
// in place; Close releases codec resources and must be called on every path.
type Image interface {
	Width() int
	Height() int
	Frames() int
	Grayscale() error
	Blur(sigma float64) error
	Saturate(scale float64) error
	Sharpen(sigma float64) error
	ScaleDown(factor float64) error
	Export(plan domain.EncodePlan) ([]byte, error)
	Close()
}

// Codec is a backend that can open images and export plans. Two live in this
// package: libvips behind the govips build tag, and a stdlib fallback.
type Codec interface {
	Open(data []byte, animated bool) (Image, error)
	Supports(format domain.OutputFormat) bool
}
