//go:build govips && cgo

package pipeline

import (
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelthrift/internal/domain"
)

type govipsCodec struct{}

func (govipsCodec) Open(data []byte, animated bool) (Image, error) {
	if animated {
		params := vips.NewImportParams()
		params.NumPages.Set(-1)
		ref, err := vips.LoadImageFromBuffer(data, params)
		if err != nil {
			return nil, fmt.Errorf("open animated source: %w", err)
		}
		return &govipsImage{ref: ref}, nil
	}

	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return &govipsImage{ref: ref}, nil
}

func (govipsCodec) Supports(domain.OutputFormat) bool { return true }

type govipsImage struct {
	ref *vips.ImageRef
}

func (i *govipsImage) Width() int  { return i.ref.Width() }
func (i *govipsImage) Height() int { return i.ref.Height() }
func (i *govipsImage) Frames() int {
	pages := i.ref.Pages()
	if pages < 1 {
		return 1
	}
	return pages
}

func (i *govipsImage) Grayscale() error {
	if err := i.ref.ToColorSpace(vips.InterpretationBW); err != nil {
		return fmt.Errorf("grayscale: %w", err)
	}
	return nil
}

func (i *govipsImage) Blur(sigma float64) error {
	if sigma <= 0 {
		return nil
	}
	if err := i.ref.GaussianBlur(sigma); err != nil {
		return fmt.Errorf("blur: %w", err)
	}
	return nil
}

func (i *govipsImage) Saturate(scale float64) error {
	if scale <= 0 || scale == 1 {
		return nil
	}
	if err := i.ref.Modulate(1, scale, 0); err != nil {
		return fmt.Errorf("saturate: %w", err)
	}
	return nil
}

func (i *govipsImage) Sharpen(sigma float64) error {
	if sigma <= 0 {
		return nil
	}
	if err := i.ref.Sharpen(sigma, 1, 2); err != nil {
		return fmt.Errorf("sharpen: %w", err)
	}
	return nil
}

func (i *govipsImage) ScaleDown(factor float64) error {
	if factor <= 0 || factor >= 1 {
		return nil
	}
	if err := i.ref.Resize(factor, vips.KernelLanczos3); err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	return nil
}

// Export encodes according to the plan variant. Any libvips save failure for
// the modern formats is reported as a rejection so the orchestrator can retry
// once in the next container; jpeg failures are terminal.
func (i *govipsImage) Export(plan domain.EncodePlan) ([]byte, error) {
	switch p := plan.(type) {
	case domain.WebpPlan:
		params := vips.NewWebpExportParams()
		params.Quality = p.Quality
		params.ReductionEffort = p.ReductionEffort
		data, _, err := i.ref.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("%w: webp: %v", ErrCodecRejected, err)
		}
		return data, nil
	case domain.AvifPlan:
		// heifsave exposes quality and effort; the tile and quantizer
		// hints in the plan have no libvips knob.
		params := vips.NewAvifExportParams()
		params.Quality = p.Quality
		params.Effort = p.Effort
		data, _, err := i.ref.ExportAvif(params)
		if err != nil {
			return nil, fmt.Errorf("%w: avif: %v", ErrCodecRejected, err)
		}
		return data, nil
	case domain.JpegPlan:
		params := vips.NewJpegExportParams()
		params.Quality = p.Quality
		params.OptimizeCoding = true
		params.SubsampleMode = subsampleMode(p.Subsample)
		data, _, err := i.ref.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unknown plan %T", ErrCodecRejected, plan)
	}
}

func (i *govipsImage) Close() {
	i.ref.Close()
}

func subsampleMode(s domain.Subsampling) vips.SubsampleMode {
	switch s {
	case domain.SubsampleOn:
		return vips.VipsForeignSubsampleOn
	case domain.SubsampleOff:
		return vips.VipsForeignSubsampleOff
	default:
		return vips.VipsForeignSubsampleAuto
	}
}

func newCodec() Codec {
	return govipsCodec{}
}
