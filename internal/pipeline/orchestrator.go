package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dunamismax/pixelthrift/internal/config"
	"github.com/dunamismax/pixelthrift/internal/domain"
	"github.com/dunamismax/pixelthrift/internal/policy"
)

// Sharpening below this pixel count does more harm than good.
const minSharpenPixels = 100_000

// Orchestrator owns the codec backend and the process-wide transcode
// concurrency limit. Metadata reads are cheap and run unbounded; encodes are
// CPU-bound and queue on the semaphore.
type Orchestrator struct {
	logger *log.Logger
	cfg    config.TranscodeConfig
	codec  Codec
	sem    chan struct{}
}

func NewOrchestrator(logger *log.Logger, cfg config.TranscodeConfig) *Orchestrator {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		logger: logger,
		cfg:    cfg,
		codec:  newCodec(),
		sem:    make(chan struct{}, concurrency),
	}
}

// ReadMetadata opens the source far enough to learn its geometry, bounded by
// the metadata timeout.
func (o *Orchestrator) ReadMetadata(ctx context.Context, data []byte, animated bool) (domain.ImageMetadata, error) {
	img, err := o.openBounded(ctx, data, animated)
	if err != nil {
		return domain.ImageMetadata{}, err
	}
	defer img.Close()

	return domain.ImageMetadata{
		Width:  img.Width(),
		Height: img.Height(),
		Frames: img.Frames(),
		Bytes:  int64(len(data)),
	}, nil
}

// Transcode runs the plan against the source: grayscale, artifact reduction,
// sharpen and downscale as the plan and geometry call for, then encode. A
// codec rejection of the planned format gets exactly one fallback attempt in
// the next most compatible container; a second failure is terminal.
func (o *Orchestrator) Transcode(ctx context.Context, src []byte, c domain.CompressionContext, plan domain.EncodePlan) (domain.TranscodeResult, error) {
	var zero domain.TranscodeResult

	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { <-o.sem }()

	plan = o.supportedPlan(plan)

	img, err := o.openBounded(ctx, src, c.Animated)
	if err != nil {
		return zero, err
	}
	handedOff := false
	defer func() {
		if !handedOff {
			img.Close()
		}
	}()

	if err := o.applyStages(ctx, img, c, plan); err != nil {
		return zero, err
	}

	data, err := o.exportBounded(ctx, img, plan, &handedOff)
	if errors.Is(err, ErrCodecRejected) {
		fallback, ok := policy.FallbackPlan(plan)
		if !ok {
			return zero, err
		}
		o.logger.Printf("codec rejected format=%s retrying format=%s", plan.Format(), fallback.Format())
		data, err = o.exportBounded(ctx, img, fallback, &handedOff)
		plan = fallback
	}
	if err != nil {
		return zero, err
	}

	return domain.TranscodeResult{
		Data:   data,
		Bytes:  int64(len(data)),
		Format: plan.Format(),
	}, nil
}

func (o *Orchestrator) applyStages(ctx context.Context, img Image, c domain.CompressionContext, plan domain.EncodePlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.Grayscale {
		if err := img.Grayscale(); err != nil {
			return fmt.Errorf("grayscale stage: %w", err)
		}
	}

	reduction := plan.Reduction()
	if !c.Animated && reduction.Enabled() {
		if err := img.Blur(reduction.BlurSigma); err != nil {
			return fmt.Errorf("artifact reduction stage: %w", err)
		}
		if err := img.Saturate(reduction.Saturation); err != nil {
			return fmt.Errorf("artifact reduction stage: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	pixels := int64(img.Width()) * int64(img.Height())
	if !c.Animated && reduction.SharpenSigma > 0 && pixels > minSharpenPixels {
		if err := img.Sharpen(reduction.SharpenSigma); err != nil {
			return fmt.Errorf("sharpen stage: %w", err)
		}
	}

	// Downscale-only, aspect-preserving, and only when a side exceeds the
	// hard container limit.
	longest := img.Width()
	if img.Height() > longest {
		longest = img.Height()
	}
	if o.cfg.MaxDimension > 0 && longest > o.cfg.MaxDimension {
		if err := img.ScaleDown(float64(o.cfg.MaxDimension) / float64(longest)); err != nil {
			return fmt.Errorf("resize stage: %w", err)
		}
	}

	return ctx.Err()
}

// supportedPlan substitutes formats this build cannot encode before any work
// happens. This is capability selection, not the runtime rejection fallback,
// which stays one-shot.
func (o *Orchestrator) supportedPlan(plan domain.EncodePlan) domain.EncodePlan {
	for !o.codec.Supports(plan.Format()) {
		fallback, ok := policy.FallbackPlan(plan)
		if !ok {
			return plan
		}
		o.logger.Printf("build lacks %s encoder, planning %s instead", plan.Format(), fallback.Format())
		plan = fallback
	}
	return plan
}

func (o *Orchestrator) openBounded(ctx context.Context, data []byte, animated bool) (Image, error) {
	type opened struct {
		img Image
		err error
	}
	ch := make(chan opened, 1)
	go func() {
		img, err := o.codec.Open(data, animated)
		ch <- opened{img: img, err: err}
	}()

	timer := time.NewTimer(o.cfg.MetadataTimeout)
	defer timer.Stop()
	select {
	case out := <-ch:
		if out.err != nil {
			return nil, fmt.Errorf("read metadata: %w", out.err)
		}
		return out.img, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	// Abandoned: release the handle whenever the stray open finishes.
	go func() {
		if out := <-ch; out.img != nil {
			out.img.Close()
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("read metadata: %w", ErrDeadline)
}

// exportBounded encodes under the encode timeout. On timeout or cancel the
// image is handed off to a reaper that closes it once the stray encode
// returns, so codec resources are released on every path without racing the
// in-flight call.
func (o *Orchestrator) exportBounded(ctx context.Context, img Image, plan domain.EncodePlan, handedOff *bool) ([]byte, error) {
	type exported struct {
		data []byte
		err  error
	}
	ch := make(chan exported, 1)
	go func() {
		data, err := img.Export(plan)
		ch <- exported{data: data, err: err}
	}()

	timer := time.NewTimer(o.cfg.EncodeTimeout)
	defer timer.Stop()
	select {
	case out := <-ch:
		return out.data, out.err
	case <-timer.C:
	case <-ctx.Done():
	}

	*handedOff = true
	go func() {
		<-ch
		img.Close()
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("encode: %w", ErrDeadline)
}
