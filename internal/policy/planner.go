package policy

import (
	"math"

	"github.com/dunamismax/pixelthrift/internal/config"
	"github.com/dunamismax/pixelthrift/internal/domain"
)

// The planner is a pure function: identical (context, metadata) inputs always
// produce an identical plan. All threshold tables live here and nowhere else.

const mpx = 1_000_000

// qualityLadder attenuates the requested quality for heavy images, most
// severe rung first. A big, heavy image gets quantized hard; a small, light
// one keeps close to what the caller asked for.
var qualityLadder = []struct {
	minPixels int64
	minBytes  int64
	factor    float64
}{
	{minPixels: 3 * mpx, minBytes: 1_500_000, factor: 0.1},
	{minPixels: 2 * mpx, minBytes: 1_000_000, factor: 0.25},
	{minPixels: 1 * mpx, minBytes: 500_000, factor: 0.5},
	{minPixels: mpx / 2, minBytes: 250_000, factor: 0.75},
}

type avifTier struct {
	minDimension int
	tiles        int
	minQuantizer int
	maxQuantizer int
	effort       int
}

// avifTiers trade encode time for size by dimension: big images get more
// tiles, a wider quantizer range and less effort, since their quality is
// already being pulled down hard by the ladder.
var avifTiers = []avifTier{
	{minDimension: 2400, tiles: 4, minQuantizer: 30, maxQuantizer: 63, effort: 2},
	{minDimension: 1200, tiles: 2, minQuantizer: 25, maxQuantizer: 55, effort: 4},
	{minDimension: 0, tiles: 1, minQuantizer: 20, maxQuantizer: 45, effort: 6},
}

// artifactBuckets select the denoise-then-resharpen strength by pixel count.
// Heavier quantization needs a stronger blur to hide ringing and a stronger
// sharpen to win the edges back.
var artifactBuckets = []struct {
	minPixels int64
	reduction domain.ArtifactReduction
}{
	{minPixels: 3 * mpx, reduction: domain.ArtifactReduction{BlurSigma: 1.2, SharpenSigma: 1.4, Saturation: 0.85}},
	{minPixels: 1 * mpx, reduction: domain.ArtifactReduction{BlurSigma: 0.8, SharpenSigma: 1.0, Saturation: 0.9}},
	{minPixels: 3 * mpx / 10, reduction: domain.ArtifactReduction{BlurSigma: 0.5, SharpenSigma: 0.7, Saturation: 0.95}},
	{minPixels: 0, reduction: domain.ArtifactReduction{BlurSigma: 0.3, SharpenSigma: 0.5, Saturation: 1.0}},
}

// PlanEncode maps a request context and image geometry to a concrete encode
// plan. Animation forces webp regardless of preference; otherwise the modern
// family plans avif and the jpeg family plans jpeg.
func PlanEncode(cfg config.CompressConfig, c domain.CompressionContext, meta domain.ImageMetadata) domain.EncodePlan {
	quality := adaptiveQuality(cfg, c.Quality, meta)
	sub := subsampleFor(quality)

	if c.Animated {
		return domain.WebpPlan{
			Quality:         quality,
			Subsample:       sub,
			ReductionEffort: 2,
			Animated:        true,
		}
	}

	artifact := artifactFor(meta)

	if c.Preference == domain.PreferJpeg {
		return domain.JpegPlan{
			Quality:   quality,
			Subsample: sub,
			Artifact:  artifact,
		}
	}

	tier := avifTierFor(meta)
	return domain.AvifPlan{
		Quality:      quality,
		Subsample:    sub,
		TileRows:     tier.tiles,
		TileCols:     tier.tiles,
		MinQuantizer: tier.minQuantizer,
		MaxQuantizer: tier.maxQuantizer,
		Effort:       tier.effort,
		Artifact:     artifact,
	}
}

// FallbackPlan derives the one-shot replacement plan after a codec rejects
// the planned format: avif falls back to webp, static webp to jpeg. Animated
// webp has nowhere compatible left to go.
func FallbackPlan(plan domain.EncodePlan) (domain.EncodePlan, bool) {
	switch p := plan.(type) {
	case domain.AvifPlan:
		return domain.WebpPlan{
			Quality:         p.Quality,
			Subsample:       p.Subsample,
			ReductionEffort: 4,
			Artifact:        p.Artifact,
		}, true
	case domain.WebpPlan:
		if p.Animated {
			return nil, false
		}
		return domain.JpegPlan{
			Quality:   p.Quality,
			Subsample: p.Subsample,
			Artifact:  p.Artifact,
		}, true
	default:
		return nil, false
	}
}

func adaptiveQuality(cfg config.CompressConfig, requested int, meta domain.ImageMetadata) int {
	quality := clamp(requested, cfg.MinQuality, cfg.MaxQuality)

	pixels := meta.PixelCount()
	for _, rung := range qualityLadder {
		if pixels > rung.minPixels && meta.Bytes > rung.minBytes {
			quality = int(math.Ceil(float64(quality) * rung.factor))
			break
		}
	}
	if quality < 1 {
		quality = 1
	}
	return quality
}

func avifTierFor(meta domain.ImageMetadata) avifTier {
	longest := meta.Width
	if meta.Height > longest {
		longest = meta.Height
	}
	for _, tier := range avifTiers {
		if longest > tier.minDimension {
			return tier
		}
	}
	return avifTiers[len(avifTiers)-1]
}

func artifactFor(meta domain.ImageMetadata) domain.ArtifactReduction {
	pixels := meta.PixelCount()
	for _, bucket := range artifactBuckets {
		if pixels > bucket.minPixels {
			return bucket.reduction
		}
	}
	return artifactBuckets[len(artifactBuckets)-1].reduction
}

func subsampleFor(quality int) domain.Subsampling {
	if quality < 50 {
		return domain.SubsampleOn
	}
	return domain.SubsampleAuto
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
