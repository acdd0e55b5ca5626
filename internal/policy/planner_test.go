package policy

import (
	"reflect"
	"testing"

	"github.com/dunamismax/pixelthrift/internal/domain"
)

func TestPlanEncodeIsDeterministic(t *testing.T) {
	cfg := testCompressConfig()
	c := domain.CompressionContext{MIMEType: "image/jpeg", Bytes: 2_000_000, Quality: 70}
	meta := domain.ImageMetadata{Width: 2000, Height: 1500, Frames: 1, Bytes: 2_000_000}

	first := PlanEncode(cfg, c, meta)
	second := PlanEncode(cfg, c, meta)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs produced different plans: %#v vs %#v", first, second)
	}
}

func TestPlanEncodeFormatSelection(t *testing.T) {
	cfg := testCompressConfig()
	meta := domain.ImageMetadata{Width: 400, Height: 300, Frames: 1, Bytes: 50_000}

	modern := PlanEncode(cfg, domain.CompressionContext{Quality: 70}, meta)
	if _, ok := modern.(domain.AvifPlan); !ok {
		t.Fatalf("expected avif plan for modern preference, got %T", modern)
	}

	jpeg := PlanEncode(cfg, domain.CompressionContext{Quality: 70, Preference: domain.PreferJpeg}, meta)
	if _, ok := jpeg.(domain.JpegPlan); !ok {
		t.Fatalf("expected jpeg plan for jpeg preference, got %T", jpeg)
	}

	animMeta := domain.ImageMetadata{Width: 400, Height: 300, Frames: 12, Bytes: 500_000}
	anim := PlanEncode(cfg, domain.CompressionContext{Quality: 70, Preference: domain.PreferJpeg, Animated: true}, animMeta)
	webp, ok := anim.(domain.WebpPlan)
	if !ok {
		t.Fatalf("expected webp plan for animated source regardless of preference, got %T", anim)
	}
	if !webp.Animated {
		t.Fatal("expected animated flag on the webp plan")
	}
}

func TestAdaptiveQualityLadder(t *testing.T) {
	cfg := testCompressConfig()

	// Light image keeps the requested quality after clamping.
	light := domain.ImageMetadata{Width: 400, Height: 300, Bytes: 100_000}
	if q := adaptiveQuality(cfg, 70, light); q != 70 {
		t.Fatalf("expected light image to keep quality 70, got %d", q)
	}

	// Heaviest rung: >3Mpx and >1.5MB cuts to a tenth, rounded up.
	heavy := domain.ImageMetadata{Width: 2500, Height: 2000, Bytes: 2_000_000}
	if q := adaptiveQuality(cfg, 70, heavy); q != 7 {
		t.Fatalf("expected heavy image quality 7, got %d", q)
	}

	// Both thresholds of a rung must trip: 5Mpx but only 1MB lands on the
	// 2Mpx/1MB rung, not the 3Mpx/1.5MB one.
	wide := domain.ImageMetadata{Width: 2500, Height: 2000, Bytes: 1_000_001}
	if q := adaptiveQuality(cfg, 70, wide); q != 18 {
		t.Fatalf("expected 0.25 rung quality 18, got %d", q)
	}

	// Requested quality is clamped into the configured band first.
	if q := adaptiveQuality(cfg, 200, light); q != cfg.MaxQuality {
		t.Fatalf("expected clamp to %d, got %d", cfg.MaxQuality, q)
	}
	if q := adaptiveQuality(cfg, 5, light); q != cfg.MinQuality {
		t.Fatalf("expected clamp to %d, got %d", cfg.MinQuality, q)
	}

	// Attenuation never drops below 1.
	if q := adaptiveQuality(cfg, 40, heavy); q < 1 {
		t.Fatalf("expected quality floor of 1, got %d", q)
	}
}

func TestAdaptiveQualityMonotonicInPixelCount(t *testing.T) {
	cfg := testCompressConfig()

	sizes := []domain.ImageMetadata{
		{Width: 400, Height: 300, Bytes: 3_000_000},
		{Width: 900, Height: 700, Bytes: 3_000_000},
		{Width: 1300, Height: 1000, Bytes: 3_000_000},
		{Width: 1800, Height: 1400, Bytes: 3_000_000},
		{Width: 2500, Height: 2000, Bytes: 3_000_000},
	}

	prev := cfg.MaxQuality + 1
	for _, meta := range sizes {
		q := adaptiveQuality(cfg, 70, meta)
		if q > prev {
			t.Fatalf("quality rose from %d to %d at %dx%d", prev, q, meta.Width, meta.Height)
		}
		prev = q
	}
}

func TestAvifTierByDimension(t *testing.T) {
	big := avifTierFor(domain.ImageMetadata{Width: 3000, Height: 2000})
	if big.tiles != 4 || big.effort != 2 {
		t.Fatalf("expected 4 tiles effort 2 for 3000px side, got %+v", big)
	}

	mid := avifTierFor(domain.ImageMetadata{Width: 800, Height: 1600})
	if mid.tiles != 2 || mid.effort != 4 {
		t.Fatalf("expected 2 tiles effort 4 for 1600px side, got %+v", mid)
	}

	small := avifTierFor(domain.ImageMetadata{Width: 640, Height: 480})
	if small.tiles != 1 || small.effort != 6 {
		t.Fatalf("expected 1 tile effort 6 for small image, got %+v", small)
	}
}

func TestFallbackPlanChain(t *testing.T) {
	avif := domain.AvifPlan{Quality: 30, Subsample: domain.SubsampleOn}
	next, ok := FallbackPlan(avif)
	if !ok {
		t.Fatal("expected avif to have a fallback")
	}
	webp, isWebp := next.(domain.WebpPlan)
	if !isWebp {
		t.Fatalf("expected webp fallback for avif, got %T", next)
	}
	if webp.Quality != 30 || webp.Subsample != domain.SubsampleOn {
		t.Fatalf("expected quality and subsampling carried over, got %+v", webp)
	}

	next, ok = FallbackPlan(webp)
	if !ok {
		t.Fatal("expected static webp to have a fallback")
	}
	if _, isJpeg := next.(domain.JpegPlan); !isJpeg {
		t.Fatalf("expected jpeg fallback for static webp, got %T", next)
	}

	if _, ok := FallbackPlan(next); ok {
		t.Fatal("expected jpeg to be terminal")
	}

	if _, ok := FallbackPlan(domain.WebpPlan{Animated: true}); ok {
		t.Fatal("expected animated webp to have no fallback")
	}
}

func TestSubsampleForQuality(t *testing.T) {
	if subsampleFor(49) != domain.SubsampleOn {
		t.Fatal("expected forced subsampling below quality 50")
	}
	if subsampleFor(50) != domain.SubsampleAuto {
		t.Fatal("expected auto subsampling at quality 50")
	}
}
