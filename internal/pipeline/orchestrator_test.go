package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/pixelthrift/internal/config"
	"github.com/dunamismax/pixelthrift/internal/domain"
)

var testLogger = log.New(io.Discard, "", 0)

type fakeImage struct {
	mu      sync.Mutex
	width   int
	height  int
	ops     []string
	closed  bool
	export  func(plan domain.EncodePlan) ([]byte, error)
	exports int
}

func (f *fakeImage) Width() int  { return f.width }
func (f *fakeImage) Height() int { return f.height }
func (f *fakeImage) Frames() int { return 1 }

func (f *fakeImage) Grayscale() error       { return f.record("grayscale") }
func (f *fakeImage) Blur(float64) error     { return f.record("blur") }
func (f *fakeImage) Saturate(float64) error { return f.record("saturate") }
func (f *fakeImage) Sharpen(float64) error  { return f.record("sharpen") }

func (f *fakeImage) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return nil
}

func (f *fakeImage) ScaleDown(factor float64) error {
	f.mu.Lock()
	f.width = int(float64(f.width) * factor)
	f.height = int(float64(f.height) * factor)
	f.mu.Unlock()
	return f.record("scale")
}

func (f *fakeImage) Export(plan domain.EncodePlan) ([]byte, error) {
	f.mu.Lock()
	f.exports++
	f.mu.Unlock()
	if f.export != nil {
		return f.export(plan)
	}
	return []byte("encoded:" + string(plan.Format())), nil
}

func (f *fakeImage) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeImage) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeImage) opList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ops))
	copy(out, f.ops)
	return out
}

type fakeCodec struct {
	img         *fakeImage
	openErr     error
	openDelay   time.Duration
	unsupported map[domain.OutputFormat]bool
}

func (c *fakeCodec) Open(data []byte, animated bool) (Image, error) {
	if c.openDelay > 0 {
		time.Sleep(c.openDelay)
	}
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.img, nil
}

func (c *fakeCodec) Supports(format domain.OutputFormat) bool {
	return !c.unsupported[format]
}

func testOrchestrator(codec Codec) *Orchestrator {
	return &Orchestrator{
		logger: testLogger,
		cfg: config.TranscodeConfig{
			Concurrency:     1,
			MetadataTimeout: 200 * time.Millisecond,
			EncodeTimeout:   200 * time.Millisecond,
			MaxDimension:    16383,
		},
		codec: codec,
		sem:   make(chan struct{}, 1),
	}
}

func TestReadMetadata(t *testing.T) {
	img := &fakeImage{width: 800, height: 600}
	o := testOrchestrator(&fakeCodec{img: img})

	meta, err := o.ReadMetadata(context.Background(), make([]byte, 1234), false)
	if err != nil {
		t.Fatalf("metadata read failed: %v", err)
	}
	if meta.Width != 800 || meta.Height != 600 || meta.Bytes != 1234 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if !img.isClosed() {
		t.Fatal("expected image handle released after metadata read")
	}
}

func TestReadMetadataTimeout(t *testing.T) {
	img := &fakeImage{width: 800, height: 600}
	o := testOrchestrator(&fakeCodec{img: img, openDelay: time.Second})
	o.cfg.MetadataTimeout = 20 * time.Millisecond

	_, err := o.ReadMetadata(context.Background(), nil, false)
	if !errors.Is(err, ErrDeadline) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	// The abandoned open hands the handle to a reaper.
	deadline := time.After(2 * time.Second)
	for !img.isClosed() {
		select {
		case <-deadline:
			t.Fatal("abandoned image handle was never closed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTranscodeAppliesStages(t *testing.T) {
	img := &fakeImage{width: 2000, height: 1500}
	o := testOrchestrator(&fakeCodec{img: img})

	c := domain.CompressionContext{Grayscale: true}
	plan := domain.JpegPlan{
		Quality:  40,
		Artifact: domain.ArtifactReduction{BlurSigma: 0.8, SharpenSigma: 1.0, Saturation: 0.9},
	}

	out, err := o.Transcode(context.Background(), make([]byte, 100), c, plan)
	if err != nil {
		t.Fatalf("transcode failed: %v", err)
	}
	if out.Format != domain.FormatJpeg {
		t.Fatalf("expected jpeg output, got %s", out.Format)
	}
	if out.Bytes != int64(len(out.Data)) {
		t.Fatal("expected byte count to match payload")
	}

	want := []string{"grayscale", "blur", "saturate", "sharpen"}
	got := img.opList()
	if len(got) != len(want) {
		t.Fatalf("expected ops %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected ops %v, got %v", want, got)
		}
	}
	if !img.isClosed() {
		t.Fatal("expected image handle released after transcode")
	}
}

func TestTranscodeSkipsStagesForAnimated(t *testing.T) {
	img := &fakeImage{width: 500, height: 500}
	o := testOrchestrator(&fakeCodec{img: img})

	c := domain.CompressionContext{Animated: true}
	plan := domain.WebpPlan{Quality: 40, Animated: true}

	if _, err := o.Transcode(context.Background(), make([]byte, 100), c, plan); err != nil {
		t.Fatalf("transcode failed: %v", err)
	}
	if ops := img.opList(); len(ops) != 0 {
		t.Fatalf("expected no pixel stages for animated source, got %v", ops)
	}
}

func TestTranscodeDownscalesOversized(t *testing.T) {
	img := &fakeImage{width: 40000, height: 20000}
	o := testOrchestrator(&fakeCodec{img: img})

	if _, err := o.Transcode(context.Background(), make([]byte, 100), domain.CompressionContext{}, domain.JpegPlan{Quality: 40}); err != nil {
		t.Fatalf("transcode failed: %v", err)
	}

	found := false
	for _, op := range img.opList() {
		if op == "scale" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected oversized image to be scaled down")
	}
	if img.width > o.cfg.MaxDimension {
		t.Fatalf("expected width within %d, got %d", o.cfg.MaxDimension, img.width)
	}
}

func TestTranscodeFallbackOnRejection(t *testing.T) {
	img := &fakeImage{width: 500, height: 500}
	img.export = func(plan domain.EncodePlan) ([]byte, error) {
		if plan.Format() == domain.FormatAvif {
			return nil, ErrCodecRejected
		}
		return []byte("encoded:" + string(plan.Format())), nil
	}
	o := testOrchestrator(&fakeCodec{img: img})

	out, err := o.Transcode(context.Background(), make([]byte, 100), domain.CompressionContext{}, domain.AvifPlan{Quality: 40})
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if out.Format != domain.FormatWebp {
		t.Fatalf("expected webp after avif rejection, got %s", out.Format)
	}
	if img.exports != 2 {
		t.Fatalf("expected exactly two export attempts, got %d", img.exports)
	}
}

func TestTranscodeFallbackIsOneShot(t *testing.T) {
	img := &fakeImage{width: 500, height: 500}
	img.export = func(domain.EncodePlan) ([]byte, error) {
		return nil, ErrCodecRejected
	}
	o := testOrchestrator(&fakeCodec{img: img})

	_, err := o.Transcode(context.Background(), make([]byte, 100), domain.CompressionContext{}, domain.AvifPlan{Quality: 40})
	if !errors.Is(err, ErrCodecRejected) {
		t.Fatalf("expected rejection error after exhausted fallback, got %v", err)
	}
	if img.exports != 2 {
		t.Fatalf("expected exactly two export attempts, got %d", img.exports)
	}
}

func TestTranscodeCapabilitySubstitution(t *testing.T) {
	img := &fakeImage{width: 500, height: 500}
	o := testOrchestrator(&fakeCodec{
		img: img,
		unsupported: map[domain.OutputFormat]bool{
			domain.FormatAvif: true,
			domain.FormatWebp: true,
		},
	})

	out, err := o.Transcode(context.Background(), make([]byte, 100), domain.CompressionContext{}, domain.AvifPlan{Quality: 40})
	if err != nil {
		t.Fatalf("transcode failed: %v", err)
	}
	if out.Format != domain.FormatJpeg {
		t.Fatalf("expected capability walk to land on jpeg, got %s", out.Format)
	}
	if img.exports != 1 {
		t.Fatalf("expected substitution before any export, got %d attempts", img.exports)
	}
}

func TestTranscodeEncodeTimeout(t *testing.T) {
	img := &fakeImage{width: 500, height: 500}
	img.export = func(domain.EncodePlan) ([]byte, error) {
		time.Sleep(time.Second)
		return []byte("late"), nil
	}
	o := testOrchestrator(&fakeCodec{img: img})
	o.cfg.EncodeTimeout = 20 * time.Millisecond

	_, err := o.Transcode(context.Background(), make([]byte, 100), domain.CompressionContext{}, domain.JpegPlan{Quality: 40})
	if !errors.Is(err, ErrDeadline) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	deadline := time.After(2 * time.Second)
	for !img.isClosed() {
		select {
		case <-deadline:
			t.Fatal("abandoned image handle was never closed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTranscodeHonorsCancellationWaitingForSlot(t *testing.T) {
	img := &fakeImage{width: 500, height: 500}
	o := testOrchestrator(&fakeCodec{img: img})

	// Occupy the only slot.
	o.sem <- struct{}{}
	defer func() { <-o.sem }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Transcode(ctx, make([]byte, 100), domain.CompressionContext{}, domain.JpegPlan{Quality: 40})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if img.exports != 0 {
		t.Fatal("expected no work after cancellation")
	}
}
