//go:build !govips || !cgo

package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"math"

	"github.com/dunamismax/pixelthrift/internal/domain"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// stdCodec is the build without libvips. It decodes whatever image.Decode
// knows (jpeg, png, gif, plus webp via x/image) but can only encode jpeg, so
// modern-format plans are rejected and resolved through the orchestrator's
// format fallback.
type stdCodec struct{}

func (stdCodec) Open(data []byte, _ bool) (Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read source header: %w", err)
	}
	return &stdImage{data: data, width: cfg.Width, height: cfg.Height}, nil
}

func (stdCodec) Supports(format domain.OutputFormat) bool {
	return format == domain.FormatJpeg
}

// stdImage defers the full pixel decode until the first operation that needs
// pixels, so a metadata-only open stays cheap.
type stdImage struct {
	data   []byte
	width  int
	height int
	pixels *image.NRGBA
}

func (i *stdImage) Width() int  { return i.width }
func (i *stdImage) Height() int { return i.height }
func (i *stdImage) Frames() int { return 1 }

func (i *stdImage) decode() (*image.NRGBA, error) {
	if i.pixels != nil {
		return i.pixels, nil
	}
	src, _, err := image.Decode(bytes.NewReader(i.data))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	dst := image.NewNRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	i.pixels = dst
	return dst, nil
}

func (i *stdImage) Grayscale() error {
	img, err := i.decode()
	if err != nil {
		return err
	}
	for off := 0; off+3 < len(img.Pix); off += 4 {
		lum := luminance(img.Pix[off], img.Pix[off+1], img.Pix[off+2])
		img.Pix[off] = lum
		img.Pix[off+1] = lum
		img.Pix[off+2] = lum
	}
	return nil
}

// Blur runs a fixed 3x3 gaussian kernel once per requested sigma step. It is
// an approximation of the real radius but cheap enough for the fallback path.
func (i *stdImage) Blur(sigma float64) error {
	if sigma <= 0 {
		return nil
	}
	img, err := i.decode()
	if err != nil {
		return err
	}
	passes := int(math.Ceil(sigma))
	if passes > 3 {
		passes = 3
	}
	for n := 0; n < passes; n++ {
		img = gaussian3x3(img)
	}
	i.pixels = img
	return nil
}

func (i *stdImage) Saturate(scale float64) error {
	if scale <= 0 || scale == 1 {
		return nil
	}
	img, err := i.decode()
	if err != nil {
		return err
	}
	for off := 0; off+3 < len(img.Pix); off += 4 {
		lum := float64(luminance(img.Pix[off], img.Pix[off+1], img.Pix[off+2]))
		for c := 0; c < 3; c++ {
			v := lum + scale*(float64(img.Pix[off+c])-lum)
			img.Pix[off+c] = clampByte(v)
		}
	}
	return nil
}

// Sharpen is an unsharp mask: original plus a scaled difference against a
// blurred copy.
func (i *stdImage) Sharpen(sigma float64) error {
	if sigma <= 0 {
		return nil
	}
	img, err := i.decode()
	if err != nil {
		return err
	}
	if img.Bounds().Dx() < 3 || img.Bounds().Dy() < 3 {
		return nil
	}
	amount := 1.0 + math.Min(sigma, 2.0)
	blurred := gaussian3x3(img)
	for off := 0; off+3 < len(img.Pix); off += 4 {
		for c := 0; c < 3; c++ {
			orig := float64(img.Pix[off+c])
			blur := float64(blurred.Pix[off+c])
			img.Pix[off+c] = clampByte(orig + amount*(orig-blur))
		}
	}
	return nil
}

func (i *stdImage) ScaleDown(factor float64) error {
	if factor <= 0 || factor >= 1 {
		return nil
	}
	img, err := i.decode()
	if err != nil {
		return err
	}

	srcW := img.Bounds().Dx()
	srcH := img.Bounds().Dy()
	dstW := int(math.Round(float64(srcW) * factor))
	dstH := int(math.Round(float64(srcH) * factor))
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	for y := 0; y < dstH; y++ {
		srcY := (y * srcH) / dstH
		for x := 0; x < dstW; x++ {
			srcX := (x * srcW) / dstW
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}

	i.pixels = dst
	i.width = dstW
	i.height = dstH
	return nil
}

func (i *stdImage) Export(plan domain.EncodePlan) ([]byte, error) {
	p, ok := plan.(domain.JpegPlan)
	if !ok {
		return nil, fmt.Errorf("%w: %s needs the govips build", ErrCodecRejected, plan.Format())
	}

	img, err := i.decode()
	if err != nil {
		return nil, err
	}

	quality := p.Quality
	if quality < 1 || quality > 100 {
		quality = 75
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func (i *stdImage) Close() {
	i.pixels = nil
	i.data = nil
}

func gaussian3x3(img *image.NRGBA) *image.NRGBA {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	copy(dst.Pix, img.Pix)
	if w < 3 || h < 3 {
		return dst
	}

	// 1-2-1 kernel, normalized by 16.
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			off := y*img.Stride + x*4
			for c := 0; c < 3; c++ {
				sum := 0
				ki := 0
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						sum += int(img.Pix[(y+dy)*img.Stride+(x+dx)*4+c]) * gaussKernel[ki]
						ki++
					}
				}
				dst.Pix[off+c] = uint8(sum / 16)
			}
			dst.Pix[off+3] = img.Pix[off+3]
		}
	}
	return dst
}

var gaussKernel = [9]int{1, 2, 1, 2, 4, 2, 1, 2, 1}

func luminance(r, g, b uint8) uint8 {
	return uint8(0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b))
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func newCodec() Codec {
	return stdCodec{}
}
