package domain

// OutputFormat names a target container the pipeline can encode into.
type OutputFormat string

const (
	FormatWebp OutputFormat = "webp"
	FormatAvif OutputFormat = "avif"
	FormatJpeg OutputFormat = "jpeg"
)

func (f OutputFormat) MIME() string {
	return "image/" + string(f)
}

// Subsampling is the chroma subsampling request handed to the encoder.
type Subsampling int

const (
	SubsampleAuto Subsampling = iota
	SubsampleOn
	SubsampleOff
)

// ArtifactReduction describes the denoise-then-resharpen pass applied to
// static images before encoding: a mild blur to knock down ringing, a
// saturation pullback, and an unsharp pass to restore edges.
type ArtifactReduction struct {
	BlurSigma    float64
	SharpenSigma float64
	Saturation   float64
}

func (a ArtifactReduction) Enabled() bool {
	return a.BlurSigma > 0 || a.SharpenSigma > 0 || (a.Saturation > 0 && a.Saturation != 1)
}

// EncodePlan is a tagged variant: exactly one of WebpPlan, AvifPlan or
// JpegPlan. A plan never carries fields that do not apply to its format.
type EncodePlan interface {
	Format() OutputFormat
	EncodeQuality() int
	Reduction() ArtifactReduction
}

type WebpPlan struct {
	Quality         int
	Subsample       Subsampling
	ReductionEffort int
	Animated        bool
	Artifact        ArtifactReduction
}

func (p WebpPlan) Format() OutputFormat { return FormatWebp }
func (p WebpPlan) EncodeQuality() int { return p.Quality }
func (p WebpPlan) Reduction() ArtifactReduction { return p.Artifact }

type AvifPlan struct {
	Quality      int
	Subsample    Subsampling
	TileRows     int
	TileCols     int
	MinQuantizer int
	MaxQuantizer int
	Effort       int
	Artifact     ArtifactReduction
}

func (p AvifPlan) Format() OutputFormat { return FormatAvif }
func (p AvifPlan) EncodeQuality() int { return p.Quality }
func (p AvifPlan) Reduction() ArtifactReduction { return p.Artifact }

type JpegPlan struct {
	Quality   int
	Subsample Subsampling
	Artifact  ArtifactReduction
}

func (p JpegPlan) Format() OutputFormat { return FormatJpeg }
func (p JpegPlan) EncodeQuality() int { return p.Quality }
func (p JpegPlan) Reduction() ArtifactReduction { return p.Artifact }
