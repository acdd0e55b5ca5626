package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelthrift/internal/config"
	"github.com/dunamismax/pixelthrift/internal/domain"
	"github.com/dunamismax/pixelthrift/internal/fetch"
	"github.com/dunamismax/pixelthrift/internal/inspect"
	"github.com/dunamismax/pixelthrift/internal/policy"
	"github.com/dunamismax/pixelthrift/internal/store"
)

// Fetcher retrieves the origin resource with the client's identity attached.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, fwd fetch.Forwarded) (domain.FetchResult, error)
}

// PayloadDecoder normalizes content-encoded origin bytes; it never fails.
type PayloadDecoder interface {
	Decode(body []byte, encoding string) []byte
}

// Transcoder is the orchestrator surface the handler drives.
type Transcoder interface {
	ReadMetadata(ctx context.Context, data []byte, animated bool) (domain.ImageMetadata, error)
	Transcode(ctx context.Context, src []byte, c domain.CompressionContext, plan domain.EncodePlan) (domain.TranscodeResult, error)
}

type Server struct {
	logger      *log.Logger
	cfg         config.Config
	fetcher     Fetcher
	decoder     PayloadDecoder
	transcoder  Transcoder
	savings     store.SavingsStore
	rateLimiter RateLimiter
	metrics     *metrics
	tracer      trace.Tracer
	mux         *http.ServeMux
}

func NewServer(
	logger *log.Logger,
	cfg config.Config,
	fetcher Fetcher,
	decoder PayloadDecoder,
	transcoder Transcoder,
	savings store.SavingsStore,
	rateLimiter RateLimiter,
	tracer trace.Tracer,
) *Server {
	s := &Server{
		logger:      logger,
		cfg:         cfg,
		fetcher:     fetcher,
		decoder:     decoder,
		transcoder:  transcoder,
		savings:     savings,
		rateLimiter: rateLimiter,
		metrics:     newMetrics(),
		tracer:      tracer,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleCompress)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// Handler assembles the middleware chain. Order matters: metrics see every
// request including rejected ones, tracing wraps the work, rate limiting and
// auth guard the pipeline itself.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withAuth(h)
	h = s.withRateLimit(h)
	h = s.withTracing(h)
	h = s.withRequestID(h)
	h = s.metrics.withHTTPMetrics(h)
	return h
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// handleCompress is the fetch–decide–transcode pipeline. Every failure past
// parameter validation degrades: bypass when there are origin bytes worth
// forwarding, a 302 to the original URL otherwise. Only malformed client
// input gets an error status.
func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	tw := &trackedWriter{ResponseWriter: w}
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	params, err := resolveParams(s.cfg.Compress, r)
	if err != nil {
		http.Error(tw, err.Error(), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("origin.host", params.URL.Host))

	result, err := s.fetcher.Fetch(ctx, params.URL.String(), fetch.Forwarded{
		Header:     r.Header,
		RemoteAddr: r.RemoteAddr,
	})
	if err != nil {
		if errors.Is(err, fetch.ErrOriginRefused) && len(result.Body) > 0 {
			s.logger.Printf("origin refused status=%d url=%s, bypassing", result.StatusCode, params.URL)
			body := s.decoder.Decode(result.Body, result.ContentEncoding)
			s.respondBypass(tw, params.URL, result.ContentType(), body)
			return
		}
		s.logger.Printf("fetch failed url=%s err=%v", params.URL, err)
		s.redirectToOrigin(tw, r, params.URL)
		return
	}
	span.AddEvent("fetched")

	body := s.decoder.Decode(result.Body, result.ContentEncoding)
	s.metrics.bytesInTotal.Add(float64(len(body)))

	memo := inspect.NewMemo(s.logger)
	desc := memo.Describe(body, result.ContentType())

	cctx := domain.CompressionContext{
		URL:        params.URL,
		MIMEType:   result.ContentType(),
		Bytes:      int64(len(body)),
		Preference: params.Preference,
		Grayscale:  params.Grayscale,
		Quality:    params.Quality,
		Animated:   desc.IsAnimated,
	}

	if !policy.Eligible(s.cfg.Compress, cctx) {
		span.SetAttributes(attribute.Bool("compress.eligible", false))
		s.respondBypass(tw, params.URL, result.ContentType(), body)
		return
	}
	span.SetAttributes(attribute.Bool("compress.eligible", true))

	meta, err := s.transcoder.ReadMetadata(ctx, body, desc.IsAnimated)
	if err != nil {
		s.logger.Printf("metadata read failed url=%s err=%v", params.URL, err)
		s.redirectToOrigin(tw, r, params.URL)
		return
	}
	span.AddEvent("planned")

	plan := policy.PlanEncode(s.cfg.Compress, cctx, meta)

	started := time.Now()
	s.metrics.activeTranscodes.Inc()
	out, err := s.transcoder.Transcode(ctx, body, cctx, plan)
	s.metrics.activeTranscodes.Dec()
	elapsed := time.Since(started)

	if err != nil {
		s.metrics.transcodesTotal.WithLabelValues(string(plan.Format()), "failed").Inc()
		s.metrics.transcodeDuration.WithLabelValues(string(plan.Format()), "failed").Observe(elapsed.Seconds())
		s.logger.Printf("transcode failed url=%s format=%s err=%v", params.URL, plan.Format(), err)
		s.redirectToOrigin(tw, r, params.URL)
		return
	}

	s.metrics.transcodesTotal.WithLabelValues(string(out.Format), "ok").Inc()
	s.metrics.transcodeDuration.WithLabelValues(string(out.Format), "ok").Observe(elapsed.Seconds())
	s.metrics.bytesOutTotal.Add(float64(out.Bytes))

	saved := cctx.Bytes - out.Bytes
	if saved < 0 {
		saved = 0
	}
	s.metrics.bytesSavedTotal.Add(float64(saved))
	span.SetAttributes(
		attribute.String("compress.format", string(out.Format)),
		attribute.Int64("compress.bytes_saved", saved),
	)
	span.AddEvent("transcoded")

	s.respondTranscoded(tw, params.URL, out, cctx.Bytes)
	s.recordSavings(cctx, meta, out, saved, elapsed)
}

// recordSavings writes accounting after the response is already on the wire.
// The request context may be done by now, so the write gets its own bound.
func (s *Server) recordSavings(c domain.CompressionContext, meta domain.ImageMetadata, out domain.TranscodeResult, saved int64, elapsed time.Duration) {
	if s.savings == nil {
		return
	}

	computeMS := elapsed.Milliseconds()
	if computeMS < 1 {
		computeMS = 1
	}

	entry := domain.SavingsLog{
		OriginHost:    c.URL.Host,
		Format:        string(out.Format),
		InputBytes:    c.Bytes,
		OutputBytes:   out.Bytes,
		BytesSaved:    saved,
		PixelCount:    meta.PixelCount(),
		ComputeTimeMS: computeMS,
		CreatedAt:     time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.savings.Record(ctx, entry); err != nil {
		s.logger.Printf("savings log write failed host=%s err=%v", entry.OriginHost, err)
	}
}
