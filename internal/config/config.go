package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config is built once at startup and passed explicitly into each component.
// Nothing else in the process reads environment variables.
type Config struct {
	Server    ServerConfig
	Fetch     FetchConfig
	Compress  CompressConfig
	Transcode TranscodeConfig
	RateLimit RateLimitConfig
	Store     StoreConfig
	Trace     TraceConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Addr string
}

type FetchConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
}

// CompressConfig holds the eligibility and planning thresholds. The minimum
// compressible length differs between deployments (512 and 2048 have both
// been used); it is configuration, not a constant.
type CompressConfig struct {
	MinCompressLength int64
	MinQuality        int
	MaxQuality        int
	DefaultQuality    int
}

type TranscodeConfig struct {
	Concurrency     int
	MetadataTimeout time.Duration
	EncodeTimeout   time.Duration
	MaxDimension    int
}

type RateLimitConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PerMinute     int
}

type StoreConfig struct {
	PostgresDSN string
}

type TraceConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type AuthConfig struct {
	User     string
	Password string
}

func Load() Config {
	return Config{
		Server: ServerConfig{
			Addr: env("PIXELTHRIFT_ADDR", ":8080"),
		},
		Fetch: FetchConfig{
			Timeout:      envDuration("FETCH_TIMEOUT", 20*time.Second),
			MaxBodyBytes: envInt64("MAX_BODY_BYTES", 50<<20),
		},
		Compress: CompressConfig{
			MinCompressLength: envInt64("MIN_COMPRESS_LENGTH", 2048),
			MinQuality:        envInt("MIN_QUALITY", 40),
			MaxQuality:        envInt("MAX_QUALITY", 75),
			DefaultQuality:    envInt("DEFAULT_QUALITY", 75),
		},
		Transcode: TranscodeConfig{
			Concurrency:     envInt("TRANSCODE_CONCURRENCY", max(1, runtime.NumCPU())),
			MetadataTimeout: envDuration("METADATA_TIMEOUT", 10*time.Second),
			EncodeTimeout:   envDuration("ENCODE_TIMEOUT", 30*time.Second),
			// libwebp refuses either side above 16383, and webp is the
			// fallback container for everything, so downscale to fit it.
			MaxDimension: envInt("MAX_DIMENSION", 16383),
		},
		RateLimit: RateLimitConfig{
			RedisAddr:     env("REDIS_ADDR", ""),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			PerMinute:     envInt("RATE_LIMIT_RPM", 120),
		},
		Store: StoreConfig{
			PostgresDSN: env("POSTGRES_DSN", ""),
		},
		Trace: TraceConfig{
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTLP_INSECURE", true),
		},
		Auth: AuthConfig{
			User:     env("PROXY_USER", ""),
			Password: env("PROXY_PASS", ""),
		},
	}
}

// Normalize repairs inconsistent quality bounds so downstream clamping is
// always well defined.
func (c Config) Normalize() Config {
	if c.Compress.MinQuality < 1 {
		c.Compress.MinQuality = 1
	}
	if c.Compress.MaxQuality > 100 {
		c.Compress.MaxQuality = 100
	}
	if c.Compress.MaxQuality < c.Compress.MinQuality {
		c.Compress.MaxQuality = c.Compress.MinQuality
	}
	if c.Compress.DefaultQuality < c.Compress.MinQuality {
		c.Compress.DefaultQuality = c.Compress.MinQuality
	}
	if c.Compress.DefaultQuality > c.Compress.MaxQuality {
		c.Compress.DefaultQuality = c.Compress.MaxQuality
	}
	if c.Transcode.Concurrency < 1 {
		c.Transcode.Concurrency = 1
	}
	return c
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
