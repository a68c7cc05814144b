package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port string

	// Secrets
	InternalSharedSecret string

	// Limits
	MaxJSONBodyBytes int64
	MaxPDFBytes      int64
	MaxViewers       int

	// Concurrency
	MaxConcurrentRequests int64
	MaxDecodeConcurrent   int64

	// Server timeouts
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// Decode
	DecodeWorkers string // fallback chain, e.g. "native,poppler"
	PDFInfoBin    string
	DecodeTimeout time.Duration

	// Presigned document downloads
	DownloadTimeout time.Duration

	// Extraction API (external collaborator)
	ExtractAPIURL          string
	ExtractTimeout         time.Duration
	MaxExtractResponseSize int64
	DefaultModel           string

	// Geometry / overlays
	GeometryThrottle time.Duration
	GeometrySettle   time.Duration
	OverlayScaleMode string // "uniform" | "page-aspect"

	// rate limiting (per IP)
	RateLimitEvery time.Duration
	RateLimitBurst int

	// housekeeping
	CleanupInterval time.Duration
	ViewerTTL       time.Duration

	// health
	HealthDegradeRatio float64

	// http
	MaxHeaderBytes int
	Gzip           bool

	LogLevel slog.Level
}

func Load() Config {
	return Config{
		Port: envStr("PORT", "8080"),

		InternalSharedSecret: envStr("INTERNAL_SHARED_SECRET", ""),

		MaxJSONBodyBytes: int64(envInt("MAX_JSON_BODY_BYTES", 2<<20)),
		MaxPDFBytes:      int64(envInt("MAX_PDF_BYTES", 10<<20)),
		MaxViewers:       envInt("MAX_VIEWERS", 200),

		MaxConcurrentRequests: int64(envInt("MAX_CONCURRENT_REQUESTS", 15)),
		MaxDecodeConcurrent:   int64(envInt("MAX_DECODE_CONCURRENT", 4)),

		ReadHeaderTimeout: envDur("READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:       envDur("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:      envDur("WRITE_TIMEOUT", 180*time.Second),
		IdleTimeout:       envDur("IDLE_TIMEOUT", 60*time.Second),

		DecodeWorkers: envStr("DECODE_WORKERS", "native,poppler"),
		PDFInfoBin:    envStr("PDFINFO_BIN", "pdfinfo"),
		DecodeTimeout: envDur("DECODE_TIMEOUT", 60*time.Second),

		DownloadTimeout: envDur("DOWNLOAD_TIMEOUT", 30*time.Second),

		ExtractAPIURL:          envStr("EXTRACT_API_URL", ""),
		ExtractTimeout:         envDur("EXTRACT_TIMEOUT", 160*time.Second),
		MaxExtractResponseSize: int64(envInt("MAX_EXTRACT_RESPONSE_BYTES", 32<<20)),
		DefaultModel:           envStr("DEFAULT_MODEL", "docling"),

		GeometryThrottle: envDur("GEOMETRY_THROTTLE", 50*time.Millisecond),
		GeometrySettle:   envDur("GEOMETRY_SETTLE", 150*time.Millisecond),
		OverlayScaleMode: envStr("OVERLAY_SCALE_MODE", "uniform"),

		RateLimitEvery: envDur("RATE_LIMIT_EVERY", 100*time.Millisecond),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 50),

		CleanupInterval: envDur("CLEANUP_INTERVAL", time.Minute),
		ViewerTTL:       envDur("VIEWER_TTL", 30*time.Minute),

		HealthDegradeRatio: envFloat("HEALTH_DEGRADE_RATIO", 0.9),

		MaxHeaderBytes: envInt("MAX_HEADER_BYTES", 1<<20),
		Gzip:           envBool("GZIP", true),

		LogLevel: envLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

func (c Config) Validate() error {
	if len(strings.TrimSpace(c.InternalSharedSecret)) < 32 {
		return fmt.Errorf("INTERNAL_SHARED_SECRET must be at least 32 characters")
	}
	switch c.OverlayScaleMode {
	case "uniform", "page-aspect":
	default:
		return fmt.Errorf("OVERLAY_SCALE_MODE must be uniform or page-aspect, got %q", c.OverlayScaleMode)
	}
	if strings.Trim(c.DecodeWorkers, ", ") == "" {
		return fmt.Errorf("DECODE_WORKERS must name at least one worker")
	}
	if u := c.ExtractAPIURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("EXTRACT_API_URL must be http/https")
	}
	return nil
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envLevel(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return l
}
