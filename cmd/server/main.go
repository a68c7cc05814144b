package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/sync/semaphore"

	"github.com/toricodesthings/pdf-annotation-viewer/internal/config"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/decode"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/docsource"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/extractapi"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/geometry"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/session"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/viewer"
)

var (
	cfg config.Config
	log *slog.Logger

	requestSem *semaphore.Weighted

	// Per-IP rate limiters. Cleared in place; request goroutines read it.
	limiters sync.Map

	metrics = &serverMetrics{}
)

type serverMetrics struct {
	mu            sync.RWMutex
	totalRequests int64
	activeReqs    int64
}

func (m *serverMetrics) incActive() {
	m.mu.Lock()
	m.activeReqs++
	m.totalRequests++
	m.mu.Unlock()
}
func (m *serverMetrics) decActive() {
	m.mu.Lock()
	m.activeReqs--
	m.mu.Unlock()
}
func (m *serverMetrics) get() (total, active int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalRequests, m.activeReqs
}

// app carries the long-lived collaborators shared by the handlers.
type app struct {
	registry *docsource.Registry
	engine   *decode.Engine
	store    *session.Store
	extract  *extractapi.Client
}

func main() {
	cfg = config.Load()
	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	a, err := newApp(cfg)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}

	requestSem = semaphore.NewWeighted(cfg.MaxConcurrentRequests)

	maxHeaderBytes := 1 << 20
	if cfg.MaxHeaderBytes > 0 {
		maxHeaderBytes = cfg.MaxHeaderBytes
	}

	var handler http.Handler = a.routes()
	if cfg.Gzip {
		handler = gzhttp.GzipHandler(handler)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           withLogging(withRecovery(handler)),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}

	if !a.extract.Configured() {
		log.Warn("EXTRACT_API_URL not set (annotations must be supplied by the host)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go cleanupLoop(ctx, a)
	go a.store.Run(ctx, cfg.CleanupInterval)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("viewer listening",
		"addr", srv.Addr,
		"maxConcurrent", cfg.MaxConcurrentRequests,
		"decodeConcurrent", cfg.MaxDecodeConcurrent,
		"workers", cfg.DecodeWorkers)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "err", err)
		os.Exit(1)
	}
	a.store.Close()
}

func newApp(cfg config.Config) (*app, error) {
	workers, err := decode.Workers(cfg.DecodeWorkers, cfg.PDFInfoBin)
	if err != nil {
		return nil, fmt.Errorf("decode workers: %w", err)
	}
	scale, err := viewer.ParseScaleMode(cfg.OverlayScaleMode)
	if err != nil {
		return nil, err
	}

	a := &app{
		registry: docsource.NewRegistry(),
		engine:   decode.NewEngine(cfg.MaxDecodeConcurrent, log, workers...),
		extract:  extractapi.New(cfg.ExtractAPIURL, cfg.ExtractTimeout, cfg.MaxExtractResponseSize),
	}
	a.store = session.NewStore(func(id string, onPageChange func(int)) *viewer.Viewer {
		return viewer.New(viewer.Options{
			ID:       id,
			Decoder:  a.engine,
			Registry: a.registry,
			Geometry: geometry.ObserverOptions{
				Every:  cfg.GeometryThrottle,
				Burst:  2,
				Settle: cfg.GeometrySettle,
			},
			Scale:         scale,
			DecodeTimeout: cfg.DecodeTimeout,
			OnPageChange:  onPageChange,
			Logger:        log,
		})
	}, cfg.ViewerTTL, cfg.MaxViewers, log)
	return a, nil
}

func cleanupLoop(ctx context.Context, a *app) {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		total, active := metrics.get()
		log.Info("stats",
			"active", active, "total", total,
			"viewers", a.store.Len(), "liveRefs", a.registry.Live(),
			"goroutines", runtime.NumGoroutine(), "memMB", m.Alloc/(1<<20))

		resetRateLimiters()
	}
}
