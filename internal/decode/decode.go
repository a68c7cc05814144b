// Package decode turns document bytes into page count and page geometry.
//
// Decoding runs on a worker chosen from a fallback chain: the first worker
// whose Init succeeds serves every decode. When no worker can be set up the
// failure names the decode worker so the viewer reports WorkerUnavailable
// instead of hanging.
package decode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/toricodesthings/pdf-annotation-viewer/internal/geometry"
)

var (
	ErrNoWorkers     = errors.New("no decode workers configured")
	ErrUnknownWorker = errors.New("unknown decode worker")
)

// ProgressFunc receives loaded/total counts. total <= 0 means unknown.
type ProgressFunc func(loaded, total int64)

type Info struct {
	PageCount int
	Pages     []geometry.PageSize
}

// Worker is one decode backend.
type Worker interface {
	Name() string
	// Init checks that the worker can run. It is called until it succeeds
	// once.
	Init(ctx context.Context) error
	Decode(ctx context.Context, data []byte, progress ProgressFunc) (Info, error)
}

// Decoder is what the viewer depends on.
type Decoder interface {
	Decode(ctx context.Context, data []byte, progress ProgressFunc) (Info, error)
}

type Engine struct {
	workers []Worker
	sem     *semaphore.Weighted
	log     *slog.Logger

	mu     sync.Mutex
	active Worker
}

// NewEngine builds an engine that runs at most maxConcurrent decodes at a
// time over the given fallback chain.
func NewEngine(maxConcurrent int64, log *slog.Logger, workers ...Worker) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		workers: workers,
		sem:     semaphore.NewWeighted(maxConcurrent),
		log:     log,
	}
}

// Resolve walks the fallback chain and returns the first worker that
// initializes.
func (e *Engine) Resolve(ctx context.Context) (Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return e.active, nil
	}
	if len(e.workers) == 0 {
		return nil, fmt.Errorf("decode worker unavailable: %w", ErrNoWorkers)
	}

	var errs []error
	for _, w := range e.workers {
		err := w.Init(ctx)
		if err == nil {
			e.log.Info("decode worker ready", "worker", w.Name())
			e.active = w
			return w, nil
		}
		e.log.Warn("decode worker failed to initialize", "worker", w.Name(), "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
	}
	return nil, fmt.Errorf("decode worker unavailable: %w", errors.Join(errs...))
}

func (e *Engine) Decode(ctx context.Context, data []byte, progress ProgressFunc) (Info, error) {
	if progress == nil {
		progress = func(int64, int64) {}
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Info{}, err
	}
	defer e.sem.Release(1)

	w, err := e.Resolve(ctx)
	if err != nil {
		return Info{}, err
	}
	return w.Decode(ctx, data, progress)
}

// Workers builds a fallback chain from names such as "native,poppler".
func Workers(names string, popplerBin string) ([]Worker, error) {
	var out []Worker
	for _, n := range strings.Split(names, ",") {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "":
			continue
		case "native":
			out = append(out, Native{})
		case "poppler":
			out = append(out, &Poppler{Bin: popplerBin})
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownWorker, n)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoWorkers
	}
	return out, nil
}

func corrupted(err error) error {
	return fmt.Errorf("document is corrupted: %w", err)
}
