// Package viewer keeps document loading, page navigation, page geometry and
// annotation overlays consistent with each other for one mounted viewer.
//
// The viewer owns its load state and navigation state. The host owns the
// document bytes and only mirrors the current page: every page change is
// raised through OnPageChange, and a page value fed back by the host is
// treated as a navigation request.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/toricodesthings/pdf-annotation-viewer/internal/annotation"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/decode"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/docsource"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/geometry"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/loadstate"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/navigation"
)

var ErrClosed = errors.New("viewer is closed")

// ScaleMode selects how the vertical axis of a box is projected.
type ScaleMode int

const (
	// ScaleUniform scales both axes by width/1000.
	ScaleUniform ScaleMode = iota
	// ScalePageAspect scales y by renderedHeight/1000, where the rendered
	// height comes from the host or from the page's native aspect ratio.
	ScalePageAspect
)

func ParseScaleMode(s string) (ScaleMode, error) {
	switch s {
	case "", "uniform":
		return ScaleUniform, nil
	case "page-aspect":
		return ScalePageAspect, nil
	default:
		return ScaleUniform, fmt.Errorf("unknown scale mode %q", s)
	}
}

type Options struct {
	ID       string
	Decoder  decode.Decoder
	Registry *docsource.Registry
	Geometry geometry.ObserverOptions
	Scale    ScaleMode
	// DecodeTimeout bounds a single decode. Zero means no limit.
	DecodeTimeout time.Duration
	// OnPageChange is the only externally observable state-change event. It
	// is never called with the viewer's lock held.
	OnPageChange func(page int)
	Logger       *slog.Logger
}

// Overlay is derived on every call to Overlays and never stored.
type Overlay struct {
	Type  annotation.Type
	Box   geometry.PixelBox
	Title string
	Label string
}

type Viewer struct {
	opts   Options
	log    *slog.Logger
	source *docsource.Source
	nav    *navigation.Controller
	geom   *geometry.Observer

	mu              sync.Mutex
	state           loadstate.State
	pages           []geometry.PageSize
	annotations     []annotation.Annotation
	overlaysEnabled bool
	docName         string
	cancel          context.CancelFunc
	settled         chan struct{}
	pending         []int
	closed          bool
}

func New(opts Options) *Viewer {
	if opts.Registry == nil {
		opts.Registry = docsource.NewRegistry()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.ID != "" {
		log = log.With("viewer", opts.ID)
	}

	v := &Viewer{
		opts:            opts,
		log:             log,
		source:          docsource.NewSource(opts.Registry, log),
		overlaysEnabled: true,
		settled:         make(chan struct{}),
	}
	v.geom = geometry.NewObserver(opts.Geometry, func(width float64) {
		log.Debug("page width changed", "width", width)
	})
	// The navigation callback runs while v.mu is held; it only queues the
	// page for delivery after unlock. A host height belongs to the page it
	// was measured on.
	v.nav = navigation.New(func(page int) {
		v.geom.ForgetHeight()
		v.pending = append(v.pending, page)
	})
	return v
}

func (v *Viewer) ID() string { return v.opts.ID }

// unlockAndEmit releases v.mu and then delivers queued page changes.
func (v *Viewer) unlockAndEmit() {
	pending := v.pending
	v.pending = nil
	v.mu.Unlock()

	if cb := v.opts.OnPageChange; cb != nil {
		for _, p := range pending {
			cb(p)
		}
	}
}

// SetDocument makes doc the active document. Any in-flight decode for the
// previous document is abandoned: its context is cancelled and whatever it
// reports later is discarded by generation. Decode problems are reported
// through State, not as an error; only a closed viewer returns one.
func (v *Viewer) SetDocument(doc docsource.Document) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}

	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	ref, refErr := v.source.Activate(doc)

	v.state = loadstate.Activate(v.state)
	gen := v.state.Generation
	v.pages = nil
	v.geom.ForgetHeight()
	v.docName = doc.Name
	v.closeSettledLocked()
	v.settled = make(chan struct{})
	v.nav.Clear()

	if refErr != nil {
		v.applyLocked(loadstate.Failed{Generation: gen, Err: refErr}, nil)
		v.unlockAndEmit()
		return nil
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if v.opts.DecodeTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), v.opts.DecodeTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	v.cancel = cancel
	v.log.Info("document activated", "name", doc.Name, "ref", ref.String(), "generation", gen, "bytes", len(doc.Data))
	v.unlockAndEmit()

	go v.decode(ctx, cancel, gen, ref)
	return nil
}

func (v *Viewer) decode(ctx context.Context, cancel context.CancelFunc, gen uint64, ref docsource.Reference) {
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			v.apply(loadstate.Failed{Generation: gen, Err: fmt.Errorf("decode panic: %v", r)}, nil)
		}
	}()

	doc, err := v.opts.Registry.Resolve(ref)
	if err != nil {
		// Superseded before the decode started.
		v.apply(loadstate.Failed{Generation: gen, Err: err}, nil)
		return
	}
	if v.opts.Decoder == nil {
		v.apply(loadstate.Failed{Generation: gen, Err: errors.New("decode worker unavailable: no decoder configured")}, nil)
		return
	}

	start := time.Now()
	info, err := v.opts.Decoder.Decode(ctx, doc.Data, func(loaded, total int64) {
		v.apply(loadstate.Progress{Generation: gen, Loaded: loaded, Total: total}, nil)
	})
	if err != nil {
		v.apply(loadstate.Failed{Generation: gen, Err: err}, nil)
		return
	}
	v.log.Info("document decoded", "generation", gen, "pages", info.PageCount, "took", time.Since(start))
	v.apply(loadstate.Success{Generation: gen, PageCount: info.PageCount}, info.Pages)
}

func (v *Viewer) apply(ev loadstate.Event, pages []geometry.PageSize) {
	v.mu.Lock()
	v.applyLocked(ev, pages)
	v.unlockAndEmit()
}

func (v *Viewer) applyLocked(ev loadstate.Event, pages []geometry.PageSize) {
	if v.closed {
		return
	}
	next, ok := loadstate.Transition(v.state, ev)
	if !ok {
		v.log.Debug("load event discarded", "event", fmt.Sprintf("%T", ev), "generation", v.state.Generation, "phase", v.state.Phase.String())
		return
	}
	v.state = next

	switch next.Phase {
	case loadstate.Ready:
		v.pages = pages
		v.nav.Reset(next.PageCount)
		v.closeSettledLocked()
	case loadstate.Errored:
		v.log.Warn("document load failed", "generation", next.Generation, "kind", next.Failure.Kind.String(), "err", next.Failure.Message)
		v.closeSettledLocked()
	}
}

func (v *Viewer) closeSettledLocked() {
	select {
	case <-v.settled:
	default:
		close(v.settled)
	}
}

// Settled is closed once the current document reaches Ready or Errored, or
// is superseded.
func (v *Viewer) Settled() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.settled
}

// SetAnnotations replaces the annotation set. Invalid annotations are
// dropped and reported in the returned error; the valid ones are kept.
func (v *Viewer) SetAnnotations(list []annotation.Annotation) error {
	valid, err := annotation.NormalizeAll(list)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	v.annotations = valid
	return err
}

func (v *Viewer) Annotations() []annotation.Annotation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]annotation.Annotation(nil), v.annotations...)
}

// Goto, Next and Prev report whether the page changed.
func (v *Viewer) Goto(page int) bool {
	v.mu.Lock()
	changed := !v.closed && v.nav.Goto(page)
	v.unlockAndEmit()
	return changed
}

func (v *Viewer) Next() bool {
	v.mu.Lock()
	changed := !v.closed && v.nav.Next()
	v.unlockAndEmit()
	return changed
}

func (v *Viewer) Prev() bool {
	v.mu.Lock()
	changed := !v.closed && v.nav.Prev()
	v.unlockAndEmit()
	return changed
}

// SetCurrentPage accepts the host's mirrored page value. The viewer stays
// authoritative: the value is clamped like any other navigation request.
func (v *Viewer) SetCurrentPage(page int) bool {
	return v.Goto(page)
}

func (v *Viewer) Page() int { return v.nav.Page() }

// ReportWidth forwards a measured container width to the geometry observer.
func (v *Viewer) ReportWidth(width float64) {
	v.geom.Report(width)
}

// ReportSize also reports the rendered page height, used by ScalePageAspect.
// The height is kept until the next report or page change.
func (v *Viewer) ReportSize(width, height float64) {
	v.geom.ReportSize(width, height)
}

func (v *Viewer) Width() float64 { return v.geom.Width() }

// SetOverlaysEnabled toggles the annotation layer.
func (v *Viewer) SetOverlaysEnabled(on bool) {
	v.mu.Lock()
	v.overlaysEnabled = on
	v.mu.Unlock()
}

func (v *Viewer) State() loadstate.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// PageSize is the native size of the current page, when known.
func (v *Viewer) PageSize() (geometry.PageSize, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pageSizeLocked()
}

func (v *Viewer) pageSizeLocked() (geometry.PageSize, bool) {
	i := v.nav.Page() - 1
	if i < 0 || i >= len(v.pages) || !v.pages[i].Valid() {
		return geometry.PageSize{}, false
	}
	return v.pages[i], true
}

// RenderHeight is the height the current page renders at for the current
// width. Without a known page size the page is treated as square.
func (v *Viewer) RenderHeight() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.renderHeightLocked(v.geom.Size())
}

func (v *Viewer) renderHeightLocked(width, hostHeight float64) float64 {
	if hostHeight > 0 {
		return hostHeight
	}
	if size, ok := v.pageSizeLocked(); ok {
		return size.HeightForWidth(width)
	}
	return width
}

// Overlays projects the current page's annotations at the current width.
// The result is empty until the document is ready and a positive width has
// been observed, or while overlays are disabled.
func (v *Viewer) Overlays() []Overlay {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.overlaysLocked()
}

func (v *Viewer) overlaysLocked() []Overlay {
	out := make([]Overlay, 0)
	width, hostHeight := v.geom.Size()
	if v.closed || !v.overlaysEnabled || v.state.Phase != loadstate.Ready || width <= 0 {
		return out
	}

	height := v.renderHeightLocked(width, hostHeight)
	for _, a := range annotation.ForPage(v.annotations, v.nav.Page()) {
		box := geometry.Project(a.BBox, width)
		if v.opts.Scale == ScalePageAspect && height > 0 {
			box = geometry.ProjectScaled(a.BBox, width, height)
		}
		out = append(out, Overlay{Type: a.Type, Box: box, Title: a.Title(), Label: a.Label()})
	}
	return out
}

// Close cancels any in-flight decode and releases the document reference.
// It is safe to call more than once.
func (v *Viewer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.source.Close()
	v.geom.Close()
	v.closeSettledLocked()
}

// Source exposes reference accounting for leak checks.
func (v *Viewer) Source() *docsource.Source { return v.source }
