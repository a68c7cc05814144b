package geometry

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type ObserverOptions struct {
	// Every is the minimum spacing between delivered widths while the host
	// is resizing. Zero disables throttling.
	Every time.Duration
	Burst int
	// Settle is how long after the last throttled report the pending width
	// is delivered.
	Settle time.Duration
}

// Observer tracks the rendered width of the current page container.
//
// Reports arrive on mount, on container resize and when the page content is
// swapped. During a burst of reports some intermediate widths are dropped,
// but the last reported width is always delivered, so the observer converges
// to the settled width once the host stops resizing.
type Observer struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	settle   time.Duration
	width    float64
	height   float64
	pending  [2]float64
	queued   bool
	timer    *time.Timer
	closed   bool
	onChange func(width float64)
}

func NewObserver(opts ObserverOptions, onChange func(width float64)) *Observer {
	o := &Observer{onChange: onChange, settle: opts.Settle}
	if opts.Every > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Every(opts.Every), burst)
		if o.settle <= 0 {
			o.settle = opts.Every
		}
	}
	return o
}

// Report records a measured width. Negative and NaN widths count as
// unmeasured. A width-only report forgets any previously reported height.
func (o *Observer) Report(width float64) {
	o.ReportSize(width, 0)
}

// ReportSize records the rendered page size. Width and height travel through
// the throttle together, so a delivered pair always comes from one report.
func (o *Observer) ReportSize(width, height float64) {
	width, height = measured(width), measured(height)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if o.limiter == nil || o.limiter.Allow() {
		if o.timer != nil {
			o.timer.Stop()
			o.timer = nil
		}
		o.queued = false
		o.deliverLocked(width, height)
		return
	}
	o.pending = [2]float64{width, height}
	o.queued = true
	if o.timer == nil {
		o.timer = time.AfterFunc(o.settle, o.Flush)
	}
	o.mu.Unlock()
}

func measured(v float64) float64 {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Flush delivers a pending throttled size immediately.
func (o *Observer) Flush() {
	o.mu.Lock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if o.closed || !o.queued {
		o.mu.Unlock()
		return
	}
	o.queued = false
	o.deliverLocked(o.pending[0], o.pending[1])
}

// deliverLocked must be called with o.mu held; it releases the lock before
// invoking the change callback. The callback only fires for width changes.
func (o *Observer) deliverLocked(width, height float64) {
	o.height = height
	if width == o.width {
		o.mu.Unlock()
		return
	}
	o.width = width
	cb := o.onChange
	o.mu.Unlock()
	if cb != nil {
		cb(width)
	}
}

// Width is the last delivered width; 0 when unmeasured.
func (o *Observer) Width() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.width
}

// Size is the last delivered width and height. Height is 0 when the host
// has not reported one for the current page.
func (o *Observer) Size() (width, height float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.width, o.height
}

// ForgetHeight drops the reported height, both delivered and pending. It is
// called when the page content is swapped.
func (o *Observer) ForgetHeight() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.height = 0
	o.pending[1] = 0
}

// Measured reports whether a positive width has been observed.
func (o *Observer) Measured() bool {
	return o.Width() > 0
}

func (o *Observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}
