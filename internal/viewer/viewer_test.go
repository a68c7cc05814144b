package viewer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/toricodesthings/pdf-annotation-viewer/internal/annotation"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/decode"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/docsource"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/geometry"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/loadstate"
)

// staticDecoder answers every decode immediately.
type staticDecoder struct {
	info decode.Info
	err  error
}

func (d staticDecoder) Decode(_ context.Context, _ []byte, progress decode.ProgressFunc) (decode.Info, error) {
	progress(0, 2)
	progress(1, 2)
	if d.err != nil {
		return decode.Info{}, d.err
	}
	progress(2, 2)
	return d.info, nil
}

type reply struct {
	progress [][2]int64
	info     decode.Info
	err      error
}

type call struct {
	data  []byte
	reply chan reply
}

// scriptedDecoder blocks each decode until the test replies to it.
type scriptedDecoder struct {
	calls chan *call
}

func newScripted() *scriptedDecoder {
	return &scriptedDecoder{calls: make(chan *call, 8)}
}

func (d *scriptedDecoder) Decode(_ context.Context, data []byte, progress decode.ProgressFunc) (decode.Info, error) {
	c := &call{data: data, reply: make(chan reply, 1)}
	d.calls <- c
	r := <-c.reply
	for _, p := range r.progress {
		progress(p[0], p[1])
	}
	return r.info, r.err
}

func (d *scriptedDecoder) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-d.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("decoder was never called")
		return nil
	}
}

type pageRecorder struct {
	mu    sync.Mutex
	pages []int
}

func (r *pageRecorder) record(p int) {
	r.mu.Lock()
	r.pages = append(r.pages, p)
	r.mu.Unlock()
}

func (r *pageRecorder) get() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.pages...)
}

func pdfDoc(name string) docsource.Document {
	return docsource.Document{Name: name, ContentType: "application/pdf", Data: []byte("%PDF-1.7 " + name)}
}

func waitSettled(t *testing.T, v *Viewer) {
	t.Helper()
	select {
	case <-v.Settled():
	case <-time.After(2 * time.Second):
		t.Fatalf("viewer never settled, state %+v", v.State())
	}
}

func scenarioAnnotations() []annotation.Annotation {
	return []annotation.Annotation{
		{Type: annotation.Title, BBox: annotation.BBox{100, 100, 900, 200}, Page: 1},
		{Type: annotation.Table, BBox: annotation.BBox{0, 0, 1000, 1000}, Page: 2},
	}
}

func TestOverlayScenario(t *testing.T) {
	rec := &pageRecorder{}
	v := New(Options{
		Decoder:      staticDecoder{info: decode.Info{PageCount: 3}},
		OnPageChange: rec.record,
	})
	defer v.Close()

	if err := v.SetAnnotations(scenarioAnnotations()); err != nil {
		t.Fatal(err)
	}
	if err := v.SetDocument(pdfDoc("three-pages")); err != nil {
		t.Fatal(err)
	}
	waitSettled(t, v)

	st := v.State()
	if st.Phase != loadstate.Ready || st.PageCount != 3 {
		t.Fatalf("state = %+v, want Ready(3)", st)
	}
	if got := v.Overlays(); len(got) != 0 {
		t.Errorf("overlays before width measured: %+v", got)
	}

	v.ReportWidth(800)
	want := []Overlay{{
		Type:  annotation.Title,
		Box:   geometry.PixelBox{80, 80, 720, 160},
		Title: "title",
		Label: "title (p1)",
	}}
	got := v.Overlays()
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("page 1 overlays mismatch (-want +got):\n%s", d)
	}
	if got[0].Box.Width() != 640 || got[0].Box.Height() != 80 {
		t.Errorf("title box size = %vx%v, want 640x80", got[0].Box.Width(), got[0].Box.Height())
	}

	if !v.Next() {
		t.Fatal("Next() from page 1 of 3 did not change page")
	}
	want = []Overlay{{
		Type:  annotation.Table,
		Box:   geometry.PixelBox{0, 0, 800, 800},
		Title: "table",
		Label: "table (p2)",
	}}
	if d := cmp.Diff(want, v.Overlays()); d != "" {
		t.Errorf("page 2 overlays mismatch (-want +got):\n%s", d)
	}

	v.ReportWidth(400)
	if got := v.Overlays(); got[0].Box != (geometry.PixelBox{0, 0, 400, 400}) {
		t.Errorf("overlay after resize = %v, want recomputed at width 400", got[0].Box)
	}

	v.Goto(99)
	if v.Page() != 3 {
		t.Errorf("Goto(99) page = %d, want 3", v.Page())
	}
	if got := v.Overlays(); len(got) != 0 {
		t.Errorf("page 3 overlays = %+v, want none", got)
	}
	if d := cmp.Diff([]int{2, 3}, rec.get()); d != "" {
		t.Errorf("page change events mismatch (-want +got):\n%s", d)
	}
}

func TestOverlaysSuppressed(t *testing.T) {
	v := New(Options{Decoder: staticDecoder{info: decode.Info{PageCount: 1}}})
	defer v.Close()
	v.SetAnnotations(scenarioAnnotations())
	v.ReportWidth(800)

	if got := v.Overlays(); len(got) != 0 {
		t.Errorf("overlays with no document: %+v", got)
	}
	v.SetDocument(pdfDoc("one"))
	waitSettled(t, v)
	if got := v.Overlays(); len(got) != 1 {
		t.Fatalf("overlays = %d, want 1", len(got))
	}

	v.SetOverlaysEnabled(false)
	if got := v.Overlays(); len(got) != 0 {
		t.Errorf("overlays while disabled: %+v", got)
	}
	v.SetOverlaysEnabled(true)
	v.ReportWidth(0)
	if got := v.Overlays(); len(got) != 0 {
		t.Errorf("overlays at zero width: %+v", got)
	}
}

func TestNavigationPinnedUntilReady(t *testing.T) {
	dec := newScripted()
	rec := &pageRecorder{}
	v := New(Options{Decoder: dec, OnPageChange: rec.record})
	defer v.Close()

	v.SetDocument(pdfDoc("slow"))
	c := dec.next(t)
	if v.Next() || v.Goto(4) || v.SetCurrentPage(2) {
		t.Error("navigation moved before page count known")
	}
	if v.Page() != 1 {
		t.Errorf("page = %d, want 1", v.Page())
	}

	c.reply <- reply{progress: [][2]int64{{1, 4}, {2, 4}}, info: decode.Info{PageCount: 5}}
	waitSettled(t, v)
	if !v.SetCurrentPage(4) || v.Page() != 4 {
		t.Errorf("SetCurrentPage(4) page = %d", v.Page())
	}
	if d := cmp.Diff([]int{4}, rec.get()); d != "" {
		t.Errorf("page events mismatch (-want +got):\n%s", d)
	}
}

func TestProgressReported(t *testing.T) {
	dec := newScripted()
	v := New(Options{Decoder: dec})
	defer v.Close()

	v.SetDocument(pdfDoc("progress"))
	c := dec.next(t)
	if st := v.State(); st.Phase != loadstate.Loading || st.Progress != loadstate.UnknownProgress {
		t.Fatalf("state after activate = %+v", st)
	}

	v.apply(loadstate.Progress{Generation: v.State().Generation, Loaded: 1, Total: 3}, nil)
	if got := v.State().Progress; got != 33 {
		t.Errorf("progress = %d, want 33", got)
	}
	if p := LoadView(v.State()).Progress; p == nil || *p != 33 {
		t.Errorf("LoadView progress = %v, want 33", p)
	}
	c.reply <- reply{info: decode.Info{PageCount: 1}}
	waitSettled(t, v)
}

func TestSupersededDocumentEventsDiscarded(t *testing.T) {
	dec := newScripted()
	v := New(Options{Decoder: dec})
	defer v.Close()

	v.SetDocument(pdfDoc("old"))
	oldCall := dec.next(t)
	oldGen := v.State().Generation
	oldSettled := v.Settled()

	v.SetDocument(pdfDoc("new"))
	newCall := dec.next(t)
	newGen := v.State().Generation
	if newGen != oldGen+1 {
		t.Fatalf("generation = %d, want %d", newGen, oldGen+1)
	}
	select {
	case <-oldSettled:
	default:
		t.Error("superseded document's settled channel left open")
	}

	// Late callbacks for the old document arrive while the new one loads.
	v.apply(loadstate.Progress{Generation: oldGen, Loaded: 9, Total: 10}, nil)
	v.apply(loadstate.Success{Generation: oldGen, PageCount: 42}, nil)
	v.apply(loadstate.Failed{Generation: oldGen, Err: errors.New("worker crashed")}, nil)
	want := loadstate.State{Phase: loadstate.Loading, Generation: newGen, Progress: loadstate.UnknownProgress}
	if d := cmp.Diff(want, v.State()); d != "" {
		t.Fatalf("state changed by stale events (-want +got):\n%s", d)
	}

	oldCall.reply <- reply{progress: [][2]int64{{5, 10}}, info: decode.Info{PageCount: 42}}
	newCall.reply <- reply{info: decode.Info{PageCount: 2}}
	waitSettled(t, v)

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		st := v.State()
		if st.Phase != loadstate.Ready || st.PageCount != 2 || st.Generation != newGen {
			t.Fatalf("state = %+v, want Ready(2) for generation %d", st, newGen)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDecodeFailuresClassified(t *testing.T) {
	tests := []struct {
		name    string
		decoder decode.Decoder
		want    loadstate.Kind
	}{
		{"no workers", decode.NewEngine(1, nil), loadstate.WorkerUnavailable},
		{"garbage bytes", decode.NewEngine(1, nil, decode.Native{}), loadstate.CorruptDocument},
		{"other failure", staticDecoder{err: errors.New("network reset")}, loadstate.Unknown},
		{"nil decoder", nil, loadstate.WorkerUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(Options{Decoder: tt.decoder})
			defer v.Close()
			v.SetDocument(pdfDoc("bad"))
			waitSettled(t, v)

			st := v.State()
			if st.Phase != loadstate.Errored || st.Failure == nil {
				t.Fatalf("state = %+v, want Errored", st)
			}
			if st.Failure.Kind != tt.want {
				t.Errorf("kind = %v (%q), want %v", st.Failure.Kind, st.Failure.Message, tt.want)
			}
			if view := LoadView(st); view.Error == nil || view.ErrorKind != tt.want.String() {
				t.Errorf("LoadView = %+v", view)
			}
		})
	}
}

func TestEmptyDocumentErrors(t *testing.T) {
	v := New(Options{Decoder: staticDecoder{info: decode.Info{PageCount: 1}}})
	defer v.Close()
	if err := v.SetDocument(docsource.Document{Name: "empty"}); err != nil {
		t.Fatalf("SetDocument returned %v; failures belong in state", err)
	}
	waitSettled(t, v)
	if st := v.State(); st.Phase != loadstate.Errored {
		t.Errorf("state = %+v, want Errored", st)
	}
	if v.Source().Acquired() != 0 {
		t.Errorf("Acquired() = %d for an empty document", v.Source().Acquired())
	}
}

func TestReferencesBalancedAcrossSwaps(t *testing.T) {
	reg := docsource.NewRegistry()
	dec := newScripted()
	v := New(Options{Decoder: dec, Registry: reg})

	for _, name := range []string{"a", "b", "c", "d"} {
		v.SetDocument(pdfDoc(name))
		c := dec.next(t)
		if reg.Live() != 1 {
			t.Errorf("after activating %s: Live() = %d, want 1", name, reg.Live())
		}
		c.reply <- reply{info: decode.Info{PageCount: 1}}
	}
	v.SetDocument(docsource.Document{Name: "empty"})
	if reg.Live() != 0 {
		t.Errorf("Live() = %d after swapping to an empty document", reg.Live())
	}

	v.Close()
	v.Close()
	if reg.Live() != 0 {
		t.Errorf("Live() = %d after Close, want 0", reg.Live())
	}
	if a, r := v.Source().Acquired(), v.Source().Released(); a != r || a != 4 {
		t.Errorf("acquired = %d, released = %d, want 4/4", a, r)
	}
	if err := v.SetDocument(pdfDoc("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("SetDocument after Close = %v, want ErrClosed", err)
	}
}

func TestPageAspectScaling(t *testing.T) {
	v := New(Options{
		Decoder: staticDecoder{info: decode.Info{PageCount: 1, Pages: []geometry.PageSize{{Width: 612, Height: 792}}}},
		Scale:   ScalePageAspect,
	})
	defer v.Close()
	v.SetAnnotations([]annotation.Annotation{{Type: annotation.Figure, Page: 1, BBox: annotation.BBox{0, 0, 1000, 1000}}})
	v.SetDocument(pdfDoc("letter"))
	waitSettled(t, v)

	v.ReportWidth(612)
	if got := v.RenderHeight(); got != 792 {
		t.Errorf("RenderHeight() = %v, want 792", got)
	}
	if got := v.Overlays()[0].Box; got != (geometry.PixelBox{0, 0, 612, 792}) {
		t.Errorf("box = %v, want [0 0 612 792]", got)
	}

	v.ReportSize(612, 500)
	if got := v.Overlays()[0].Box; got != (geometry.PixelBox{0, 0, 612, 500}) {
		t.Errorf("box with host height = %v, want [0 0 612 500]", got)
	}
}

func TestHostHeightForgottenOnPageChange(t *testing.T) {
	v := New(Options{
		Decoder: staticDecoder{info: decode.Info{PageCount: 2, Pages: []geometry.PageSize{
			{Width: 612, Height: 792}, {Width: 1000, Height: 500},
		}}},
		Scale: ScalePageAspect,
	})
	defer v.Close()
	v.SetDocument(pdfDoc("mixed"))
	waitSettled(t, v)

	v.ReportSize(612, 500)
	if got := v.RenderHeight(); got != 500 {
		t.Fatalf("RenderHeight() with host height = %v, want 500", got)
	}
	v.Next()
	if got := v.RenderHeight(); got != 306 {
		t.Errorf("RenderHeight() after page change = %v, want 306 from the page aspect", got)
	}
}

func TestSetAnnotationsDropsInvalid(t *testing.T) {
	v := New(Options{})
	defer v.Close()
	err := v.SetAnnotations([]annotation.Annotation{
		{Type: annotation.Title, Page: 1, BBox: annotation.BBox{0, 0, 10, 10}},
		{Type: annotation.Title, Page: 1, BBox: annotation.BBox{50, 0, 10, 10}},
	})
	if !errors.Is(err, annotation.ErrInvertedBox) {
		t.Errorf("SetAnnotations error = %v, want ErrInvertedBox", err)
	}
	if n := len(v.Annotations()); n != 1 {
		t.Errorf("kept %d annotations, want 1", n)
	}
}

func TestSnapshot(t *testing.T) {
	v := New(Options{ID: "v1", Decoder: staticDecoder{info: decode.Info{PageCount: 3}}})
	defer v.Close()
	v.SetAnnotations(scenarioAnnotations())
	v.SetDocument(pdfDoc("snap"))
	waitSettled(t, v)
	v.ReportWidth(800)

	snap := v.Snapshot()
	if snap.ID != "v1" || snap.Document != "snap" || snap.CurrentPage != 1 || snap.PageCount != 3 {
		t.Errorf("snapshot header = %+v", snap)
	}
	if snap.Load.Phase != "ready" || snap.Load.PageCount != 3 || snap.Load.Progress != nil {
		t.Errorf("load view = %+v", snap.Load)
	}
	if len(snap.Overlays) != 1 || snap.Overlays[0].Box != [4]float64{80, 80, 720, 160} {
		t.Errorf("overlays = %+v", snap.Overlays)
	}
	if snap.Annotations != 2 || snap.Width != 800 || !snap.OverlaysEnabled {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestParseScaleMode(t *testing.T) {
	for in, want := range map[string]ScaleMode{"": ScaleUniform, "uniform": ScaleUniform, "page-aspect": ScalePageAspect} {
		got, err := ParseScaleMode(in)
		if err != nil || got != want {
			t.Errorf("ParseScaleMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseScaleMode("stretch"); err == nil {
		t.Error("ParseScaleMode(stretch) succeeded")
	}
}
