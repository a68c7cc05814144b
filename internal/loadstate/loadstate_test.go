package loadstate

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func loading(gen uint64) State {
	return State{Phase: Loading, Generation: gen, Progress: UnknownProgress}
}

func TestActivateResetsFromAnyPhase(t *testing.T) {
	from := []State{
		{},
		loading(3),
		{Phase: Ready, Generation: 4, PageCount: 9, Progress: 100},
		{Phase: Errored, Generation: 5, Failure: &Failure{Kind: Unknown, Message: "x"}},
	}
	for _, s := range from {
		got := Activate(s)
		want := loading(s.Generation + 1)
		if d := cmp.Diff(want, got); d != "" {
			t.Errorf("Activate(%v) mismatch (-want +got):\n%s", s.Phase, d)
		}
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		loaded, total int64
		want          int
	}{
		{0, 100, 0},
		{1, 3, 33},
		{2, 3, 67},
		{50, 100, 50},
		{100, 100, 100},
		{150, 100, 100},
		{10, 0, UnknownProgress},
		{10, -1, UnknownProgress},
	}
	for _, tt := range tests {
		if got := Percent(tt.loaded, tt.total); got != tt.want {
			t.Errorf("Percent(%d, %d) = %d, want %d", tt.loaded, tt.total, got, tt.want)
		}
	}
}

func TestTransitions(t *testing.T) {
	corrupt := errors.New("document is corrupted")
	tests := []struct {
		name    string
		from    State
		ev      Event
		want    State
		applied bool
	}{
		{
			name: "progress while loading", from: loading(1),
			ev:   Progress{Generation: 1, Loaded: 25, Total: 100},
			want: State{Phase: Loading, Generation: 1, Progress: 25}, applied: true,
		},
		{
			name: "progress without total stays unknown", from: loading(1),
			ev:   Progress{Generation: 1, Loaded: 25},
			want: loading(1), applied: false,
		},
		{
			name: "progress without total keeps known value",
			from: State{Phase: Loading, Generation: 1, Progress: 40},
			ev:   Progress{Generation: 1, Loaded: 60, Total: 0},
			want: State{Phase: Loading, Generation: 1, Progress: 40}, applied: false,
		},
		{
			name: "success", from: loading(2),
			ev:   Success{Generation: 2, PageCount: 3},
			want: State{Phase: Ready, Generation: 2, Progress: 100, PageCount: 3}, applied: true,
		},
		{
			name: "failure", from: loading(2),
			ev:   Failed{Generation: 2, Err: corrupt},
			want: State{Phase: Errored, Generation: 2, Progress: UnknownProgress,
				Failure: &Failure{Kind: CorruptDocument, Message: "document is corrupted"}},
			applied: true,
		},
		{
			name: "zero pages is corrupt", from: loading(2),
			ev: Success{Generation: 2, PageCount: 0},
			want: State{Phase: Errored, Generation: 2, Progress: UnknownProgress,
				Failure: &Failure{Kind: CorruptDocument, Message: "document is corrupted: page count 0"}},
			applied: true,
		},
		{
			name: "stale generation success", from: loading(5),
			ev:   Success{Generation: 4, PageCount: 10},
			want: loading(5), applied: false,
		},
		{
			name: "stale generation failure", from: loading(5),
			ev:   Failed{Generation: 4, Err: corrupt},
			want: loading(5), applied: false,
		},
		{
			name: "progress after ready", from: State{Phase: Ready, Generation: 1, PageCount: 2, Progress: 100},
			ev:   Progress{Generation: 1, Loaded: 1, Total: 2},
			want: State{Phase: Ready, Generation: 1, PageCount: 2, Progress: 100}, applied: false,
		},
		{
			name: "success after error", from: State{Phase: Errored, Generation: 1, Failure: &Failure{Message: "x"}},
			ev:   Success{Generation: 1, PageCount: 2},
			want: State{Phase: Errored, Generation: 1, Failure: &Failure{Message: "x"}}, applied: false,
		},
		{
			name: "event while idle", from: State{},
			ev:   Success{Generation: 0, PageCount: 1},
			want: State{}, applied: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, applied := Transition(tt.from, tt.ev)
			if applied != tt.applied {
				t.Errorf("applied = %v, want %v", applied, tt.applied)
			}
			if d := cmp.Diff(tt.want, got); d != "" {
				t.Errorf("state mismatch (-want +got):\n%s", d)
			}
		})
	}
}

func TestSupersededGenerationIsIgnored(t *testing.T) {
	s := Activate(State{})
	old := s.Generation
	s, _ = Transition(s, Progress{Generation: old, Loaded: 10, Total: 100})

	s = Activate(s)
	for _, ev := range []Event{
		Progress{Generation: old, Loaded: 90, Total: 100},
		Success{Generation: old, PageCount: 7},
		Failed{Generation: old, Err: errors.New("worker died")},
	} {
		var applied bool
		s, applied = Transition(s, ev)
		if applied {
			t.Errorf("event %T for old generation was applied", ev)
		}
	}
	if d := cmp.Diff(loading(old+1), s); d != "" {
		t.Errorf("state mismatch (-want +got):\n%s", d)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want Kind
	}{
		{"Setting up fake worker failed", WorkerUnavailable},
		{"decode worker unavailable: no candidates", WorkerUnavailable},
		{"The PDF file is corrupted", CorruptDocument},
		{"Invalid PDF structure", CorruptDocument},
		{"not a valid PDF file: bad xref", CorruptDocument},
		{"network timeout", Unknown},
		{"", Unknown},
	}
	for _, tt := range tests {
		got := Classify(errors.New(tt.msg))
		if got.Kind != tt.want {
			t.Errorf("Classify(%q).Kind = %v, want %v", tt.msg, got.Kind, tt.want)
		}
		if got.Message != tt.msg {
			t.Errorf("Classify(%q).Message = %q, raw message not preserved", tt.msg, got.Message)
		}
	}
}

func TestClassifyKeepsClassifiedFailure(t *testing.T) {
	f := &Failure{Kind: WorkerUnavailable, Message: "no pdfinfo"}
	got := Classify(fmt.Errorf("decode: %w", f))
	if got != *f {
		t.Errorf("Classify(wrapped) = %+v, want %+v", got, *f)
	}
	if got := Classify(nil); got.Kind != Unknown || got.Message == "" {
		t.Errorf("Classify(nil) = %+v", got)
	}
}
