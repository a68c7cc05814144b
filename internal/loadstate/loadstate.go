// Package loadstate is the decode lifecycle of the active document, written
// as a pure transition function so it can be tested without a renderer.
//
//	Idle → Loading(progress?) → Ready(pageCount) | Errored(kind, message)
//
// Every activation bumps the generation. Events carry the generation they
// were issued for and are discarded when it no longer matches, which is how
// late callbacks from a superseded decode are ignored.
package loadstate

import (
	"fmt"
	"math"
)

type Phase int

const (
	Idle Phase = iota
	Loading
	Ready
	Errored
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// UnknownProgress marks a Loading state without a usable percentage.
const UnknownProgress = -1

type State struct {
	Phase      Phase
	Generation uint64
	Progress   int // 0..100, or UnknownProgress
	PageCount  int
	Failure    *Failure
}

// Terminal reports whether no further events are honored for this
// generation.
func (s State) Terminal() bool { return s.Phase == Ready || s.Phase == Errored }

// Activate is the transition taken when a new document is set, whatever the
// current phase.
func Activate(s State) State {
	return State{Phase: Loading, Generation: s.Generation + 1, Progress: UnknownProgress}
}

// Event is one of Progress, Success or Failed.
type Event interface {
	generation() uint64
}

type Progress struct {
	Generation uint64
	Loaded     int64
	Total      int64 // <= 0 when unknown
}

type Success struct {
	Generation uint64
	PageCount  int
}

type Failed struct {
	Generation uint64
	Err        error
}

func (e Progress) generation() uint64 { return e.Generation }
func (e Success) generation() uint64  { return e.Generation }
func (e Failed) generation() uint64   { return e.Generation }

// Transition applies ev to s. The boolean is false when the event was
// discarded and s is returned unchanged.
func Transition(s State, ev Event) (State, bool) {
	if ev == nil || ev.generation() != s.Generation || s.Phase != Loading {
		return s, false
	}

	switch ev := ev.(type) {
	case Progress:
		p := Percent(ev.Loaded, ev.Total)
		// A report without a usable total never replaces a known value.
		if p == UnknownProgress || p == s.Progress {
			return s, false
		}
		s.Progress = p
		return s, true

	case Success:
		if ev.PageCount < 1 {
			return fail(s, fmt.Errorf("document is corrupted: page count %d", ev.PageCount)), true
		}
		return State{Phase: Ready, Generation: s.Generation, Progress: 100, PageCount: ev.PageCount}, true

	case Failed:
		return fail(s, ev.Err), true
	}
	return s, false
}

func fail(s State, err error) State {
	f := Classify(err)
	return State{Phase: Errored, Generation: s.Generation, Progress: UnknownProgress, Failure: &f}
}

// Percent is min(100, round(loaded/total*100)) when total > 0 and
// UnknownProgress otherwise.
func Percent(loaded, total int64) int {
	if total <= 0 || loaded < 0 {
		return UnknownProgress
	}
	p := int(math.Round(float64(loaded) / float64(total) * 100))
	return min(100, p)
}
