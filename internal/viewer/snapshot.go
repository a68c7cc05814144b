package viewer

import (
	"github.com/toricodesthings/pdf-annotation-viewer/internal/loadstate"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/types"
)

// LoadView converts a load state to its wire form.
func LoadView(s loadstate.State) types.LoadStateView {
	out := types.LoadStateView{Phase: s.Phase.String(), Generation: s.Generation}
	if s.Phase == loadstate.Loading && s.Progress != loadstate.UnknownProgress {
		p := s.Progress
		out.Progress = &p
	}
	if s.Phase == loadstate.Ready {
		out.PageCount = s.PageCount
	}
	if s.Failure != nil {
		msg := s.Failure.Message
		out.ErrorKind = s.Failure.Kind.String()
		out.Error = &msg
	}
	return out
}

// Snapshot is the host-facing view of the viewer, overlays included.
func (v *Viewer) Snapshot() types.ViewerSnapshot {
	v.mu.Lock()
	overlays := v.overlaysLocked()
	snap := types.ViewerSnapshot{
		ID:              v.opts.ID,
		Document:        v.docName,
		Load:            LoadView(v.state),
		CurrentPage:     v.nav.Page(),
		PageCount:       v.nav.Count(),
		Width:           v.geom.Width(),
		OverlaysEnabled: v.overlaysEnabled,
		Annotations:     len(v.annotations),
	}
	v.mu.Unlock()

	snap.Overlays = make([]types.OverlayView, 0, len(overlays))
	for _, o := range overlays {
		snap.Overlays = append(snap.Overlays, types.OverlayView{
			Type:  string(o.Type),
			Box:   [4]float64(o.Box),
			Title: o.Title,
		})
	}
	return snap
}
