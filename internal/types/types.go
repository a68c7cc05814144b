package types

// Element is one annotation as produced by the extraction backend.
// BBox is [x_min, y_min, x_max, y_max] normalized to 0-1000.
type Element struct {
	Type       string     `json:"type"`
	Text       string     `json:"text,omitempty"`
	Page       int        `json:"page"`
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence,omitempty"`
}

type ExtractMetrics struct {
	TimeSeconds   float64 `json:"time_s"`
	ElementsCount int     `json:"elements_count"`
	WordCount     int     `json:"word_count"`
}

type ExtractResult struct {
	MarkdownOutput string         `json:"markdown_output"`
	Elements       []Element      `json:"elements"`
	Metrics        ExtractMetrics `json:"metrics"`
}

type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ── Viewer types ─────────────────────────────────────────────────────────────

type NavigateRequest struct {
	Action string `json:"action"` // "next" | "prev" | "goto"
	Page   int    `json:"page"`
}

type GeometryRequest struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height,omitempty"`
}

type AnnotationsRequest struct {
	Elements []Element `json:"elements"`
}

// DocumentRequest loads a document from object storage instead of an upload.
type DocumentRequest struct {
	PresignedURL string `json:"presignedUrl"`
	Name         string `json:"name,omitempty"`
	Model        string `json:"model,omitempty"`
}

type OverlaysRequest struct {
	Enabled bool `json:"enabled"`
}

type LoadStateView struct {
	Phase      string  `json:"phase"`              // "idle" | "loading" | "ready" | "errored"
	Progress   *int    `json:"progress,omitempty"` // nil while unknown
	PageCount  int     `json:"pageCount,omitempty"`
	ErrorKind  string  `json:"errorKind,omitempty"`
	Error      *string `json:"error,omitempty"`
	Generation uint64  `json:"generation"`
}

type OverlayView struct {
	Type  string     `json:"type"`
	Box   [4]float64 `json:"box"` // pixel space
	Title string     `json:"title"`
}

type ViewerSnapshot struct {
	ID              string        `json:"id"`
	Document        string        `json:"document,omitempty"`
	Load            LoadStateView `json:"load"`
	CurrentPage     int           `json:"currentPage"`
	HostPage        int           `json:"hostPage,omitempty"` // last page announced to the host
	PageCount       int           `json:"pageCount,omitempty"`
	Width           float64       `json:"width"`
	OverlaysEnabled bool          `json:"overlaysEnabled"`
	Overlays        []OverlayView `json:"overlays"`
	Annotations     int           `json:"annotations"`
}
