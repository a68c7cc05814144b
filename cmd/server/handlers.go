package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/toricodesthings/pdf-annotation-viewer/internal/annotation"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/docsource"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/extractapi"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/format"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/overlay"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/session"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/types"
	"github.com/toricodesthings/pdf-annotation-viewer/internal/viewer"
)

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", withMethod(http.MethodGet, a.handleHealth))
	mux.HandleFunc("/metrics", withInternalAuth(withMethod(http.MethodGet, a.handleMetrics)))
	mux.HandleFunc("/models", guarded(http.MethodGet, a.handleModels))

	mux.HandleFunc("/viewers", guarded(http.MethodPost, a.handleCreate))
	mux.HandleFunc("/viewers/{id}", withInternalAuth(withRateLimit(withConcurrencyLimit(byMethod(map[string]http.HandlerFunc{
		http.MethodGet:    a.handleSnapshot,
		http.MethodDelete: a.handleDelete,
	})))))
	mux.HandleFunc("/viewers/{id}/document", guarded(http.MethodPut, a.handleDocument))
	mux.HandleFunc("/viewers/{id}/annotations", guarded(http.MethodPut, a.handleAnnotations))
	mux.HandleFunc("/viewers/{id}/overlays", guarded(http.MethodPut, a.handleOverlays))
	mux.HandleFunc("/viewers/{id}/navigate", guarded(http.MethodPost, a.handleNavigate))
	mux.HandleFunc("/viewers/{id}/geometry", guarded(http.MethodPost, a.handleGeometry))
	mux.HandleFunc("/viewers/{id}/overlay.png", guarded(http.MethodGet, a.handleOverlayPNG))
	mux.HandleFunc("/viewers/{id}/markdown", guarded(http.MethodGet, a.handleMarkdown))

	return mux
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, active := metrics.get()
	status := "healthy"
	code := http.StatusOK

	ratio := cfg.HealthDegradeRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.9
	}

	if active >= int64(float64(cfg.MaxConcurrentRequests)*ratio) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"active":  active,
		"viewers": a.store.Len(),
		"version": "1.0.0",
	})
}

func (a *app) handleMetrics(w http.ResponseWriter, r *http.Request) {
	total, active := metrics.get()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_requests":  total,
		"active_requests": active,
		"viewers":         a.store.Len(),
		"live_documents":  a.registry.Live(),
		"max_concurrent":  cfg.MaxConcurrentRequests,
	})
}

func (a *app) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := a.extract.Models(r.Context())
	if err != nil {
		writeExtractErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

// handleCreate mounts a viewer. A document in the body is loaded right away.
func (a *app) handleCreate(w http.ResponseWriter, r *http.Request) {
	var (
		doc   docsource.Document
		model string
		err   error
	)
	hasBody := r.ContentLength != 0
	if hasBody {
		doc, model, err = a.readDocument(w, r)
		if err != nil {
			writeDocErr(w, err)
			return
		}
	}

	v, err := a.store.Create()
	if err != nil {
		writeErr(w, http.StatusServiceUnavailable, "capacity", sanitizeError(err))
		return
	}
	if hasBody {
		if err := a.load(v, doc, model); err != nil {
			writeViewerErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, a.snapshot(v))
}

func (a *app) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	v, ok := a.viewer(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.snapshot(v))
}

func (a *app) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Delete(r.PathValue("id")); err != nil {
		writeViewerErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleDocument(w http.ResponseWriter, r *http.Request) {
	v, ok := a.viewer(w, r)
	if !ok {
		return
	}
	doc, model, err := a.readDocument(w, r)
	if err != nil {
		writeDocErr(w, err)
		return
	}
	if err := a.load(v, doc, model); err != nil {
		writeViewerErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.snapshot(v))
}

func (a *app) handleAnnotations(w http.ResponseWriter, r *http.Request) {
	v, ok := a.viewer(w, r)
	if !ok {
		return
	}
	req, err := parseJSON[types.AnnotationsRequest](r, cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}

	var rejected []string
	if err := v.SetAnnotations(annotation.FromElements(req.Elements)); err != nil {
		if errors.Is(err, viewer.ErrClosed) {
			writeViewerErr(w, err)
			return
		}
		for _, line := range strings.Split(err.Error(), "\n") {
			rejected = append(rejected, sanitizeError(errors.New(line)))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"viewer":   a.snapshot(v),
		"rejected": rejected,
	})
}

func (a *app) handleOverlays(w http.ResponseWriter, r *http.Request) {
	v, ok := a.viewer(w, r)
	if !ok {
		return
	}
	req, err := parseJSON[types.OverlaysRequest](r, cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	v.SetOverlaysEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, a.snapshot(v))
}

func (a *app) handleNavigate(w http.ResponseWriter, r *http.Request) {
	v, ok := a.viewer(w, r)
	if !ok {
		return
	}
	req, err := parseJSON[types.NavigateRequest](r, cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}

	switch req.Action {
	case "next":
		v.Next()
	case "prev":
		v.Prev()
	case "goto":
		v.Goto(req.Page)
	case "sync":
		v.SetCurrentPage(req.Page)
	default:
		writeErr(w, http.StatusBadRequest, "validation_failed", "action must be next, prev, goto or sync")
		return
	}
	writeJSON(w, http.StatusOK, a.snapshot(v))
}

func (a *app) handleGeometry(w http.ResponseWriter, r *http.Request) {
	v, ok := a.viewer(w, r)
	if !ok {
		return
	}
	req, err := parseJSON[types.GeometryRequest](r, cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	if req.Height > 0 {
		v.ReportSize(req.Width, req.Height)
	} else {
		v.ReportWidth(req.Width)
	}
	// Reports are throttled; the snapshot may still show the previous width.
	writeJSON(w, http.StatusAccepted, a.snapshot(v))
}

func (a *app) handleOverlayPNG(w http.ResponseWriter, r *http.Request) {
	v, ok := a.viewer(w, r)
	if !ok {
		return
	}
	width := v.Width()
	if width <= 0 {
		writeErr(w, http.StatusConflict, "geometry_unknown", "No container width has been reported yet")
		return
	}

	png, err := overlay.Render(v.Overlays(), int(math.Round(width)), int(math.Round(v.RenderHeight())))
	if err != nil {
		if errors.Is(err, overlay.ErrCanvasSize) {
			writeErr(w, http.StatusUnprocessableEntity, "canvas_size", sanitizeError(err))
			return
		}
		writeErr(w, http.StatusInternalServerError, "render_failed", sanitizeError(err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (a *app) handleMarkdown(w http.ResponseWriter, r *http.Request) {
	v, ok := a.viewer(w, r)
	if !ok {
		return
	}
	doc, ok := v.Source().Document()
	if !ok {
		writeErr(w, http.StatusConflict, "no_document", "Viewer has no active document")
		return
	}
	model := r.URL.Query().Get("model")
	if model == "" {
		model = cfg.DefaultModel
	}

	var (
		body []byte
		name string
	)
	if model == "local" || !a.extract.Configured() {
		// Outline of the annotations the viewer already holds.
		body = []byte(format.Outline(v.Annotations(), "\n\n---\n\n", true))
		name = strings.TrimSuffix(doc.Name, ".pdf") + ".md"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), cfg.ExtractTimeout)
		defer cancel()

		var err error
		body, name, err = a.extract.Download(ctx, model, doc.Name, doc.Data)
		if err != nil {
			writeExtractErr(w, err)
			return
		}
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// ---------- Viewer plumbing ----------

func (a *app) viewer(w http.ResponseWriter, r *http.Request) (*viewer.Viewer, bool) {
	v, err := a.store.Get(r.PathValue("id"))
	if err != nil {
		writeViewerErr(w, err)
		return nil, false
	}
	return v, true
}

func (a *app) snapshot(v *viewer.Viewer) types.ViewerSnapshot {
	snap := v.Snapshot()
	if p, err := a.store.HostPage(v.ID()); err == nil {
		snap.HostPage = p
	}
	return snap
}

// load activates doc and, when a model is named, fetches its annotations in
// the background. Annotations belong to the document they were made for, so
// the previous set is dropped on every swap.
func (a *app) load(v *viewer.Viewer, doc docsource.Document, model string) error {
	if err := v.SetDocument(doc); err != nil {
		return err
	}
	if err := v.SetAnnotations(nil); err != nil {
		return err
	}
	if model != "" && a.extract.Configured() {
		go a.annotate(v, doc, model)
	}
	return nil
}

// annotate applies extracted elements only if doc is still the active
// document when the extraction returns.
func (a *app) annotate(v *viewer.Viewer, doc docsource.Document, model string) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ExtractTimeout)
	defer cancel()

	start := time.Now()
	res, err := a.extract.Extract(ctx, model, doc.Name, doc.Data)
	if err != nil {
		log.Warn("extraction failed", "viewer", v.ID(), "model", model, "err", sanitizeError(err))
		return
	}

	cur, ok := v.Source().Document()
	if !ok || cur.Fingerprint() != doc.Fingerprint() {
		log.Debug("extraction superseded", "viewer", v.ID(), "model", model)
		return
	}
	if err := v.SetAnnotations(annotation.FromElements(res.Elements)); err != nil {
		log.Warn("annotations dropped", "viewer", v.ID(), "err", sanitizeError(err))
	}
	log.Info("annotations applied",
		"viewer", v.ID(), "model", model,
		"elements", len(res.Elements),
		"words", format.CountWords(res.MarkdownOutput),
		"took", time.Since(start))
}

var (
	errTooLarge    = errors.New("document too large")
	errUnsupported = errors.New("unsupported content type")
)

// readDocument accepts a multipart upload (field "file"), a JSON body
// naming a presigned URL, or a raw application/pdf body.
func (a *app) readDocument(w http.ResponseWriter, r *http.Request) (docsource.Document, string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	q := r.URL.Query()

	switch ct {
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxPDFBytes+(1<<20))
		f, hdr, err := r.FormFile("file")
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return docsource.Document{}, "", errTooLarge
			}
			return docsource.Document{}, "", fmt.Errorf("form file: %w", err)
		}
		defer f.Close()
		data, err := readLimited(f, cfg.MaxPDFBytes)
		if err != nil {
			return docsource.Document{}, "", err
		}
		return docsource.Document{Name: hdr.Filename, ContentType: "application/pdf", Data: data}, r.FormValue("model"), nil

	case "application/json":
		req, err := parseJSON[types.DocumentRequest](r, cfg.MaxJSONBodyBytes)
		if err != nil {
			return docsource.Document{}, "", err
		}
		if !strings.HasPrefix(req.PresignedURL, "https://") && !strings.HasPrefix(req.PresignedURL, "http://") {
			return docsource.Document{}, "", fmt.Errorf("presignedUrl must be http/https")
		}
		ctx, cancel := context.WithTimeout(r.Context(), cfg.DownloadTimeout)
		defer cancel()
		data, err := downloadPDF(ctx, req.PresignedURL, cfg.MaxPDFBytes, cfg.DownloadTimeout)
		if err != nil {
			return docsource.Document{}, "", err
		}
		name := req.Name
		if name == "" {
			name = "document.pdf"
		}
		return docsource.Document{Name: name, ContentType: "application/pdf", Data: data}, req.Model, nil

	case "application/pdf", "application/octet-stream", "":
		data, err := readLimited(r.Body, cfg.MaxPDFBytes)
		if err != nil {
			return docsource.Document{}, "", err
		}
		name := q.Get("name")
		if name == "" {
			name = "document.pdf"
		}
		return docsource.Document{Name: name, ContentType: "application/pdf", Data: data}, q.Get("model"), nil
	}
	return docsource.Document{}, "", fmt.Errorf("%w: %s", errUnsupported, ct)
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, errTooLarge
		}
		return nil, fmt.Errorf("read document: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, errTooLarge
	}
	return data, nil
}

func downloadPDF(ctx context.Context, url string, maxBytes int64, timeout time.Duration) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	req.Header.Set("User-Agent", "pdfviewer/1.0")

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if ct != "" && !strings.Contains(ct, "pdf") && !strings.Contains(ct, "octet-stream") {
		return nil, fmt.Errorf("%w: %s", errUnsupported, ct)
	}

	data, err := readLimited(resp.Body, maxBytes)
	if err != nil {
		return nil, err
	}
	if err := validatePDFMagic(data); err != nil {
		return nil, err
	}
	return data, nil
}

// validatePDFMagic checks that a download starts with %PDF. Object stores
// answer expired links with XML or HTML bodies.
func validatePDFMagic(data []byte) error {
	if len(data) < 5 {
		return fmt.Errorf("downloaded file is too small to be a valid PDF")
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		preview := string(data[:min(len(data), 40)])
		return fmt.Errorf("downloaded file is not a PDF (starts with %q); presigned URL may be expired or invalid", preview)
	}
	return nil
}

// ---------- Responses ----------

func byMethod(handlers map[string]http.HandlerFunc) http.HandlerFunc {
	allowed := make([]string, 0, len(handlers))
	for m := range handlers {
		allowed = append(allowed, m)
	}
	slices.Sort(allowed)
	allow := strings.Join(allowed, ", ")
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[r.Method]
		if !ok {
			w.Header().Set("Allow", allow)
			writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method must be one of "+allow)
			return
		}
		h(w, r)
	}
}

func writeViewerErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not_found", "Viewer not found")
	case errors.Is(err, viewer.ErrClosed):
		writeErr(w, http.StatusGone, "closed", "Viewer is closed")
	default:
		writeErr(w, http.StatusInternalServerError, "internal_error", sanitizeError(err))
	}
}

func writeDocErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errTooLarge):
		writeErr(w, http.StatusRequestEntityTooLarge, "too_large",
			fmt.Sprintf("PDF exceeds %dMB limit", cfg.MaxPDFBytes/(1<<20)))
	case errors.Is(err, errUnsupported):
		writeErr(w, http.StatusUnsupportedMediaType, "unsupported_media_type", sanitizeError(err))
	default:
		writeErr(w, http.StatusBadRequest, "bad_document", sanitizeError(err))
	}
}

func writeExtractErr(w http.ResponseWriter, err error) {
	var apiErr *extractapi.APIError
	switch {
	case errors.Is(err, extractapi.ErrNotConfigured):
		writeErr(w, http.StatusServiceUnavailable, "extract_unavailable", "Extraction API is not configured")
	case errors.As(err, &apiErr):
		writeErr(w, http.StatusBadGateway, "extract_failed", sanitizeError(err))
	case errors.Is(err, context.DeadlineExceeded):
		writeErr(w, http.StatusGatewayTimeout, "extract_timeout", "Extraction timed out")
	default:
		writeErr(w, http.StatusBadGateway, "extract_failed", sanitizeError(err))
	}
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = strings.ReplaceAll(msg, os.TempDir(), "[tmp]")
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}

func sanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func parseJSON[T any](r *http.Request, limit int64) (T, error) {
	var out T
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&out); err != nil {
		return out, err
	}

	// Ensure there's nothing else after the first JSON value
	if err := dec.Decode(new(any)); err != io.EOF {
		if err == nil {
			return out, fmt.Errorf("unexpected trailing data")
		}
		return out, err
	}

	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
