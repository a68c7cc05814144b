// Package extractapi is a client for the extraction backend that produces
// annotations and markdown for an uploaded document.
package extractapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/toricodesthings/pdf-annotation-viewer/internal/types"
)

var ErrNotConfigured = errors.New("extraction api not configured")

// APIError is a non-2xx response. Detail comes from the backend's
// {"detail": ...} body when present.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("extraction api error %d: %s", e.Status, e.Detail)
}

type Client struct {
	base   string
	http   *http.Client
	maxRes int64
}

// New returns a client for base, e.g. "http://localhost:8000".
func New(base string, timeout time.Duration, maxResponseBytes int64) *Client {
	if maxResponseBytes <= 0 {
		maxResponseBytes = 32 << 20
	}
	return &Client{
		base: strings.TrimRight(strings.TrimSpace(base), "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		maxRes: maxResponseBytes,
	}
}

func (c *Client) Configured() bool { return c != nil && c.base != "" }

// Models lists the available extraction backends.
func (c *Client) Models(ctx context.Context) ([]types.Model, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/models", nil)
	if err != nil {
		return nil, err
	}
	var out []types.Model
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Extract uploads the document to POST /extract/{modelId}.
func (c *Client) Extract(ctx context.Context, modelID, filename string, data []byte) (types.ExtractResult, error) {
	var out types.ExtractResult
	req, err := c.extractRequest(ctx, modelID, filename, data, false)
	if err != nil {
		return out, err
	}
	if err := c.doJSON(req, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Download uses the ?download=true variant and returns the markdown
// attachment and its filename.
func (c *Client) Download(ctx context.Context, modelID, filename string, data []byte) ([]byte, string, error) {
	req, err := c.extractRequest(ctx, modelID, filename, data, true)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("extract download: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, "", err
	}

	body, err := c.readLimited(resp.Body)
	if err != nil {
		return nil, "", err
	}
	name := "extraction.md"
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return body, name, nil
}

func (c *Client) extractRequest(ctx context.Context, modelID, filename string, data []byte, download bool) (*http.Request, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, fmt.Errorf("model id required")
	}
	if filename == "" {
		filename = "document.pdf"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", "application/pdf")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	u := c.base + "/extract/" + url.PathEscape(modelID)
	if download {
		u += "?download=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	body, err := c.readLimited(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, c.maxRes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxRes {
		return nil, fmt.Errorf("extraction response exceeds %d bytes", c.maxRes)
	}
	return body, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Detail any `json:"detail"`
	}
	detail := strings.TrimSpace(string(slurp))
	if err := json.Unmarshal(slurp, &payload); err == nil && payload.Detail != nil {
		if s, ok := payload.Detail.(string); ok {
			detail = s
		} else if b, err := json.Marshal(payload.Detail); err == nil {
			detail = string(b)
		}
	}
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Detail: detail}
}
