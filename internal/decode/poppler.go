package decode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/toricodesthings/pdf-annotation-viewer/internal/geometry"
)

var (
	pagesRe    = regexp.MustCompile(`(?m)^Pages:\s+(\d+)\s*$`)
	pageSizeRe = regexp.MustCompile(`(?m)^Page size:\s+([\d.]+) x ([\d.]+) pts`)
	pageRotRe  = regexp.MustCompile(`(?m)^Page rot:\s+(-?\d+)\s*$`)
)

// Poppler shells out to pdfinfo. It reports the size of the first page for
// every page and progress in bytes written to its scratch file.
type Poppler struct {
	Bin string // defaults to "pdfinfo"
}

func (p *Poppler) Name() string { return "poppler" }

func (p *Poppler) bin() string {
	if p.Bin == "" {
		return "pdfinfo"
	}
	return p.Bin
}

func (p *Poppler) Init(context.Context) error {
	if _, err := exec.LookPath(p.bin()); err != nil {
		return fmt.Errorf("pdfinfo worker not found: %w", err)
	}
	return nil
}

func (p *Poppler) Decode(ctx context.Context, data []byte, progress ProgressFunc) (Info, error) {
	total := int64(len(data))
	progress(0, total)

	tmpDir, err := os.MkdirTemp("", "pdfview-*")
	if err != nil {
		return Info{}, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "doc.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return Info{}, fmt.Errorf("write: %w", err)
	}
	progress(total, total)

	out, err := exec.CommandContext(ctx, p.bin(), path).Output()
	if err != nil {
		// A killed pdfinfo also exits non-zero; that says nothing about the file.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Info{}, fmt.Errorf("pdfinfo interrupted: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Info{}, corrupted(fmt.Errorf("pdfinfo: %s", bytesTrim(exitErr.Stderr)))
		}
		return Info{}, fmt.Errorf("pdfinfo worker: %w", err)
	}
	return parsePDFInfo(out)
}

func parsePDFInfo(out []byte) (Info, error) {
	m := pagesRe.FindSubmatch(out)
	if len(m) != 2 {
		return Info{}, corrupted(errors.New("pdfinfo: pages not found"))
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil || n <= 0 {
		return Info{}, corrupted(fmt.Errorf("pdfinfo: invalid page count %q", m[1]))
	}

	var size geometry.PageSize
	if m := pageSizeRe.FindSubmatch(out); len(m) == 3 {
		size.Width, _ = strconv.ParseFloat(string(m[1]), 64)
		size.Height, _ = strconv.ParseFloat(string(m[2]), 64)
	}
	if m := pageRotRe.FindSubmatch(out); len(m) == 2 {
		size.Rotate, _ = strconv.Atoi(string(m[1]))
	}

	pages := make([]geometry.PageSize, n)
	for i := range pages {
		pages[i] = size
	}
	return Info{PageCount: n, Pages: pages}, nil
}

func bytesTrim(b []byte) string {
	s := string(b)
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}
