// Package format renders annotation sets as markdown.
package format

import (
	"fmt"
	"strings"

	"github.com/toricodesthings/pdf-annotation-viewer/internal/annotation"
)

// CountWords counts whitespace-separated words.
func CountWords(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}

// Outline renders the text of every annotation, page by page, in input
// order. Pages whose annotations carry no text are skipped.
func Outline(list []annotation.Annotation, sep string, includePageNums bool) string {
	idx := annotation.NewIndex(list)

	var b strings.Builder
	first := true
	for _, page := range idx.Pages() {
		txt := strings.TrimSpace(renderPage(idx.Page(page)))
		if txt == "" {
			continue
		}
		if !first {
			b.WriteString(sep)
		}
		first = false
		if includePageNums {
			b.WriteString(fmt.Sprintf("## Page %d\n\n", page))
		}
		b.WriteString(txt)
	}
	return strings.TrimSpace(b.String())
}

func renderPage(list []annotation.Annotation) string {
	var b strings.Builder
	for _, a := range list {
		text := strings.TrimSpace(a.Text)
		if text == "" {
			continue
		}
		switch a.Type {
		case annotation.Title:
			b.WriteString("### " + text)
		case annotation.Header:
			b.WriteString("#### " + text)
		case annotation.Figure:
			b.WriteString("*Figure: " + text + "*")
		case annotation.Table:
			b.WriteString("```\n" + text + "\n```")
		default:
			b.WriteString(text)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}
