package annotation

import "sort"

// ForPage returns the annotations on page in their original relative order.
// Order matters: it is the stacking order of overlapping overlays.
func ForPage(list []Annotation, page int) []Annotation {
	out := make([]Annotation, 0)
	for _, a := range list {
		if a.Page == page {
			out = append(out, a)
		}
	}
	return out
}

// Index groups a fixed annotation set by page.
type Index struct {
	byPage map[int][]Annotation
	total  int
}

func NewIndex(list []Annotation) *Index {
	idx := &Index{byPage: make(map[int][]Annotation), total: len(list)}
	for _, a := range list {
		idx.byPage[a.Page] = append(idx.byPage[a.Page], a)
	}
	return idx
}

// Page returns a copy of the annotations on page, in input order.
func (idx *Index) Page(page int) []Annotation {
	src := idx.byPage[page]
	out := make([]Annotation, len(src))
	copy(out, src)
	return out
}

// Pages lists the pages that carry at least one annotation, ascending.
func (idx *Index) Pages() []int {
	out := make([]int, 0, len(idx.byPage))
	for p := range idx.byPage {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func (idx *Index) Len() int { return idx.total }
