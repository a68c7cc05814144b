package decode

import (
	"bytes"
	"context"
	"fmt"

	"seehuhn.de/go/pdf"
	"seehuhn.de/go/pdf/pagetree"

	"github.com/toricodesthings/pdf-annotation-viewer/internal/geometry"
)

// Native decodes in-process with seehuhn.de/go/pdf. It is the bundled
// worker and always initializes.
type Native struct{}

func (Native) Name() string { return "native" }

func (Native) Init(context.Context) error { return nil }

func (Native) Decode(ctx context.Context, data []byte, progress ProgressFunc) (Info, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), nil)
	if err != nil {
		return Info{}, corrupted(err)
	}
	defer r.Close()

	n, err := pagetree.NumPages(r)
	if err != nil {
		return Info{}, corrupted(err)
	}
	if n <= 0 {
		return Info{}, corrupted(fmt.Errorf("page tree has %d pages", n))
	}

	total := int64(n)
	progress(0, total)

	pages := make([]geometry.PageSize, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return Info{}, err
		}
		_, dict, err := pagetree.GetPage(r, i)
		if err != nil {
			return Info{}, corrupted(fmt.Errorf("page %d: %w", i+1, err))
		}
		pages = append(pages, nativePageSize(r, dict))
		progress(int64(i+1), total)
	}
	return Info{PageCount: n, Pages: pages}, nil
}

// nativePageSize prefers CropBox over MediaBox. A page without a usable box
// gets a zero size; the projector then falls back to width-only scaling.
func nativePageSize(r pdf.Getter, dict pdf.Dict) geometry.PageSize {
	var box *pdf.Rectangle
	for _, key := range []pdf.Name{"CropBox", "MediaBox"} {
		b, err := pdf.GetRectangle(r, dict[key])
		if err == nil && b != nil {
			box = b
			break
		}
	}
	if box == nil {
		return geometry.PageSize{}
	}

	size := geometry.PageSize{Width: box.URx - box.LLx, Height: box.URy - box.LLy}
	if rot, err := pdf.GetInteger(r, dict["Rotate"]); err == nil {
		size.Rotate = int(rot)
	}
	return size
}
