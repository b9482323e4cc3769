package render

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	fitz "github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"github.com/local/pagebinder/internal/source"
)

// Size is a target box in pixels.
type Size struct {
	W int
	H int
}

// Backend produces a raster thumbnail for a page, scaled to fit the target
// box with aspect ratio preserved. Implementations must be safe to call from
// multiple goroutines.
type Backend interface {
	Render(ctx context.Context, page source.PageRef, box Size) (image.Image, error)
}

// Fitz renders through MuPDF. Each call opens its own document handle, so
// concurrent renders never share state.
type Fitz struct {
	Grayscale bool
}

func NewFitz(grayscale bool) *Fitz {
	return &Fitz{Grayscale: grayscale}
}

func (f *Fitz) Render(ctx context.Context, page source.PageRef, box Size) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := fitz.New(page.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", page.Path, err)
	}
	defer doc.Close()

	bounds, err := doc.Bound(page.Index)
	if err != nil {
		return nil, fmt.Errorf("page %d bounds: %w", page.Index, err)
	}
	dpi := fitDPI(bounds.Dx(), bounds.Dy(), box)

	img, err := doc.ImageDPI(page.Index, dpi)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", page.Index, err)
	}

	var out image.Image = img
	if f.Grayscale {
		gray := image.NewGray(img.Bounds())
		draw.Draw(gray, img.Bounds(), img, image.Point{}, draw.Src)
		out = gray
	}

	log.Debug().
		Str("source_id", string(page.Source)).
		Int("page", page.Index).
		Int("width", out.Bounds().Dx()).
		Int("height", out.Bounds().Dy()).
		Float64("dpi", dpi).
		Msg("rendered thumbnail")
	return out, nil
}

// fitDPI scales a page of w x h points (72 dpi base) so the raster fits
// inside box on both axes.
func fitDPI(w, h int, box Size) float64 {
	if w <= 0 || h <= 0 || box.W <= 0 || box.H <= 0 {
		return 72
	}
	sx := float64(box.W) / float64(w)
	sy := float64(box.H) / float64(h)
	s := sx
	if sy < s {
		s = sy
	}
	dpi := 72 * s
	if dpi < 1 {
		dpi = 1
	}
	return dpi
}

// Cost estimates the resident byte size of a rendered image, used for the
// cache byte budget.
func Cost(img image.Image) int64 {
	switch t := img.(type) {
	case *image.RGBA:
		return int64(len(t.Pix))
	case *image.NRGBA:
		return int64(len(t.Pix))
	case *image.Gray:
		return int64(len(t.Pix))
	default:
		b := img.Bounds()
		return int64(b.Dx()) * int64(b.Dy()) * 4
	}
}
