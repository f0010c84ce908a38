// Package raster renders PDF pages to pixel buffers for OCR and box
// detection using MuPDF through go-fitz.
package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"

	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/geometry"
)

// DefaultScale is the upscale factor used for detection. Small form labels
// need at least this pixel density for reliable OCR.
const DefaultScale = 2.0

// ErrInvalidScale is returned for scale factors below 1.0
var ErrInvalidScale = errors.New("raster: scale must be >= 1.0")

// Page is one rendered page. Image dimensions are always
// round(Size.Width*Scale) x round(Size.Height*Scale).
type Page struct {
	Number int
	Scale  float64
	Size   geometry.PageSize
	Image  image.Image
}

// Width returns the pixel width
func (p *Page) Width() int {
	return p.Image.Bounds().Dx()
}

// Height returns the pixel height
func (p *Page) Height() int {
	return p.Image.Bounds().Dy()
}

// Rasterizer renders pages at a given scale
type Rasterizer struct {
	debugMode bool
}

// New creates a rasterizer
func New(debugMode bool) *Rasterizer {
	return &Rasterizer{debugMode: debugMode}
}

// Render renders a single 1-based page
func (r *Rasterizer) Render(ctx context.Context, pdfBytes []byte, page int, scale float64) (*Page, error) {
	doc, err := r.Open(pdfBytes)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	return doc.Render(ctx, page, scale)
}

// RenderAll renders every page, opening the document once
func (r *Rasterizer) RenderAll(ctx context.Context, pdfBytes []byte, scale float64) ([]*Page, error) {
	doc, err := r.Open(pdfBytes)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	pages := make([]*Page, 0, doc.NumPage())
	for i := 1; i <= doc.NumPage(); i++ {
		p, err := doc.Render(ctx, i, scale)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, nil
}

// Document is an open MuPDF document. Render may be called from several
// goroutines; MuPDF access is serialized.
type Document struct {
	mu        sync.Mutex
	doc       *fitz.Document
	pages     int
	debugMode bool
}

// Open parses pdfBytes with MuPDF. The caller must Close the document.
func (r *Rasterizer) Open(pdfBytes []byte) (*Document, error) {
	if len(pdfBytes) == 0 {
		return nil, formerrors.MalformedDocument("empty document", nil)
	}

	doc, err := fitz.NewFromMemory(pdfBytes)
	if err != nil {
		return nil, formerrors.MalformedDocument("cannot open document for rendering", err)
	}

	return &Document{doc: doc, pages: doc.NumPage(), debugMode: r.debugMode}, nil
}

// NumPage returns the page count
func (d *Document) NumPage() int {
	return d.pages
}

// Render renders a 1-based page at scale. The context is checked before any
// work starts; MuPDF rendering itself is not interruptible.
func (d *Document) Render(ctx context.Context, page int, scale float64) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scale < 1.0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidScale, scale)
	}
	if page < 1 || page > d.pages {
		return nil, fmt.Errorf("raster: page %d out of range (document has %d pages)", page, d.pages)
	}

	d.mu.Lock()
	bound, err := d.doc.Bound(page - 1)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("raster: cannot read bounds of page %d: %w", page, err)
	}
	img, err := d.doc.ImageDPI(page-1, geometry.PointsPerInch*scale)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("raster: cannot render page %d: %w", page, err)
	}

	size := geometry.PageSize{Width: float64(bound.Dx()), Height: float64(bound.Dy())}
	out := fitTo(img, size, scale)

	if d.debugMode {
		log.Printf("raster: page %d rendered at %.1fx to %dx%d", page, scale, out.Bounds().Dx(), out.Bounds().Dy())
	}

	return &Page{Number: page, Scale: scale, Size: size, Image: out}, nil
}

// fitTo snaps MuPDF output to the exact expected dimensions. MuPDF rounds
// the device box outward, so it can be a pixel larger than size*scale.
func fitTo(img image.Image, size geometry.PageSize, scale float64) image.Image {
	w := int(math.Round(size.Width * scale))
	h := int(math.Round(size.Height * scale))
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	if b.Dx() >= w && b.Dy() >= h {
		return imaging.Crop(img, image.Rect(b.Min.X, b.Min.Y, b.Min.X+w, b.Min.Y+h))
	}
	return imaging.Resize(img, w, h, imaging.Linear)
}

// Close releases the MuPDF document
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Close()
}
