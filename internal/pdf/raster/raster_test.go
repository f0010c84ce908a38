package raster

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"codeberg.org/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/geometry"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/pdftest"
)

func TestRender_Dimensions(t *testing.T) {
	doc := pdftest.LabelledFormPDF(t)
	r := New(false)

	for _, scale := range []float64{1.0, 2.0, 3.0} {
		page, err := r.Render(context.Background(), doc, 1, scale)
		require.NoError(t, err)

		assert.Equal(t, 1, page.Number)
		assert.Equal(t, int(math.Round(page.Size.Width*scale)), page.Width())
		assert.Equal(t, int(math.Round(page.Size.Height*scale)), page.Height())
		assert.InDelta(t, pdftest.A4Width, page.Size.Width, 1)
	}
}

func TestRender_Deterministic(t *testing.T) {
	doc := pdftest.LabelledFormPDF(t)
	r := New(false)

	a, err := r.Render(context.Background(), doc, 1, DefaultScale)
	require.NoError(t, err)
	b, err := r.Render(context.Background(), doc, 1, DefaultScale)
	require.NoError(t, err)

	assert.Equal(t, a.Image.Bounds(), b.Image.Bounds())
}

func TestRender_Errors(t *testing.T) {
	doc := pdftest.FlatPDF(t, 2, nil)
	r := New(false)

	_, err := r.Render(context.Background(), doc, 1, 0.5)
	assert.True(t, errors.Is(err, ErrInvalidScale))

	_, err = r.Render(context.Background(), doc, 3, DefaultScale)
	assert.Error(t, err)

	_, err = r.Render(context.Background(), pdftest.NotAPDF(), 1, DefaultScale)
	assert.True(t, errors.Is(err, formerrors.ErrMalformedDocument))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Render(ctx, doc, 1, DefaultScale)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRenderAll(t *testing.T) {
	doc := pdftest.FlatPDF(t, 3, func(pdf *fpdf.Fpdf, page int) {
		pdf.Text(40, 40, "Strona")
	})

	pages, err := New(false).RenderAll(context.Background(), doc, 1.5)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, i+1, p.Number)
		assert.Equal(t, 1.5, p.Scale)
	}
}

func TestFitTo(t *testing.T) {
	size := geometry.PageSize{Width: 100, Height: 50}

	exact := image.NewRGBA(image.Rect(0, 0, 200, 100))
	assert.Same(t, exact, fitTo(exact, size, 2).(*image.RGBA))

	larger := image.NewRGBA(image.Rect(0, 0, 201, 101))
	assert.Equal(t, image.Rect(0, 0, 200, 100), fitTo(larger, size, 2).Bounds())

	smaller := image.NewRGBA(image.Rect(0, 0, 199, 99))
	assert.Equal(t, image.Rect(0, 0, 200, 100), fitTo(smaller, size, 2).Bounds())
}
