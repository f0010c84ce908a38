package fill

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"sort"

	"codeberg.org/go-pdf/fpdf"
	"codeberg.org/go-pdf/fpdf/contrib/gofpdi"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/a3tai/mcp-pdf-forms/internal/locale"
	"github.com/a3tai/mcp-pdf-forms/internal/mapping"
	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/geometry"
)

// Text drawing defaults
const (
	DefaultFontSize = 10.0
	fontFamily      = "goregular"
	// baselinePadding lifts the text baseline above the bottom of the box
	baselinePadding = 3.0
	checkMark       = "X"
)

// placement is one string drawn on a page
type placement struct {
	Field string
	Page  int
	X     float64 // PDF points, origin bottom-left
	Y     float64 // baseline, origin bottom-left
	Text  string
}

// coordinateWriter re-imports every template page and draws values on top
type coordinateWriter struct {
	locale    *locale.Locale
	fontSize  float64
	debugMode bool
}

// placements computes what to draw for each value. Dates are shown in the
// locale layout; false booleans draw nothing and true ones draw a mark.
func (w *coordinateWriter) placements(fields map[string]mapping.FieldSpec, values *SanitizedFormData) ([]placement, error) {
	var out []placement
	for _, name := range values.Keys() {
		spec := fields[name]
		v, _ := values.Get(name)

		text := v
		switch spec.Type.Normalize() {
		case mapping.TypeDate:
			formatted, err := w.locale.FormatDate(v)
			if err != nil {
				return nil, formerrors.FieldValidation(name, RuleDate, err.Error())
			}
			text = formatted
		case mapping.TypeBoolean:
			if v != "true" {
				continue
			}
			text = checkMark
		}

		y := spec.Y
		if spec.Height > 0 {
			y += min(baselinePadding, spec.Height/2)
		}
		out = append(out, placement{Field: name, Page: spec.Page, X: spec.X + 1, Y: y, Text: text})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].Field < out[j].Field
	})
	return out, nil
}

// write imports each page of template as a background and draws the
// placements over it. Importer panics on unreadable input are reported as
// MalformedDocument.
func (w *coordinateWriter) write(template []byte, sizes []geometry.PageSize, placed []placement) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = formerrors.MalformedDocument("cannot import template pages", fmt.Errorf("%v", r))
		}
	}()

	doc := fpdf.New("P", "pt", "A4", "")
	doc.SetAutoPageBreak(false, 0)
	doc.SetMargins(0, 0, 0)
	doc.AddUTF8FontFromBytes(fontFamily, "", goregular.TTF)

	importer := gofpdi.NewImporter()
	rs := io.ReadSeeker(bytes.NewReader(template))

	byPage := make(map[int][]placement)
	for _, p := range placed {
		byPage[p.Page] = append(byPage[p.Page], p)
	}

	for i, size := range sizes {
		pageNr := i + 1
		doc.AddPageFormat("P", fpdf.SizeType{Wd: size.Width, Ht: size.Height})

		tpl := importer.ImportPageFromStream(doc, &rs, pageNr, "/MediaBox")
		importer.UseImportedTemplate(doc, tpl, 0, 0, size.Width, size.Height)

		doc.SetFont(fontFamily, "", w.fontSize)
		doc.SetTextColor(0, 0, 0)
		for _, p := range byPage[pageNr] {
			// fpdf measures y from the top of the page.
			doc.Text(p.X, size.Height-p.Y, p.Text)
			if w.debugMode {
				log.Printf("fill: page %d field %s at (%.1f, %.1f)", pageNr, p.Field, p.X, p.Y)
			}
		}
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize filled document: %w", err)
	}
	return buf.Bytes(), nil
}
