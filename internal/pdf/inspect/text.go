package inspect

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
)

// PageText returns the plain text layer of every page. Text drawn inside
// imported form XObjects is not included; text drawn directly on the page is.
func PageText(pdfBytes []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = formerrors.MalformedDocument("panic while reading text layer", fmt.Errorf("%v", r))
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return nil, formerrors.MalformedDocument("cannot open text layer", err)
	}

	pages = make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}
