// Package pdftest builds small PDF fixtures for package tests: flat pages
// drawn with fpdf and a hand-assembled AcroForm document.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"codeberg.org/go-pdf/fpdf"
)

// A4 size in points
const (
	A4Width  = 595.28
	A4Height = 841.89
)

// FlatPDF renders a document with the given number of A4 pages. draw, when
// non-nil, is called once per page with fpdf set to point units and a
// Helvetica font.
func FlatPDF(t testing.TB, pages int, draw func(pdf *fpdf.Fpdf, page int)) []byte {
	t.Helper()

	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetCompression(false)
	for i := 1; i <= pages; i++ {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "", 12)
		if draw != nil {
			draw(pdf, i)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		t.Fatalf("failed to render fixture PDF: %v", err)
	}
	return buf.Bytes()
}

// LabelledFormPDF is a one-page flat form with printed labels and ruled
// answer boxes, similar to a scanned tax form.
func LabelledFormPDF(t testing.TB) []byte {
	t.Helper()
	return FlatPDF(t, 1, func(pdf *fpdf.Fpdf, _ int) {
		pdf.SetLineWidth(1)
		pdf.Text(50, 100, "Nazwisko:")
		pdf.Rect(150, 86, 200, 20, "D")
		pdf.Text(50, 150, "PESEL:")
		pdf.Rect(150, 136, 200, 20, "D")
		pdf.Text(50, 200, "Data:")
		pdf.Line(150, 206, 350, 206)
	})
}

// AcroFormPDF returns a one-page A4 document with one field of every kind:
// text "principalName" (required, MaxLen 40), checkbox "agree", radio group
// "gender" (states M and K), dropdown "office", push button "reset" and
// signature "signature".
func AcroFormPDF() []byte {
	b := newBuilder()
	b.add(1, "<< /Type /Catalog /Pages 2 0 R /AcroForm 4 0 R >>")
	b.add(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.add(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Contents 5 0 R "+
		"/Resources << /Font << /F1 6 0 R >> >> "+
		"/Annots [7 0 R 8 0 R 10 0 R 11 0 R 12 0 R 13 0 R 14 0 R] >>")
	b.add(4, "<< /Fields [7 0 R 8 0 R 9 0 R 12 0 R 13 0 R 14 0 R] /DA (/Helv 0 Tf 0 g) "+
		"/DR << /Font << /Helv 6 0 R >> >> >>")
	b.stream(5, "", "BT /F1 12 Tf 50 800 Td (Pelnomocnictwo) Tj ET")
	b.add(6, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	b.add(7, "<< /Type /Annot /Subtype /Widget /FT /Tx /T (principalName) /Ff 2 /MaxLen 40 "+
		"/Rect [100 700 300 720] /P 3 0 R /DA (/Helv 10 Tf 0 g) >>")
	b.add(8, "<< /Type /Annot /Subtype /Widget /FT /Btn /T (agree) /V /Off /AS /Off "+
		"/Rect [100 650 115 665] /P 3 0 R /AP << /N << /Yes 15 0 R /Off 16 0 R >> >> >>")
	b.add(9, "<< /FT /Btn /Ff 49152 /T (gender) /V /Off /Kids [10 0 R 11 0 R] >>")
	b.add(10, "<< /Type /Annot /Subtype /Widget /Parent 9 0 R /AS /Off "+
		"/Rect [100 600 115 615] /P 3 0 R /AP << /N << /M 15 0 R /Off 16 0 R >> >> >>")
	b.add(11, "<< /Type /Annot /Subtype /Widget /Parent 9 0 R /AS /Off "+
		"/Rect [150 600 165 615] /P 3 0 R /AP << /N << /K 15 0 R /Off 16 0 R >> >> >>")
	b.add(12, "<< /Type /Annot /Subtype /Widget /FT /Ch /Ff 131072 /T (office) "+
		"/Opt [(Warszawa) (Krakow)] /Rect [100 550 300 570] /P 3 0 R /DA (/Helv 10 Tf 0 g) >>")
	b.add(13, "<< /Type /Annot /Subtype /Widget /FT /Btn /Ff 65536 /T (reset) "+
		"/Rect [100 500 160 520] /P 3 0 R >>")
	b.add(14, "<< /Type /Annot /Subtype /Widget /FT /Sig /T (signature) "+
		"/Rect [300 100 500 150] /P 3 0 R >>")
	b.stream(15, "/Type /XObject /Subtype /Form /BBox [0 0 15 15]", "0 0 15 15 re f")
	b.stream(16, "/Type /XObject /Subtype /Form /BBox [0 0 15 15]", "")
	return b.finish(1)
}

// ReadOnlyAcroFormPDF is AcroFormPDF with "principalName" also flagged
// read-only. The flag edit keeps every byte offset intact.
func ReadOnlyAcroFormPDF() []byte {
	return bytes.Replace(AcroFormPDF(), []byte("(principalName) /Ff 2 "), []byte("(principalName) /Ff 3 "), 1)
}

// NotAPDF is a byte slice that no PDF parser accepts
func NotAPDF() []byte {
	return []byte("this is definitely not a PDF document")
}

type builder struct {
	buf     bytes.Buffer
	offsets map[int]int
	max     int
}

func newBuilder() *builder {
	b := &builder{offsets: make(map[int]int)}
	b.buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	return b
}

func (b *builder) add(num int, body string) {
	b.offsets[num] = b.buf.Len()
	if num > b.max {
		b.max = num
	}
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
}

func (b *builder) stream(num int, dictEntries, content string) {
	entries := strings.TrimSpace(dictEntries + fmt.Sprintf(" /Length %d", len(content)))
	b.add(num, fmt.Sprintf("<< %s >>\nstream\n%s\nendstream", entries, content))
}

func (b *builder) finish(root int) []byte {
	xref := b.buf.Len()
	fmt.Fprintf(&b.buf, "xref\n0 %d\n", b.max+1)
	b.buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= b.max; i++ {
		fmt.Fprintf(&b.buf, "%010d 00000 n \n", b.offsets[i])
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", b.max+1, root, xref)
	return b.buf.Bytes()
}
