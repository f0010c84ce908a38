package pdf

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
)

// DefaultMaxInputSize is the largest PDF accepted for inspection, detection
// or filling.
const DefaultMaxInputSize = 10 * 1024 * 1024

var pdfHeader = []byte("%PDF-")

// Validator handles PDF input validation
type Validator struct {
	maxFileSize int64
}

// NewValidator creates a new PDF validator with the specified size limit.
// A non-positive limit falls back to DefaultMaxInputSize.
func NewValidator(maxFileSize int64) *Validator {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxInputSize
	}
	return &Validator{
		maxFileSize: maxFileSize,
	}
}

// MaxFileSize returns the configured size limit in bytes
func (v *Validator) MaxFileSize() int64 {
	return v.maxFileSize
}

// ValidateBytes checks that pdfBytes are within the size limit, start with a
// PDF header and can be opened by a second, independent parser.
func (v *Validator) ValidateBytes(pdfBytes []byte) error {
	if len(pdfBytes) == 0 {
		return formerrors.MalformedDocument("document is empty", nil)
	}

	if int64(len(pdfBytes)) > v.maxFileSize {
		return formerrors.FileTooLarge(int64(len(pdfBytes)), v.maxFileSize)
	}

	// Some producers emit a few bytes of junk before the header; readers
	// accept it within the first kilobyte.
	head := pdfBytes
	if len(head) > 1024 {
		head = head[:1024]
	}
	if !bytes.Contains(head, pdfHeader) {
		return formerrors.MalformedDocument("missing %PDF- header", nil)
	}

	r, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return formerrors.MalformedDocument("invalid PDF file", err)
	}
	if r.NumPage() == 0 {
		return formerrors.MalformedDocument("document has no pages", nil)
	}

	return nil
}

// ReadFile loads and validates a PDF from disk
func (v *Validator) ReadFile(filePath string) ([]byte, error) {
	if filePath == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}

	fileInfo, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("file does not exist: %s", filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot access file: %w", err)
	}

	if fileInfo.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", filePath)
	}

	if !strings.HasSuffix(strings.ToLower(filePath), ".pdf") {
		return nil, fmt.Errorf("file is not a PDF: %s", filePath)
	}

	// Check the size before reading so oversized inputs never hit memory.
	if fileInfo.Size() > v.maxFileSize {
		return nil, formerrors.FileTooLarge(fileInfo.Size(), v.maxFileSize)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("cannot read file: %w", err)
	}

	if err := v.ValidateBytes(data); err != nil {
		return nil, err
	}
	return data, nil
}
