package pdf

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/pdftest"
)

func TestValidator_ValidateBytes(t *testing.T) {
	validator := NewValidator(0)
	assert.Equal(t, int64(DefaultMaxInputSize), validator.MaxFileSize())

	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{name: "valid flat pdf", input: pdftest.FlatPDF(t, 1, nil)},
		{name: "valid acroform pdf", input: pdftest.AcroFormPDF()},
		{name: "empty", input: nil, wantErr: formerrors.ErrMalformedDocument},
		{name: "no header", input: pdftest.NotAPDF(), wantErr: formerrors.ErrMalformedDocument},
		{
			name:    "header but garbage",
			input:   []byte("%PDF-1.4\nnothing else here"),
			wantErr: formerrors.ErrMalformedDocument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateBytes(tt.input)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidator_FileTooLarge(t *testing.T) {
	validator := NewValidator(DefaultMaxInputSize)

	oversized := append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte("x"), DefaultMaxInputSize)...)
	err := validator.ValidateBytes(oversized)

	require.Error(t, err)
	assert.True(t, errors.Is(err, formerrors.ErrFileTooLarge))
}

func TestValidator_ReadFile(t *testing.T) {
	validator := NewValidator(1024 * 1024)
	dir := t.TempDir()

	good := filepath.Join(dir, "form.pdf")
	require.NoError(t, os.WriteFile(good, pdftest.FlatPDF(t, 1, nil), 0o600))

	notPDF := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notPDF, []byte("hello"), 0o600))

	broken := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(broken, pdftest.NotAPDF(), 0o600))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "empty path", path: "", wantErr: true},
		{name: "non-existent file", path: "/non/existent/file.pdf", wantErr: true},
		{name: "directory", path: dir, wantErr: true},
		{name: "wrong extension", path: notPDF, wantErr: true},
		{name: "not a pdf", path: broken, wantErr: true},
		{name: "valid file", path: good},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := validator.ReadFile(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, data)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, data)
		})
	}
}
