package pdf

import (
	"github.com/a3tai/mcp-pdf-forms/internal/formdata"
	"github.com/a3tai/mcp-pdf-forms/internal/mapping"
	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/fill"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/inspect"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/match"
)

// Request Types

// FormDetectRequest asks for field discovery on a document
type FormDetectRequest struct {
	PDF      []byte `json:"-"`
	FormType string `json:"form_type"`
	Year     string `json:"year"`
	// Save merges the detected mapping into the stored one for
	// FormType/Year.
	Save bool `json:"save"`
}

// FormFillRequest fills a registered template
type FormFillRequest struct {
	FormType string         `json:"form_type"`
	Year     string         `json:"year"`
	Data     *formdata.Data `json:"data"`
}

// FormFillUniversalRequest fills an arbitrary document. When FormType and
// Year are set the stored mapping for them is used for flat documents.
type FormFillUniversalRequest struct {
	PDF      []byte         `json:"-"`
	FormType string         `json:"form_type,omitempty"`
	Year     string         `json:"year,omitempty"`
	Data     *formdata.Data `json:"data"`
}

// FormFillMappingRequest fills a document with the stored mapping for
// FormType/Year. Data keys must equal mapping field names.
type FormFillMappingRequest struct {
	PDF      []byte         `json:"-"`
	FormType string         `json:"form_type"`
	Year     string         `json:"year"`
	Data     *formdata.Data `json:"data"`
}

// Response Types

// FormInspectResult describes the structure of a document
type FormInspectResult struct {
	PageCount   int                        `json:"page_count"`
	Interactive bool                       `json:"interactive"`
	Fields      []inspect.InteractiveField `json:"fields"`
	Inspection  *inspect.Inspection        `json:"-"`
}

// FormDetectResult is the outcome of field discovery. Per-page failures
// are collected in Diagnostics; Mapping holds whatever the other pages
// produced.
type FormDetectResult struct {
	Mapping       *mapping.FieldMapping       `json:"mapping"`
	Fields        []match.DetectedField       `json:"fields,omitempty"`
	Interactive   bool                        `json:"interactive"`
	PageCount     int                         `json:"page_count"`
	LowConfidence int                         `json:"low_confidence"`
	Diagnostics   *formerrors.ErrorCollection `json:"diagnostics"`
	Saved         *mapping.FieldMapping       `json:"saved,omitempty"`
}

// FormFillResult is a filled document and its report
type FormFillResult struct {
	PDF    []byte       `json:"-"`
	Report *fill.Report `json:"report"`
}

// TemplateInfo summarizes a registered template
type TemplateInfo struct {
	ID        string   `json:"id"`
	FormType  string   `json:"form_type"`
	Year      string   `json:"year"`
	Title     string   `json:"title"`
	Kind      string   `json:"kind"`
	PageCount int      `json:"page_count"`
	Fields    []string `json:"fields"`
	Required  []string `json:"required"`
}

// FormTemplatesResult lists the registered templates
type FormTemplatesResult struct {
	Templates []TemplateInfo `json:"templates"`
}

// MappingVersionsResult lists stored versions of one mapping
type MappingVersionsResult struct {
	FormType string `json:"form_type"`
	Year     string `json:"year"`
	Versions []int  `json:"versions"`
}
