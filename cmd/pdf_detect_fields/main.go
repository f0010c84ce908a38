package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/a3tai/mcp-pdf-forms/internal/config"
	"github.com/a3tai/mcp-pdf-forms/internal/formdata"
	"github.com/a3tai/mcp-pdf-forms/internal/locale"
	"github.com/a3tai/mcp-pdf-forms/internal/mapping"
	"github.com/a3tai/mcp-pdf-forms/internal/ocr"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/fill"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/inspect"
	"github.com/a3tai/mcp-pdf-forms/internal/storage"
)

// options are the parsed command line flags
type options struct {
	formType    string
	year        string
	format      string
	save        bool
	verify      bool
	mappingsDir string
	localeFile  string
	ocrEngine   string
	ocrLanguage string
	scale       float64
	maxFileSize int64
	verbose     bool
}

// DetectionOutput is the json output of a detection run
type DetectionOutput struct {
	FilePath      string                `json:"file_path"`
	Interactive   bool                  `json:"interactive"`
	PageCount     int                   `json:"page_count"`
	FieldCount    int                   `json:"field_count"`
	LowConfidence int                   `json:"low_confidence"`
	Mapping       *mapping.FieldMapping `json:"mapping"`
	Warnings      []string              `json:"warnings,omitempty"`
	SavedVersion  int                   `json:"saved_version,omitempty"`
	Verify        *VerifyOutput         `json:"verify,omitempty"`
	ElapsedTime   string                `json:"elapsed_time"`
}

// VerifyOutput reports a sample fill of the saved mapping
type VerifyOutput struct {
	Written []string `json:"written"`
	Found   []string `json:"found"`
	Missing []string `json:"missing"`
	Skipped string   `json:"skipped,omitempty"`
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	defaults := config.DefaultConfig()
	opts := &options{}

	fs := pflag.NewFlagSet("pdf_detect_fields", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.formType, "type", "", "Form type of the document, e.g. PIT-11")
	fs.StringVar(&opts.year, "year", "", "Four digit form year")
	fs.StringVar(&opts.format, "format", "text", "Output format: text, json")
	fs.BoolVar(&opts.save, "save", false, "Merge the detected mapping into the stored one")
	fs.BoolVar(&opts.verify, "verify", false, "Fill the saved mapping with sample values and check the text layer")
	fs.StringVar(&opts.mappingsDir, "mappings-dir", defaults.MappingsDir, "Directory holding stored mappings")
	fs.StringVar(&opts.localeFile, "locale-file", "", "YAML vocabulary replacing the embedded Polish one")
	fs.StringVar(&opts.ocrEngine, "ocr-engine", defaults.OCREngine, "OCR engine: tesseract, azure, none")
	fs.StringVar(&opts.ocrLanguage, "ocr-language", defaults.OCRLanguage, "OCR language")
	fs.Float64Var(&opts.scale, "scale", defaults.Scale, "Render scale for OCR")
	fs.Int64Var(&opts.maxFileSize, "max-file-size", defaults.MaxFileSize, "Maximum PDF size in bytes")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "Print every detected field")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "pdf_detect_fields - discover the fields of a PDF form and build a mapping")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "USAGE:")
		fmt.Fprintln(stderr, "  pdf_detect_fields [OPTIONS] <pdf_file>")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "OPTIONS:")
		fs.PrintDefaults()
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "EXAMPLES:")
		fmt.Fprintln(stderr, "  pdf_detect_fields upl-1.pdf")
		fmt.Fprintln(stderr, "  pdf_detect_fields --type PIT-11 --year 2024 --save scans/pit-11.pdf")
		fmt.Fprintln(stderr, "  pdf_detect_fields --format json --ocr-engine azure scan.pdf")
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	switch opts.format {
	case "text", "json":
	default:
		return nil, nil, fmt.Errorf("unknown format %q", opts.format)
	}
	if opts.save && (opts.formType == "" || opts.year == "") {
		return nil, nil, errors.New("--save needs --type and --year")
	}
	if opts.verify && !opts.save {
		return nil, nil, errors.New("--verify needs --save")
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, nil, errors.New("exactly one PDF file path is required")
	}
	return opts, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, rest, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	out, err := detect(ctx, opts, rest[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if opts.format == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
	printText(stdout, out, opts.verbose)
	return 0
}

func detect(ctx context.Context, opts *options, path string) (*DetectionOutput, error) {
	start := time.Now()

	pdfBytes, err := pdf.NewValidator(opts.maxFileSize).ReadFile(path)
	if err != nil {
		return nil, err
	}

	loc, err := locale.LoadFile(opts.localeFile)
	if err != nil {
		return nil, err
	}
	mappingStore, err := storage.NewFileStore(opts.mappingsDir)
	if err != nil {
		return nil, err
	}
	registry := fill.DefaultRegistry()

	service, err := pdf.NewService(pdf.Options{
		MaxFileSize: opts.maxFileSize,
		Locale:      loc,
		OCR:         ocr.Config{Engine: opts.ocrEngine, Language: opts.ocrLanguage},
		Scale:       opts.scale,
		Debug:       opts.verbose,
	}, registry, mappingStore, mapping.NewRepository(mappingStore, opts.verbose), nil)
	if err != nil {
		return nil, err
	}

	result, err := service.Detect(ctx, pdf.FormDetectRequest{
		PDF:      pdfBytes,
		FormType: opts.formType,
		Year:     opts.year,
		Save:     opts.save,
	})
	if err != nil {
		return nil, err
	}

	out := &DetectionOutput{
		FilePath:      path,
		Interactive:   result.Interactive,
		PageCount:     result.PageCount,
		FieldCount:    len(result.Mapping.Fields),
		LowConfidence: result.LowConfidence,
		Mapping:       result.Mapping,
	}
	if result.Diagnostics != nil {
		for _, d := range append(result.Diagnostics.Errors, result.Diagnostics.Warnings...) {
			out.Warnings = append(out.Warnings, d.Error())
		}
	}
	if result.Saved != nil {
		out.SavedVersion = result.Saved.Version
	}

	if opts.verify {
		out.Verify, err = verify(ctx, service, pdfBytes, result.Saved)
		if err != nil {
			return nil, fmt.Errorf("verify failed: %w", err)
		}
	}

	out.ElapsedTime = time.Since(start).Round(time.Millisecond).String()
	return out, nil
}

// sampleValue returns a value every sanitizer rule accepts for t
func sampleValue(name string, t mapping.FieldType) string {
	switch t.Normalize() {
	case mapping.TypeNumber:
		return "1234"
	case mapping.TypeDate:
		return "2024-01-15"
	case mapping.TypeBoolean:
		return "true"
	default:
		return name
	}
}

// verify fills m with sample values and reports which text values show up
// in the text layer of the result
func verify(ctx context.Context, service *pdf.Service, pdfBytes []byte, m *mapping.FieldMapping) (*VerifyOutput, error) {
	if m.IsInteractive() {
		return &VerifyOutput{Skipped: "interactive fields carry no text layer"}, nil
	}

	data := formdata.New()
	expected := make(map[string]string)
	for _, name := range m.Names() {
		spec := m.Fields[name]
		v := sampleValue(name, spec.Type)
		data.Set(name, v)
		if spec.Type.Normalize() == mapping.TypeText && spec.MaxLength == 0 {
			expected[name] = v
		}
	}

	result, err := service.FillWithMapping(ctx, pdf.FormFillMappingRequest{
		PDF: pdfBytes, FormType: m.FormType, Year: m.Year, Data: data,
	})
	if err != nil {
		return nil, err
	}

	pages, err := inspect.PageText(result.PDF)
	if err != nil {
		return nil, err
	}
	text := strings.Join(pages, "\n")

	v := &VerifyOutput{Written: result.Report.Written}
	for _, name := range m.Names() {
		value, ok := expected[name]
		if !ok {
			continue
		}
		if strings.Contains(text, value) {
			v.Found = append(v.Found, name)
		} else {
			v.Missing = append(v.Missing, name)
		}
	}
	return v, nil
}

func printText(w io.Writer, out *DetectionOutput, verbose bool) {
	fmt.Fprintf(w, "File: %s\n", out.FilePath)
	if out.Interactive {
		fmt.Fprintln(w, "Source: AcroForm fields")
	} else {
		fmt.Fprintln(w, "Source: OCR detection")
	}
	fmt.Fprintf(w, "Pages: %d\n", out.PageCount)
	fmt.Fprintf(w, "Fields: %d\n", out.FieldCount)
	if out.LowConfidence > 0 {
		fmt.Fprintf(w, "Low confidence: %d\n", out.LowConfidence)
	}

	for i, name := range out.Mapping.Names() {
		spec := out.Mapping.Fields[name]
		line := fmt.Sprintf("%d. %s [%s] page %d", i+1, name, spec.Type.Normalize(), spec.Page)
		if verbose {
			line += fmt.Sprintf(" at (%.1f, %.1f) %.1fx%.1f", spec.X, spec.Y, spec.Width, spec.Height)
			if spec.Label != "" {
				line += fmt.Sprintf(" label %q", spec.Label)
			}
		}
		if spec.LowConfidence {
			line += " (low confidence)"
		}
		fmt.Fprintln(w, line)
	}

	for _, warning := range out.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
	if out.SavedVersion > 0 {
		fmt.Fprintf(w, "Saved mapping %s/%s version %d\n", out.Mapping.FormType, out.Mapping.Year, out.SavedVersion)
	}
	if out.Verify != nil {
		if out.Verify.Skipped != "" {
			fmt.Fprintf(w, "Verify: skipped, %s\n", out.Verify.Skipped)
		} else {
			fmt.Fprintf(w, "Verify: %d written, %d found, %d missing\n",
				len(out.Verify.Written), len(out.Verify.Found), len(out.Verify.Missing))
			for _, name := range out.Verify.Missing {
				fmt.Fprintf(w, "  missing: %s\n", name)
			}
		}
	}
	fmt.Fprintf(w, "Elapsed: %s\n", out.ElapsedTime)
}
