package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/a3tai/mcp-pdf-forms/internal/config"
	"github.com/a3tai/mcp-pdf-forms/internal/descriptions"
	"github.com/a3tai/mcp-pdf-forms/internal/formdata"
	"github.com/a3tai/mcp-pdf-forms/internal/httpapi"
	"github.com/a3tai/mcp-pdf-forms/internal/mapping"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf"
	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/fill"
	"github.com/a3tai/mcp-pdf-forms/internal/storage"
)

// Server represents the MCP server instance
type Server struct {
	config     *config.Config
	pdfService *pdf.Service
	output     storage.BlobStore
	mcpServer  *server.MCPServer
}

// NewServer creates a new MCP server instance. Filled PDFs are written to
// output.
func NewServer(cfg *config.Config, pdfService *pdf.Service, output storage.BlobStore) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if pdfService == nil {
		return nil, fmt.Errorf("pdfService cannot be nil")
	}
	if output == nil {
		return nil, fmt.Errorf("output store cannot be nil")
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		config:     cfg,
		pdfService: pdfService,
		output:     output,
		mcpServer:  mcpServer,
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	pathParam := mcp.WithString("path",
		mcp.Required(),
		mcp.Description("PDF path relative to the document directory"),
	)
	dataParam := mcp.WithString("data",
		mcp.Required(),
		mcp.Description(`Form data as a JSON object, e.g. {"surname": "Nowak", "married": true}`),
	)
	outputParam := mcp.WithString("output",
		mcp.Description("Output path relative to the output directory (defaults to <name>-filled.pdf)"),
	)

	s.mcpServer.AddTool(mcp.NewTool("form_inspect",
		mcp.WithDescription(descriptions.FormInspectDescription),
		pathParam,
	), s.handleFormInspect)

	s.mcpServer.AddTool(mcp.NewTool("form_detect",
		mcp.WithDescription(descriptions.FormDetectDescription),
		pathParam,
		mcp.WithString("form_type", mcp.Description("Form type such as PIT-11 (required when saving)")),
		mcp.WithString("year", mcp.Description("Four-digit form year (required when saving)")),
		mcp.WithBoolean("save", mcp.Description("Merge the detected mapping into the stored one")),
	), s.handleFormDetect)

	s.mcpServer.AddTool(mcp.NewTool("form_fill",
		mcp.WithDescription(descriptions.FormFillDescription),
		mcp.WithString("form_type", mcp.Required(), mcp.Description("Registered form type, e.g. UPL-1")),
		mcp.WithString("year", mcp.Required(), mcp.Description("Four-digit template year")),
		dataParam,
		outputParam,
	), s.handleFormFill)

	s.mcpServer.AddTool(mcp.NewTool("form_fill_universal",
		mcp.WithDescription(descriptions.FormFillUniversalDescription),
		pathParam,
		dataParam,
		mcp.WithString("form_type", mcp.Description("Form type of the stored mapping for flat documents")),
		mcp.WithString("year", mcp.Description("Year of the stored mapping for flat documents")),
		outputParam,
	), s.handleFormFillUniversal)

	s.mcpServer.AddTool(mcp.NewTool("form_fill_mapping",
		mcp.WithDescription(descriptions.FormFillMappingDescription),
		pathParam,
		mcp.WithString("form_type", mcp.Required(), mcp.Description("Form type of the stored mapping")),
		mcp.WithString("year", mcp.Required(), mcp.Description("Year of the stored mapping")),
		dataParam,
		outputParam,
	), s.handleFormFillMapping)

	s.mcpServer.AddTool(mcp.NewTool("form_templates",
		mcp.WithDescription(descriptions.FormTemplatesDescription),
	), s.handleFormTemplates)

	s.mcpServer.AddTool(mcp.NewTool("mapping_get",
		mcp.WithDescription(descriptions.MappingGetDescription),
		mcp.WithString("form_type", mcp.Required(), mcp.Description("Form type")),
		mcp.WithString("year", mcp.Required(), mcp.Description("Four-digit year")),
		mcp.WithNumber("version", mcp.Description("Archived version to return (defaults to the current one)")),
	), s.handleMappingGet)

	s.mcpServer.AddTool(mcp.NewTool("mapping_versions",
		mcp.WithDescription(descriptions.MappingVersionsDescription),
		mcp.WithString("form_type", mcp.Required(), mcp.Description("Form type")),
		mcp.WithString("year", mcp.Required(), mcp.Description("Four-digit year")),
	), s.handleMappingVersions)

	s.mcpServer.AddTool(mcp.NewTool("mapping_list",
		mcp.WithDescription(descriptions.MappingListDescription),
	), s.handleMappingList)

	s.mcpServer.AddTool(mcp.NewTool("form_server_info",
		mcp.WithDescription(descriptions.FormServerInfoDescription),
	), s.handleFormServerInfo)
}

// Handler functions
func (s *Server) handleFormInspect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docPath, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	pdfBytes, err := s.loadDocument(ctx, docPath)
	if err != nil {
		return s.toolError(err), nil
	}

	result, err := s.pdfService.Inspect(ctx, pdfBytes)
	if err != nil {
		return s.toolError(err), nil
	}

	return mcp.NewToolResultText(formatInspectResult(docPath, result)), nil
}

func (s *Server) handleFormDetect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docPath, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.GetArguments()

	pdfBytes, err := s.loadDocument(ctx, docPath)
	if err != nil {
		return s.toolError(err), nil
	}

	result, err := s.pdfService.Detect(ctx, pdf.FormDetectRequest{
		PDF:      pdfBytes,
		FormType: stringArg(args, "form_type"),
		Year:     stringArg(args, "year"),
		Save:     boolArg(args, "save"),
	})
	if err != nil {
		return s.toolError(err), nil
	}

	text, err := formatDetectResult(docPath, result)
	if err != nil {
		return s.toolError(err), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleFormFill(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	formType, err := request.RequireString("form_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	year, err := request.RequireString("year")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.GetArguments()

	data, err := dataArg(args)
	if err != nil {
		return s.toolError(err), nil
	}

	result, err := s.pdfService.Fill(ctx, pdf.FormFillRequest{FormType: formType, Year: year, Data: data})
	if err != nil {
		return s.toolError(err), nil
	}

	return s.writeFilled(ctx, args, fmt.Sprintf("%s-%s-filled.pdf", formType, year), result)
}

func (s *Server) handleFormFillUniversal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docPath, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.GetArguments()

	data, err := dataArg(args)
	if err != nil {
		return s.toolError(err), nil
	}
	pdfBytes, err := s.loadDocument(ctx, docPath)
	if err != nil {
		return s.toolError(err), nil
	}

	result, err := s.pdfService.FillUniversal(ctx, pdf.FormFillUniversalRequest{
		PDF:      pdfBytes,
		FormType: stringArg(args, "form_type"),
		Year:     stringArg(args, "year"),
		Data:     data,
	})
	if err != nil {
		return s.toolError(err), nil
	}

	return s.writeFilled(ctx, args, filledName(docPath), result)
}

func (s *Server) handleFormFillMapping(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docPath, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	formType, err := request.RequireString("form_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	year, err := request.RequireString("year")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.GetArguments()

	data, err := dataArg(args)
	if err != nil {
		return s.toolError(err), nil
	}
	pdfBytes, err := s.loadDocument(ctx, docPath)
	if err != nil {
		return s.toolError(err), nil
	}

	result, err := s.pdfService.FillWithMapping(ctx, pdf.FormFillMappingRequest{
		PDF:      pdfBytes,
		FormType: formType,
		Year:     year,
		Data:     data,
	})
	if err != nil {
		return s.toolError(err), nil
	}

	return s.writeFilled(ctx, args, filledName(docPath), result)
}

func (s *Server) handleFormTemplates(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatTemplatesResult(s.pdfService.Templates())), nil
}

func (s *Server) handleMappingGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	formType, err := request.RequireString("form_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	year, err := request.RequireString("year")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var m *mapping.FieldMapping
	if version, ok := intArg(request.GetArguments(), "version"); ok {
		m, err = s.pdfService.MappingVersion(ctx, formType, year, version)
	} else {
		m, err = s.pdfService.Mapping(ctx, formType, year)
	}
	if errors.Is(err, mapping.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("no stored mapping for %s/%s", formType, year)), nil
	}
	if err != nil {
		return s.toolError(err), nil
	}

	data, err := mapping.Marshal(m)
	if err != nil {
		return s.toolError(err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleMappingVersions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	formType, err := request.RequireString("form_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	year, err := request.RequireString("year")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.pdfService.MappingVersions(ctx, formType, year)
	if err != nil {
		return s.toolError(err), nil
	}

	if len(result.Versions) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No stored versions for %s/%s", formType, year)), nil
	}
	parts := make([]string, len(result.Versions))
	for i, v := range result.Versions {
		parts[i] = fmt.Sprintf("v%d", v)
	}
	text := fmt.Sprintf("Mapping %s/%s has %d version(s): %s\n", formType, year, len(parts), strings.Join(parts, ", "))
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleMappingList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mappings, err := s.pdfService.Mappings(ctx)
	if err != nil {
		return s.toolError(err), nil
	}

	if len(mappings) == 0 {
		return mcp.NewToolResultText("No stored mappings"), nil
	}
	text := fmt.Sprintf("Found %d stored mapping(s):\n", len(mappings))
	for i, m := range mappings {
		text += fmt.Sprintf("%d. %s\n", i+1, m)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleFormServerInfo(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.pdfService.ServerInfo(ctx, s.config.ServerName, s.config.Version,
		s.config.DocumentsDir, s.config.OutputDir)
	if err != nil {
		return s.toolError(err), nil
	}

	return mcp.NewToolResultText(formatServerInfoResult(result)), nil
}

// loadDocument reads a caller PDF from the document store
func (s *Server) loadDocument(ctx context.Context, docPath string) ([]byte, error) {
	pdfBytes, err := s.pdfService.LoadDocument(ctx, docPath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, formerrors.Wrap(formerrors.ErrorTypeMalformedDocument,
			fmt.Sprintf("document not found: %s", docPath), err)
	}
	return pdfBytes, err
}

// writeFilled stores the filled PDF under the requested or default output
// key and reports what was written
func (s *Server) writeFilled(ctx context.Context, args map[string]any, defaultKey string,
	result *pdf.FormFillResult,
) (*mcp.CallToolResult, error) {
	key := stringArg(args, "output")
	if key == "" {
		key = defaultKey
	}
	if err := storage.ValidateKey(key); err != nil {
		return s.toolError(formerrors.UnsafeInput(fmt.Sprintf("invalid output path %q", key))), nil
	}
	if !strings.EqualFold(path.Ext(key), ".pdf") {
		return s.toolError(formerrors.UnsafeInput("output path must end in .pdf")), nil
	}

	if err := s.output.SaveBytes(ctx, key, result.PDF); err != nil {
		return s.toolError(fmt.Errorf("failed to write %s: %w", key, err)), nil
	}

	if s.config.IsDebug() {
		log.Printf("Wrote filled PDF %s (%d bytes)", key, len(result.PDF))
	}

	text := fmt.Sprintf("Filled PDF written to: %s\n", key)
	text += fmt.Sprintf("Size: %d bytes\n", len(result.PDF))
	text += formatReport(result.Report)
	return mcp.NewToolResultText(text), nil
}

// toolError renders err for the client, hiding internal details in
// production
func (s *Server) toolError(err error) *mcp.CallToolResult {
	if s.config.IsDebug() {
		log.Printf("Tool error: %v", err)
	}
	return mcp.NewToolResultError(formerrors.PublicMessage(err, s.config.Production))
}

// Argument helpers
func stringArg(args map[string]any, name string) string {
	v, _ := args[name].(string)
	return strings.TrimSpace(v)
}

func boolArg(args map[string]any, name string) bool {
	switch v := args[name].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

func intArg(args map[string]any, name string) (int, bool) {
	switch v := args[name].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

// dataArg accepts the form data either as a JSON object string, which keeps
// the caller's key order, or as an already decoded object
func dataArg(args map[string]any) (*formdata.Data, error) {
	switch v := args["data"].(type) {
	case string:
		data := &formdata.Data{}
		if err := data.UnmarshalJSON([]byte(v)); err != nil {
			return nil, formerrors.UnsafeInput(fmt.Sprintf("invalid data: %v", err))
		}
		return data, nil
	case map[string]any:
		return formdata.FromMap(v), nil
	case nil:
		return nil, formerrors.UnsafeInput("data is required")
	default:
		return nil, formerrors.UnsafeInput("data must be a JSON object")
	}
}

// filledName derives the default output key from a document path
func filledName(docPath string) string {
	base := path.Base(strings.ReplaceAll(docPath, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." || base == "/" || base == ".." {
		base = "form"
	}
	return base + "-filled.pdf"
}

// Formatting functions
func formatInspectResult(docPath string, result *pdf.FormInspectResult) string {
	text := fmt.Sprintf("Form inspection for: %s\n", docPath)
	text += fmt.Sprintf("Pages: %d\n", result.PageCount)
	if !result.Interactive {
		text += "Interactive: no\n"
		text += "\n💡 INFO: This PDF has no AcroForm fields. Use 'form_detect' to locate fields on the page.\n"
		return text
	}

	text += "Interactive: yes\n"
	text += fmt.Sprintf("\nFields (%d):\n", len(result.Fields))
	for i, f := range result.Fields {
		text += fmt.Sprintf("%d. %s [%s]", i+1, f.Name, f.Kind)
		if f.Page > 0 {
			text += fmt.Sprintf(" page %d", f.Page)
		}
		if f.Required {
			text += " required"
		}
		if f.ReadOnly {
			text += " read-only"
		}
		if f.Value != "" {
			text += fmt.Sprintf(", value: %q", f.Value)
		}
		if len(f.Options) > 0 {
			text += fmt.Sprintf(", options: %s", strings.Join(f.Options, ", "))
		}
		text += "\n"
	}
	return text
}

func formatDetectResult(docPath string, result *pdf.FormDetectResult) (string, error) {
	text := fmt.Sprintf("Field detection for: %s\n", docPath)
	text += fmt.Sprintf("Pages: %d\n", result.PageCount)
	if result.Interactive {
		text += "Source: AcroForm fields\n"
	} else {
		text += "Source: OCR detection\n"
	}
	text += fmt.Sprintf("Fields: %d\n", len(result.Mapping.Fields))

	if result.LowConfidence > 0 {
		var names []string
		for _, name := range result.Mapping.Names() {
			if result.Mapping.Fields[name].LowConfidence {
				names = append(names, name)
			}
		}
		text += fmt.Sprintf("\n⚠️  Low confidence (review before use): %s\n", strings.Join(names, ", "))
	}
	if result.Diagnostics != nil && !result.Diagnostics.Empty() {
		text += "\n" + result.Diagnostics.Summary() + ":\n"
		for _, e := range append(append([]*formerrors.FormError{}, result.Diagnostics.Errors...), result.Diagnostics.Warnings...) {
			text += fmt.Sprintf("  - %s\n", e.Public())
		}
	}
	if result.Saved != nil {
		text += fmt.Sprintf("\nSaved mapping %s/%s version %d\n", result.Saved.FormType, result.Saved.Year, result.Saved.Version)
	}

	data, err := mapping.Marshal(result.Mapping)
	if err != nil {
		return "", err
	}
	text += "\nMapping:\n" + string(data)
	return text, nil
}

func formatReport(report *fill.Report) string {
	if report == nil {
		return ""
	}
	text := ""
	if report.FormType != "" {
		text += fmt.Sprintf("Form: %s/%s\n", report.FormType, report.Year)
	}
	text += fmt.Sprintf("Kind: %s\n", report.Kind)
	text += fmt.Sprintf("Pages: %d\n", report.Pages)
	text += fmt.Sprintf("Written (%d): %s\n", len(report.Written), strings.Join(report.Written, ", "))
	if len(report.Ignored) > 0 {
		text += fmt.Sprintf("Ignored keys (%d): %s\n", len(report.Ignored), strings.Join(report.Ignored, ", "))
	}
	if len(report.Resolved) > 0 {
		text += "Resolved keys:\n"
		for _, a := range report.Resolved {
			text += fmt.Sprintf("  %s -> %s\n", a.Key, a.Field)
		}
	}
	if len(report.Warnings) > 0 {
		text += "Warnings:\n"
		for _, w := range report.Warnings {
			text += fmt.Sprintf("  - %s\n", w.Public())
		}
	}
	return text
}

func formatTemplatesResult(result *pdf.FormTemplatesResult) string {
	text := fmt.Sprintf("Registered templates (%d):\n", len(result.Templates))
	for i, t := range result.Templates {
		text += fmt.Sprintf("\n%d. %s", i+1, t.ID)
		if t.Title != "" {
			text += fmt.Sprintf(" - %s", t.Title)
		}
		text += "\n"
		text += fmt.Sprintf("   Kind: %s, Pages: %d\n", t.Kind, t.PageCount)
		text += fmt.Sprintf("   Fields: %s\n", strings.Join(t.Fields, ", "))
		if len(t.Required) > 0 {
			text += fmt.Sprintf("   Required: %s\n", strings.Join(t.Required, ", "))
		}
	}
	return text
}

func formatServerInfoResult(result *pdf.ServerInfoResult) string {
	text := fmt.Sprintf("📋 %s v%s - Server Information\n", result.ServerName, result.Version)
	text += fmt.Sprintf("📁 Document Directory: %s\n", result.DocumentsDir)
	text += fmt.Sprintf("📤 Output Directory: %s\n", result.OutputDir)
	text += fmt.Sprintf("📏 Max File Size: %d MB\n", result.MaxFileSize/(1024*1024))
	text += fmt.Sprintf("🔤 OCR: %s (%s)\n\n", result.OCREngine, result.OCRLanguage)

	if len(result.Documents) > 0 {
		text += fmt.Sprintf("📂 Documents (%d PDF files):\n", len(result.Documents))
		for i, doc := range result.Documents {
			if i >= 10 {
				text += fmt.Sprintf("   ... and %d more files\n", len(result.Documents)-10)
				break
			}
			text += fmt.Sprintf("   %d. %s\n", i+1, doc)
		}
		if result.Truncated {
			text += "   (listing truncated)\n"
		}
		text += "\n"
	} else {
		text += "📂 Documents: No PDF files found in the document directory\n\n"
	}

	text += fmt.Sprintf("🗂️  Templates: %s\n", joinOrNone(result.Templates))
	text += fmt.Sprintf("🗺️  Stored mappings: %s\n", joinOrNone(result.Mappings))

	text += "\n🛠️  Available Tools:\n"
	for _, tool := range result.AvailableTools {
		text += fmt.Sprintf("\n• %s\n", tool.Name)
		text += fmt.Sprintf("  Description: %s\n", tool.Description)
		text += fmt.Sprintf("  Parameters: %s\n", tool.Parameters)
	}

	text += "\n" + result.UsageGuidance
	return text
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

// Run starts the MCP server in the configured mode
func (s *Server) Run(ctx context.Context) error {
	if s.config.IsServerMode() {
		return s.runServerMode(ctx)
	}
	return s.runStdioMode(ctx)
}

// runStdioMode runs the server in stdio mode
func (s *Server) runStdioMode(_ context.Context) error {
	if s.config.IsDebug() {
		log.Printf("Starting PDF forms MCP server in stdio mode")
		log.Printf("Document directory: %s", s.config.DocumentsDir)
	}

	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

// runServerMode serves the HTTP API until ctx is cancelled
func (s *Server) runServerMode(ctx context.Context) error {
	api, err := httpapi.New(s.config, s.pdfService)
	if err != nil {
		return err
	}
	log.Printf("Starting PDF forms HTTP server on %s", s.config.Address())
	return api.Run(ctx)
}
