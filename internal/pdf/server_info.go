package pdf

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/a3tai/mcp-pdf-forms/internal/descriptions"
)

// Document listing limits for server info
const (
	documentListTTL   = 5 * time.Minute
	documentListLimit = 100
)

// ServerInfoResult describes the running server and what it can fill
type ServerInfoResult struct {
	ServerName     string     `json:"server_name"`
	Version        string     `json:"version"`
	DocumentsDir   string     `json:"documents_dir"`
	OutputDir      string     `json:"output_dir"`
	MaxFileSize    int64      `json:"max_file_size"`
	OCREngine      string     `json:"ocr_engine"`
	OCRLanguage    string     `json:"ocr_language"`
	AvailableTools []ToolInfo `json:"available_tools"`
	Templates      []string   `json:"templates"`
	Mappings       []string   `json:"mappings"`
	Documents      []string   `json:"documents"`
	Truncated      bool       `json:"truncated,omitempty"`
	UsageGuidance  string     `json:"usage_guidance"`
}

// ToolInfo represents information about an available tool
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  string `json:"parameters"`
}

var toolParameters = map[string]string{
	"form_inspect":        "path (required): document path relative to the document directory",
	"form_detect":         "path (required); form_type, year (optional); save (optional, requires form_type and year)",
	"form_fill":           "form_type, year, data (required); output (optional)",
	"form_fill_universal": "path, data (required); form_type, year, output (optional)",
	"form_fill_mapping":   "path, form_type, year, data (required); output (optional)",
	"form_templates":      "none",
	"mapping_get":         "form_type, year (required); version (optional)",
	"mapping_versions":    "form_type, year (required)",
	"mapping_list":        "none",
	"form_server_info":    "none",
}

// documentCache keeps the document listing for a short TTL
type documentCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	keys       []string
	truncated  bool
	lastUpdate time.Time
}

func (c *documentCache) get() ([]string, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastUpdate.IsZero() || time.Since(c.lastUpdate) > c.ttl {
		return nil, false, false
	}
	return c.keys, c.truncated, true
}

func (c *documentCache) set(keys []string, truncated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys, c.truncated, c.lastUpdate = keys, truncated, time.Now()
}

// ServerInfo reports server capabilities, registered templates, stored
// mappings and the PDFs available in the document store
func (s *Service) ServerInfo(ctx context.Context, serverName, version, documentsDir, outputDir string) (*ServerInfoResult, error) {
	templates := s.filler.Registry().Available()

	mappings, err := s.mappings.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}

	documents, truncated, err := s.listDocuments(ctx)
	if err != nil {
		return nil, err
	}

	engine := s.ocrConfig.Engine
	if engine == "" {
		engine = "none"
	}

	return &ServerInfoResult{
		ServerName:     serverName,
		Version:        version,
		DocumentsDir:   documentsDir,
		OutputDir:      outputDir,
		MaxFileSize:    s.GetMaxFileSize(),
		OCREngine:      engine,
		OCRLanguage:    s.ocrConfig.Language,
		AvailableTools: availableTools(),
		Templates:      templates,
		Mappings:       mappings,
		Documents:      documents,
		Truncated:      truncated,
		UsageGuidance:  s.usageGuidance(),
	}, nil
}

// listDocuments returns up to documentListLimit PDF keys from the document
// store
func (s *Service) listDocuments(ctx context.Context) ([]string, bool, error) {
	if s.documents == nil {
		return nil, false, nil
	}
	if keys, truncated, ok := s.documentList.get(); ok {
		return keys, truncated, nil
	}

	all, err := s.documents.List(ctx, "")
	if err != nil {
		return nil, false, fmt.Errorf("failed to list documents: %w", err)
	}

	keys := make([]string, 0, min(len(all), documentListLimit))
	truncated := false
	for _, key := range all {
		if !strings.EqualFold(path.Ext(key), ".pdf") {
			continue
		}
		if len(keys) == documentListLimit {
			truncated = true
			break
		}
		keys = append(keys, key)
	}

	s.documentList.set(keys, truncated)
	return keys, truncated, nil
}

func availableTools() []ToolInfo {
	names := descriptions.GetAllToolNames()
	tools := make([]ToolInfo, 0, len(names))
	for _, name := range names {
		tools = append(tools, ToolInfo{
			Name:        name,
			Description: firstLine(descriptions.GetToolDescription(name)),
			Parameters:  toolParameters[name],
		})
	}
	return tools
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (s *Service) usageGuidance() string {
	maxFileSizeMB := s.GetMaxFileSize() / (1024 * 1024)

	return fmt.Sprintf(`PDF Forms MCP Server Usage Guide:

1. INSPECT THE DOCUMENT:
   - Use 'form_inspect' to learn whether a PDF has interactive (AcroForm) fields

2. INTERACTIVE FORMS:
   - Use 'form_fill_universal' with the document path and a data object
   - Keys are matched to field names leniently (case, separators, diacritics)

3. FLAT FORMS AND SCANS:
   - Use 'form_detect' with form_type, year and save=true to store a mapping
   - Review it with 'mapping_get'; older versions stay available via 'mapping_versions'
   - Fill with 'form_fill_mapping'

4. REGISTERED TEMPLATES:
   - Use 'form_templates' to list them and 'form_fill' to fill one by form type and year

IMPORTANT NOTES:
- Document paths are relative to the document directory; filled PDFs are written to the output directory
- The server accepts files up to %dMB
- Detection reports low-confidence fields and per-page failures as warnings
- Missing required fields and invalid values are reported by field name and rule`, maxFileSizeMB)
}
