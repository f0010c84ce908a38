package descriptions

import "sort"

// Tool descriptions with practical examples and use cases

const (
	// Discovery tools
	FormInspectDescription = `Report whether a PDF is an interactive (AcroForm) form and list its fields.

**When to use:** Before filling a document you have not seen before, to learn whether it carries fillable fields or is a flat scan.

**Why it's useful:** Interactive forms can be filled by field name without any detection step; flat forms need form_detect first.

**Examples:**
• Check a downloaded form: "Is incoming/pps-1.pdf fillable?"
• List field names: "Which fields does contracts/upl-1.pdf expose?"

**Best practices:** Paths are relative to the document directory. Fields are reported with their kind, current value and options.`

	FormDetectDescription = `Detect the fields of a form by rendering each page, reading it with OCR and matching labels to input boxes.

**When to use:** For flat PDFs and scans that carry no AcroForm fields, or to produce a reviewable mapping for a new form version.

**Why it's useful:** Produces a field mapping (name, page, position, type) that form_fill_mapping and form_fill_universal can reuse.

**Examples:**
• Preview detection: "Detect the fields of scans/pit-11.pdf"
• Store a mapping: "Detect scans/pit-11.pdf as PIT-11 for 2024 and save it"

**Common workflows:**
1. New form: form_detect with save → review with mapping_get → form_fill_mapping
2. Form revision: form_detect with save again; existing fields keep their geometry and the version is bumped

**Best practices:** Low-confidence fields are flagged; review them before relying on the mapping. Page failures are reported as warnings and do not abort detection.`

	// Filling tools
	FormFillDescription = `Fill one of the registered form templates and write the result to the output directory.

**When to use:** The form type and year match a template listed by form_templates.

**Why it's useful:** Values are sanitized and validated against the template's field rules; missing required fields and bad formats are reported by name.

**Examples:**
• "Fill UPL-1 for 2024 with principalName=Jan Kowalski, principalNIP=1234563218"
• "Fill PPS-1/2024 and save it as out/pps-kowalski.pdf"

**Best practices:** Keys must equal the template's field names as listed by form_templates. Unknown keys are ignored and listed in the report.`

	FormFillUniversalDescription = `Fill any caller-supplied PDF: AcroForm fields by name, or a flat form through its stored mapping.

**When to use:** You have the form file itself rather than a registered template.

**Why it's useful:** One call works for both interactive and flat documents; unsupported field kinds are reported as warnings instead of failing.

**Examples:**
• "Fill incoming/application.pdf with name=Anna Nowak"
• "Fill scans/pit-11.pdf using the stored PIT-11/2024 mapping"

**Best practices:** Keys are matched to field names leniently (case, separators, Polish diacritics), so "principal_name" fills "principalName". Flat documents need form_type and year of a mapping saved by form_detect. Every field is treated as optional.`

	FormFillMappingDescription = `Fill a caller-supplied PDF at the positions recorded in a stored mapping.

**When to use:** The form is flat and a reviewed mapping exists for its form type and year.

**Why it's useful:** Writes text at exact coordinates with the mapping's field rules (required, number, date, checkbox) enforced.

**Examples:**
• "Fill scans/pit-11.pdf as PIT-11/2024 with surname=Nowak, pesel=44051401359"

**Best practices:** Use mapping_get to review the field names first. Missing required fields fail the call before anything is written.`

	// Registry and mapping tools
	FormTemplatesDescription = `List the registered form templates with their kind, page count, fields and required fields.

**When to use:** To discover which form types and years form_fill accepts.`

	MappingGetDescription = `Return a stored field mapping as JSON, the current version or a specific archived one.

**When to use:** To review a mapping produced by form_detect, or to compare versions after a form revision.`

	MappingVersionsDescription = `List the stored versions of a mapping in ascending order.

**When to use:** Before fetching an older version with mapping_get.`

	MappingListDescription = `List every stored mapping as form_type/year.

**When to use:** To see which flat forms can be filled with form_fill_mapping.`

	FormServerInfoDescription = `Show server configuration, available tools, registered templates and stored mappings.

**When to use:** First call in a session, to learn the document and output directories and the supported workflows.`
)

// ToolDescriptions maps tool names to their descriptions
var ToolDescriptions = map[string]string{
	"form_inspect":        FormInspectDescription,
	"form_detect":         FormDetectDescription,
	"form_fill":           FormFillDescription,
	"form_fill_universal": FormFillUniversalDescription,
	"form_fill_mapping":   FormFillMappingDescription,
	"form_templates":      FormTemplatesDescription,
	"mapping_get":         MappingGetDescription,
	"mapping_versions":    MappingVersionsDescription,
	"mapping_list":        MappingListDescription,
	"form_server_info":    FormServerInfoDescription,
}

// GetToolDescription returns the description for a tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return "Tool description not available"
}

// GetAllToolNames returns the tool names in lexical order
func GetAllToolNames() []string {
	names := make([]string, 0, len(ToolDescriptions))
	for name := range ToolDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
