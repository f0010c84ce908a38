// Package inspect opens a PDF read-only and reports its page geometry and
// interactive (AcroForm) fields. An empty field list means the document is
// flat and needs OCR-based detection.
package inspect

import (
	"bytes"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/geometry"
)

// Field flag bits (PDF 32000-1, 12.7.3.1 and 12.7.4)
const (
	flagReadOnly   = 1 << 0
	flagRequired   = 1 << 1
	flagRadio      = 1 << 15
	flagPushButton = 1 << 16
)

// Inspection is the result of a read-only structural pass
type Inspection struct {
	PageCount         int                 `json:"page_count"`
	PageSizes         []geometry.PageSize `json:"page_sizes"`
	InteractiveFields []InteractiveField  `json:"interactive_fields"`
}

// IsFlat reports whether the document has no interactive fields
func (i *Inspection) IsFlat() bool {
	return len(i.InteractiveFields) == 0
}

// PageSize returns the size of a 1-based page, or false when out of range
func (i *Inspection) PageSize(page int) (geometry.PageSize, bool) {
	if page < 1 || page > len(i.PageSizes) {
		return geometry.PageSize{}, false
	}
	return i.PageSizes[page-1], true
}

// InteractiveField describes one terminal AcroForm field
type InteractiveField struct {
	Name      string               `json:"name"`
	Kind      FieldKind            `json:"kind"`
	Page      int                  `json:"page,omitempty"`
	Rect      geometry.BoundingBox `json:"rect"`
	Options   []string             `json:"options,omitempty"`
	OnState   string               `json:"on_state,omitempty"`
	Value     string               `json:"value,omitempty"`
	MaxLength int                  `json:"max_length,omitempty"`
	Required  bool                 `json:"required"`
	ReadOnly  bool                 `json:"read_only"`
}

// FieldNode is a terminal field together with its live pdfcpu dictionaries.
// The filler mutates Dict and Widgets in place before serializing.
type FieldNode struct {
	InteractiveField
	Dict    types.Dict
	Widgets []types.Dict
}

// Inspector performs structure inspection using pdfcpu
type Inspector struct {
	debugMode bool
}

// NewInspector creates a new inspector
func NewInspector(debugMode bool) *Inspector {
	return &Inspector{debugMode: debugMode}
}

// ReadContext parses pdfBytes into a pdfcpu context. Any parse failure or a
// document without pages is reported as MalformedDocument.
func ReadContext(pdfBytes []byte) (*model.Context, error) {
	if len(pdfBytes) == 0 {
		return nil, formerrors.MalformedDocument("empty document", nil)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(pdfBytes), conf)
	if err != nil {
		return nil, formerrors.MalformedDocument("cannot parse PDF", err)
	}

	if err := ctx.EnsurePageCount(); err != nil {
		return nil, formerrors.MalformedDocument("cannot determine page count", err)
	}

	if ctx.PageCount == 0 {
		return nil, formerrors.MalformedDocument("document has no pages", nil)
	}

	return ctx, nil
}

// Inspect opens pdfBytes read-only and reports pages and interactive fields
func (in *Inspector) Inspect(pdfBytes []byte) (*Inspection, error) {
	ctx, err := ReadContext(pdfBytes)
	if err != nil {
		return nil, err
	}

	sizes, err := PageSizes(ctx)
	if err != nil {
		return nil, err
	}

	nodes, err := in.Fields(ctx)
	if err != nil {
		return nil, err
	}

	fields := make([]InteractiveField, 0, len(nodes))
	for _, n := range nodes {
		fields = append(fields, n.InteractiveField)
	}

	if in.debugMode {
		log.Printf("inspect: %d page(s), %d interactive field(s)", ctx.PageCount, len(fields))
	}

	return &Inspection{
		PageCount:         ctx.PageCount,
		PageSizes:         sizes,
		InteractiveFields: fields,
	}, nil
}

// PageSizes returns the MediaBox size of every page
func PageSizes(ctx *model.Context) ([]geometry.PageSize, error) {
	dims, err := ctx.PageDims()
	if err != nil {
		return nil, formerrors.MalformedDocument("cannot read page dimensions", err)
	}

	sizes := make([]geometry.PageSize, len(dims))
	for i, d := range dims {
		sizes[i] = geometry.PageSize{Width: d.Width, Height: d.Height}
	}
	return sizes, nil
}

// Fields walks the AcroForm field tree and returns every terminal field.
// A document without an AcroForm yields an empty slice.
func (in *Inspector) Fields(ctx *model.Context) ([]*FieldNode, error) {
	rootDict, err := ctx.Catalog()
	if err != nil {
		return nil, formerrors.MalformedDocument("cannot read catalog", err)
	}

	acroFormObj, found := rootDict.Find("AcroForm")
	if !found {
		return nil, nil
	}

	acroFormDict, err := ctx.DereferenceDict(acroFormObj)
	if err != nil || acroFormDict == nil {
		return nil, nil //nolint:nilerr // a broken AcroForm is treated as a flat document
	}

	fieldsObj, found := acroFormDict.Find("Fields")
	if !found {
		return nil, nil
	}

	fieldsArray, err := ctx.DereferenceArray(fieldsObj)
	if err != nil {
		return nil, nil //nolint:nilerr // same as above
	}

	w := &walker{
		ctx:       ctx,
		debugMode: in.debugMode,
		annotPage: annotationPages(ctx),
		visited:   make(map[int]bool),
	}
	w.walk(fieldsArray, "", inherited{})

	sort.SliceStable(w.out, func(i, j int) bool {
		if w.out[i].Page != w.out[j].Page {
			return w.out[i].Page < w.out[j].Page
		}
		return false
	})

	return w.out, nil
}

// inherited carries attributes that terminal fields may take from ancestors
type inherited struct {
	ft     string
	flags  int
	maxLen int
}

type walker struct {
	ctx       *model.Context
	debugMode bool
	annotPage map[int]int
	visited   map[int]bool
	out       []*FieldNode
}

func (w *walker) walk(arr types.Array, parentName string, inh inherited) {
	for _, obj := range arr {
		objNr := 0
		if ir, ok := obj.(types.IndirectRef); ok {
			objNr = int(ir.ObjectNumber)
			if w.visited[objNr] {
				continue
			}
			w.visited[objNr] = true
		}

		dict, err := w.ctx.DereferenceDict(obj)
		if err != nil || dict == nil {
			if w.debugMode {
				log.Printf("inspect: skipping unreadable field object %d: %v", objNr, err)
			}
			continue
		}

		name := parentName
		if partial := w.stringEntry(dict, "T"); partial != "" {
			if name == "" {
				name = partial
			} else {
				name = name + "." + partial
			}
		}

		own := w.inheritFrom(dict, inh)

		kids, childFields := w.splitKids(dict)
		if len(childFields) > 0 {
			w.walk(childFields, name, own)
			continue
		}

		node := &FieldNode{Dict: dict}
		node.Name = name
		if node.Name == "" {
			node.Name = fmt.Sprintf("field_%d", objNr)
		}
		node.Kind = kindOf(own.ft, own.flags)
		node.Required = own.flags&flagRequired != 0
		node.ReadOnly = own.flags&flagReadOnly != 0
		node.MaxLength = own.maxLen

		// A field without widget kids is merged with its own widget.
		if len(kids) == 0 {
			node.Widgets = []types.Dict{dict}
			node.Page = w.annotPage[objNr]
		} else {
			for _, k := range kids {
				kd, err := w.ctx.DereferenceDict(k)
				if err != nil || kd == nil {
					continue
				}
				node.Widgets = append(node.Widgets, kd)
				if ir, ok := k.(types.IndirectRef); ok && node.Page == 0 {
					node.Page = w.annotPage[int(ir.ObjectNumber)]
				}
			}
		}

		if len(node.Widgets) > 0 {
			node.Rect = w.rect(node.Widgets[0])
		}

		switch node.Kind {
		case KindCheckbox:
			node.OnState = w.onState(node.Widgets)
		case KindRadio:
			node.Options = w.radioStates(node.Widgets)
		case KindDropdown:
			node.Options = w.choiceOptions(dict)
		}

		node.Value = w.value(dict, node.Kind)

		if w.debugMode {
			log.Printf("inspect: field %s kind=%s page=%d", node.Name, node.Kind, node.Page)
		}

		w.out = append(w.out, node)
	}
}

func (w *walker) inheritFrom(dict types.Dict, inh inherited) inherited {
	out := inh
	if ftObj, found := dict.Find("FT"); found {
		if ft, err := w.ctx.DereferenceName(ftObj, model.V10, nil); err == nil {
			out.ft = string(ft)
		}
	}
	if flagsObj, found := dict.Find("Ff"); found {
		if flags, err := w.ctx.DereferenceInteger(flagsObj); err == nil && flags != nil {
			out.flags = int(*flags)
		}
	}
	if maxLenObj, found := dict.Find("MaxLen"); found {
		if maxLen, err := w.ctx.DereferenceInteger(maxLenObj); err == nil && maxLen != nil {
			out.maxLen = int(*maxLen)
		}
	}
	return out
}

// splitKids separates widget-only kids from child fields. Kids carrying a T
// entry are fields in their own right.
func (w *walker) splitKids(dict types.Dict) (widgets, fields types.Array) {
	kidsObj, found := dict.Find("Kids")
	if !found {
		return nil, nil
	}
	kids, err := w.ctx.DereferenceArray(kidsObj)
	if err != nil {
		return nil, nil
	}
	for _, k := range kids {
		kd, err := w.ctx.DereferenceDict(k)
		if err != nil || kd == nil {
			continue
		}
		if _, hasT := kd.Find("T"); hasT {
			fields = append(fields, k)
		} else {
			widgets = append(widgets, k)
		}
	}
	return widgets, fields
}

func (w *walker) stringEntry(dict types.Dict, key string) string {
	obj, found := dict.Find(key)
	if !found {
		return ""
	}
	s, err := w.ctx.DereferenceStringOrHexLiteral(obj, model.V10, nil)
	if err != nil {
		return ""
	}
	return s
}

// value returns the field's current V entry. Button states are names;
// everything else is a string.
func (w *walker) value(dict types.Dict, kind FieldKind) string {
	obj, found := dict.Find("V")
	if !found {
		return ""
	}
	if kind == KindCheckbox || kind == KindRadio {
		name, err := w.ctx.DereferenceName(obj, model.V10, nil)
		if err != nil {
			return ""
		}
		return string(name)
	}
	return w.stringEntry(dict, "V")
}

func (w *walker) rect(widget types.Dict) geometry.BoundingBox {
	rectObj, found := widget.Find("Rect")
	if !found {
		return geometry.BoundingBox{}
	}
	arr, err := w.ctx.DereferenceArray(rectObj)
	if err != nil || len(arr) != 4 {
		return geometry.BoundingBox{}
	}
	var c [4]float64
	for i, o := range arr {
		if f, err := w.ctx.DereferenceNumber(o); err == nil {
			c[i] = f
		}
	}
	return geometry.NewBoundingBox(c[0], c[1], c[2], c[3])
}

// appearanceStates returns the normal appearance state names of a widget,
// excluding Off.
func (w *walker) appearanceStates(widget types.Dict) []string {
	apObj, found := widget.Find("AP")
	if !found {
		return nil
	}
	ap, err := w.ctx.DereferenceDict(apObj)
	if err != nil || ap == nil {
		return nil
	}
	nObj, found := ap.Find("N")
	if !found {
		return nil
	}
	n, err := w.ctx.DereferenceDict(nObj)
	if err != nil || n == nil {
		return nil
	}
	var states []string
	for k := range n {
		if k != "Off" {
			states = append(states, k)
		}
	}
	sort.Strings(states)
	return states
}

func (w *walker) onState(widgets []types.Dict) string {
	for _, wd := range widgets {
		if states := w.appearanceStates(wd); len(states) > 0 {
			return states[0]
		}
	}
	return "Yes"
}

func (w *walker) radioStates(widgets []types.Dict) []string {
	var out []string
	seen := make(map[string]bool)
	for _, wd := range widgets {
		for _, s := range w.appearanceStates(wd) {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func (w *walker) choiceOptions(dict types.Dict) []string {
	optObj, found := dict.Find("Opt")
	if !found {
		return nil
	}
	optArray, err := w.ctx.DereferenceArray(optObj)
	if err != nil {
		return nil
	}

	var options []string
	for _, opt := range optArray {
		// Options are strings or [export display] pairs; keep the export value.
		if s, err := w.ctx.DereferenceStringOrHexLiteral(opt, model.V10, nil); err == nil {
			options = append(options, s)
		} else if pair, err := w.ctx.DereferenceArray(opt); err == nil && len(pair) >= 1 {
			if s, err := w.ctx.DereferenceStringOrHexLiteral(pair[0], model.V10, nil); err == nil {
				options = append(options, s)
			}
		}
	}
	return options
}

// annotationPages maps annotation object numbers to 1-based page numbers
func annotationPages(ctx *model.Context) map[int]int {
	out := make(map[int]int)
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pageDict, _, _, err := ctx.PageDict(pageNr, false)
		if err != nil || pageDict == nil {
			continue
		}
		annotsObj, found := pageDict.Find("Annots")
		if !found {
			continue
		}
		annots, err := ctx.DereferenceArray(annotsObj)
		if err != nil {
			continue
		}
		for _, a := range annots {
			if ir, ok := a.(types.IndirectRef); ok {
				out[int(ir.ObjectNumber)] = pageNr
			}
		}
	}
	return out
}

// String implements fmt.Stringer for debug output
func (f InteractiveField) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s", f.Name, f.Kind)
	if f.Page > 0 {
		fmt.Fprintf(&b, ", page %d", f.Page)
	}
	b.WriteString(")")
	return b.String()
}
