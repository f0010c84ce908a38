package fill

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/a3tai/mcp-pdf-forms/internal/locale"
	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/inspect"
)

// interactiveWriter sets AcroForm values in a parsed document
type interactiveWriter struct {
	locale    *locale.Locale
	debugMode bool
}

// setValue writes value into node. The switch covers every FieldKind;
// kinds that cannot hold a value return an UnsupportedFieldKind warning
// and leave the document untouched. Read-only fields are skipped the same
// way with a ReadOnlyField warning.
func (w *interactiveWriter) setValue(node *inspect.FieldNode, name, value string) (*formerrors.FormError, error) {
	if node.ReadOnly {
		return formerrors.ReadOnlyField(name), nil
	}

	switch node.Kind {
	case inspect.KindText:
		node.Dict["V"] = encodeText(value)
		dropAppearances(node)
	case inspect.KindCheckbox:
		state := types.Name("Off")
		if value == "true" {
			state = types.Name(node.OnState)
		}
		node.Dict["V"] = state
		for _, wd := range node.Widgets {
			wd["AS"] = state
		}
	case inspect.KindRadio:
		option, ok := w.option(node.Options, value)
		if !ok {
			return nil, formerrors.FieldValidation(name, RuleOption,
				fmt.Sprintf("value is not one of %v", node.Options)).WithValue(value)
		}
		node.Dict["V"] = types.Name(option)
		for _, wd := range node.Widgets {
			if hasAppearanceState(wd, option) {
				wd["AS"] = types.Name(option)
			} else {
				wd["AS"] = types.Name("Off")
			}
		}
	case inspect.KindDropdown:
		if len(node.Options) > 0 {
			option, ok := w.option(node.Options, value)
			if !ok {
				return nil, formerrors.FieldValidation(name, RuleOption,
					fmt.Sprintf("value is not one of %v", node.Options)).WithValue(value)
			}
			value = option
		}
		node.Dict["V"] = encodeText(value)
		dropAppearances(node)
	case inspect.KindPushButton, inspect.KindSignature, inspect.KindUnknown:
		return formerrors.UnsupportedFieldKind(name, node.Kind.String()), nil
	default:
		panic(fmt.Sprintf("fill: unhandled field kind %d", node.Kind))
	}

	if w.debugMode {
		log.Printf("fill: set %s field %s", node.Kind, node.Name)
	}
	return nil, nil
}

// option finds value among options, exactly or after locale folding
func (w *interactiveWriter) option(options []string, value string) (string, bool) {
	for _, o := range options {
		if o == value {
			return o, true
		}
	}
	want := w.locale.KeyForm(value)
	for _, o := range options {
		if w.locale.KeyForm(o) == want {
			return o, true
		}
	}
	return "", false
}

// hasAppearanceState reports whether a widget's normal appearance
// dictionary is inline and contains state. Indirect appearance
// dictionaries are assumed to contain it.
func hasAppearanceState(widget types.Dict, state string) bool {
	ap, ok := widget["AP"].(types.Dict)
	if !ok {
		return true
	}
	n, ok := ap["N"].(types.Dict)
	if !ok {
		return true
	}
	_, found := n[state]
	return found
}

// dropAppearances removes stale appearance streams so viewers rebuild them
// from the new value
func dropAppearances(node *inspect.FieldNode) {
	for _, wd := range node.Widgets {
		delete(wd, "AP")
	}
}

// encodeText encodes s as a hex string: plain bytes for ASCII, UTF-16BE
// with a byte order mark otherwise
func encodeText(s string) types.HexLiteral {
	ascii := true
	for _, r := range s {
		if r > 0x7E {
			ascii = false
			break
		}
	}
	if ascii {
		return types.HexLiteral(hex.EncodeToString([]byte(s)))
	}

	units := utf16.Encode([]rune(s))
	b := make([]byte, 2, 2+2*len(units))
	b[0], b[1] = 0xFE, 0xFF
	for _, u := range units {
		b = append(b, byte(u>>8), byte(u))
	}
	return types.HexLiteral(hex.EncodeToString(b))
}

// setNeedAppearances asks viewers to regenerate field appearances
func setNeedAppearances(ctx *model.Context) error {
	root, err := ctx.Catalog()
	if err != nil {
		return formerrors.MalformedDocument("cannot read catalog", err)
	}
	obj, found := root.Find("AcroForm")
	if !found {
		return nil
	}
	acroForm, err := ctx.DereferenceDict(obj)
	if err != nil || acroForm == nil {
		return formerrors.MalformedDocument("cannot read AcroForm", err)
	}
	acroForm["NeedAppearances"] = types.Boolean(true)
	return nil
}

// serialize writes the modified context
func serialize(ctx *model.Context) ([]byte, error) {
	if err := setNeedAppearances(ctx); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := api.WriteContext(ctx, &buf); err != nil {
		return nil, fmt.Errorf("failed to serialize filled document: %w", err)
	}
	return buf.Bytes(), nil
}
