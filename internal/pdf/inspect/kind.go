package inspect

// FieldKind is the closed set of interactive field kinds. Text, Checkbox,
// Radio and Dropdown are writable; the remaining kinds are reported so the
// filler can skip them with a warning.
type FieldKind int

const (
	KindUnknown FieldKind = iota
	KindText
	KindCheckbox
	KindRadio
	KindDropdown
	KindPushButton
	KindSignature
)

func (k FieldKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCheckbox:
		return "checkbox"
	case KindRadio:
		return "radio"
	case KindDropdown:
		return "dropdown"
	case KindPushButton:
		return "button"
	case KindSignature:
		return "signature"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON output
func (k FieldKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Writable reports whether the filler can set a value for this kind
func (k FieldKind) Writable() bool {
	switch k {
	case KindText, KindCheckbox, KindRadio, KindDropdown:
		return true
	default:
		return false
	}
}

// kindOf derives the kind from the FT entry and field flags
func kindOf(ft string, flags int) FieldKind {
	switch ft {
	case "Tx":
		return KindText
	case "Btn":
		switch {
		case flags&flagPushButton != 0:
			return KindPushButton
		case flags&flagRadio != 0:
			return KindRadio
		default:
			return KindCheckbox
		}
	case "Ch":
		return KindDropdown
	case "Sig":
		return KindSignature
	default:
		return KindUnknown
	}
}
