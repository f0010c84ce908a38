package errors

import (
	"errors"
	"fmt"
	"strings"
)

// FormError is the typed error returned by every stage of inspection,
// detection, mapping and filling. It carries enough context (field, page,
// rule, value) for a caller to correct the request or the mapping.
type FormError struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Field     string    `json:"field,omitempty"`
	Page      int       `json:"page,omitempty"`
	Rule      string    `json:"rule,omitempty"`
	Value     string    `json:"value,omitempty"`
	Available []string  `json:"available,omitempty"`

	// Internal holds details that must not reach clients in production,
	// such as file paths or raw parser output.
	Internal string `json:"-"`
	Err      error  `json:"-"`
}

// ErrorType enumerates the error taxonomy
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeMalformedDocument
	ErrorTypeFileTooLarge
	ErrorTypeTemplateNotFound
	ErrorTypeInvalidMapping
	ErrorTypeUnsafeInput
	ErrorTypeMissingRequiredField
	ErrorTypeFieldValidation
	ErrorTypeUnsupportedFieldKind
	ErrorTypeDetectionFailure
	ErrorTypeReadOnlyField
)

// ErrorSeverity indicates how an error affects the surrounding operation
type ErrorSeverity int

const (
	SeverityWarning ErrorSeverity = iota
	SeverityError
	SeverityFatal
)

// String returns a string representation of the ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeMalformedDocument:
		return "MALFORMED_DOCUMENT"
	case ErrorTypeFileTooLarge:
		return "FILE_TOO_LARGE"
	case ErrorTypeTemplateNotFound:
		return "TEMPLATE_NOT_FOUND"
	case ErrorTypeInvalidMapping:
		return "INVALID_MAPPING"
	case ErrorTypeUnsafeInput:
		return "UNSAFE_INPUT"
	case ErrorTypeMissingRequiredField:
		return "MISSING_REQUIRED_FIELD"
	case ErrorTypeFieldValidation:
		return "FIELD_VALIDATION"
	case ErrorTypeUnsupportedFieldKind:
		return "UNSUPPORTED_FIELD_KIND"
	case ErrorTypeDetectionFailure:
		return "DETECTION_FAILURE"
	case ErrorTypeReadOnlyField:
		return "READ_ONLY_FIELD"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the type by name in JSON payloads.
func (et ErrorType) MarshalText() ([]byte, error) {
	return []byte(et.String()), nil
}

// GetSeverity returns the severity level for a given error type
func (et ErrorType) GetSeverity() ErrorSeverity {
	switch et {
	case ErrorTypeUnsupportedFieldKind, ErrorTypeDetectionFailure, ErrorTypeReadOnlyField:
		return SeverityWarning
	case ErrorTypeMalformedDocument, ErrorTypeFileTooLarge:
		return SeverityFatal
	default:
		return SeverityError
	}
}

// Error implements the error interface
func (e *FormError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Type.String(), e.Message)
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %q", e.Field)
		if e.Rule != "" {
			fmt.Fprintf(&b, ", rule %s", e.Rule)
		}
		b.WriteString(")")
	}
	if e.Page > 0 {
		fmt.Fprintf(&b, " (page %d)", e.Page)
	}
	if len(e.Available) > 0 {
		fmt.Fprintf(&b, "; available: %s", strings.Join(e.Available, ", "))
	}
	if e.Internal != "" {
		fmt.Fprintf(&b, ": %s", e.Internal)
	}
	return b.String()
}

// Public returns the message safe to show to an API client: no internal
// details and no wrapped cause.
func (e *FormError) Public() string {
	clone := *e
	clone.Internal = ""
	return clone.Error()
}

// Unwrap exposes the underlying cause
func (e *FormError) Unwrap() error {
	return e.Err
}

// Is matches any FormError of the same type, so callers can write
// errors.Is(err, errors.ErrMissingRequiredField).
func (e *FormError) Is(target error) bool {
	var t *FormError
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type && t.Message == "" && t.Field == ""
}

// Sentinels for errors.Is comparisons
var (
	ErrMalformedDocument    = &FormError{Type: ErrorTypeMalformedDocument}
	ErrFileTooLarge         = &FormError{Type: ErrorTypeFileTooLarge}
	ErrTemplateNotFound     = &FormError{Type: ErrorTypeTemplateNotFound}
	ErrInvalidMapping       = &FormError{Type: ErrorTypeInvalidMapping}
	ErrUnsafeInput          = &FormError{Type: ErrorTypeUnsafeInput}
	ErrMissingRequiredField = &FormError{Type: ErrorTypeMissingRequiredField}
	ErrFieldValidation      = &FormError{Type: ErrorTypeFieldValidation}
	ErrUnsupportedFieldKind = &FormError{Type: ErrorTypeUnsupportedFieldKind}
	ErrDetectionFailure     = &FormError{Type: ErrorTypeDetectionFailure}
	ErrReadOnlyField        = &FormError{Type: ErrorTypeReadOnlyField}
)

// New creates a FormError of the given type
func New(errorType ErrorType, message string) *FormError {
	return &FormError{Type: errorType, Message: message}
}

// Wrap creates a FormError that wraps a cause. The cause's text is kept
// internal.
func Wrap(errorType ErrorType, message string, err error) *FormError {
	fe := &FormError{Type: errorType, Message: message, Err: err}
	if err != nil {
		fe.Internal = err.Error()
	}
	return fe
}

// MalformedDocument reports bytes that cannot be parsed as a PDF
func MalformedDocument(reason string, err error) *FormError {
	return Wrap(ErrorTypeMalformedDocument, reason, err)
}

// FileTooLarge reports an input over the size limit
func FileTooLarge(size, limit int64) *FormError {
	return New(ErrorTypeFileTooLarge,
		fmt.Sprintf("file too large: %d bytes (max: %d bytes)", size, limit))
}

// TemplateNotFound lists the templates that do exist
func TemplateNotFound(formType, year string, available []string) *FormError {
	return &FormError{
		Type:      ErrorTypeTemplateNotFound,
		Message:   fmt.Sprintf("no template registered for %s/%s", formType, year),
		Available: available,
	}
}

// InvalidMapping names the offending field
func InvalidMapping(field, reason string) *FormError {
	return &FormError{Type: ErrorTypeInvalidMapping, Message: reason, Field: field}
}

// UnsafeInput rejects a request before any processing
func UnsafeInput(reason string) *FormError {
	return New(ErrorTypeUnsafeInput, reason)
}

// MissingRequiredField names the absent field
func MissingRequiredField(field string) *FormError {
	return &FormError{
		Type:    ErrorTypeMissingRequiredField,
		Message: "required field missing",
		Field:   field,
	}
}

// FieldValidation names the field and the violated rule
func FieldValidation(field, rule, message string) *FormError {
	return &FormError{
		Type:    ErrorTypeFieldValidation,
		Message: message,
		Field:   field,
		Rule:    rule,
	}
}

// UnsupportedFieldKind is the non-fatal report for interactive fields the
// filler cannot write.
func UnsupportedFieldKind(field, kind string) *FormError {
	return &FormError{
		Type:    ErrorTypeUnsupportedFieldKind,
		Message: fmt.Sprintf("unsupported field kind %s", kind),
		Field:   field,
	}
}

// ReadOnlyField reports an interactive field whose read-only flag kept
// the filler from writing it.
func ReadOnlyField(field string) *FormError {
	return &FormError{
		Type:    ErrorTypeReadOnlyField,
		Message: "field is read-only",
		Field:   field,
	}
}

// DetectionFailure is the per-page diagnostic for rasterization or OCR
// failures.
func DetectionFailure(page int, stage string, err error) *FormError {
	fe := Wrap(ErrorTypeDetectionFailure, stage+" failed", err)
	fe.Page = page
	return fe
}

// WithPage adds page number information to an existing FormError
func (e *FormError) WithPage(page int) *FormError {
	e.Page = page
	return e
}

// WithValue records the offending value
func (e *FormError) WithValue(value string) *FormError {
	e.Value = value
	return e
}

// GetSeverity returns the severity of this specific error
func (e *FormError) GetSeverity() ErrorSeverity {
	return e.Type.GetSeverity()
}

// PublicMessage returns err's client-facing text. Non-FormError errors are
// collapsed to a generic message when hideInternal is set.
func PublicMessage(err error, hideInternal bool) string {
	var fe *FormError
	if errors.As(err, &fe) {
		if hideInternal {
			return fe.Public()
		}
		return fe.Error()
	}
	if hideInternal {
		return "internal error"
	}
	return err.Error()
}
