package errors

import "fmt"

// ErrorCollection gathers the non-fatal problems of a multi-page operation.
// Detection uses it so one page's failure never hides the others' results.
type ErrorCollection struct {
	Errors   []*FormError `json:"errors"`
	Warnings []*FormError `json:"warnings"`
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors:   make([]*FormError, 0),
		Warnings: make([]*FormError, 0),
	}
}

// Add adds an error to the appropriate collection based on severity
func (ec *ErrorCollection) Add(err *FormError) {
	if err == nil {
		return
	}
	if err.GetSeverity() == SeverityWarning {
		ec.Warnings = append(ec.Warnings, err)
	} else {
		ec.Errors = append(ec.Errors, err)
	}
}

// Merge appends every entry of other
func (ec *ErrorCollection) Merge(other *ErrorCollection) {
	if other == nil {
		return
	}
	ec.Errors = append(ec.Errors, other.Errors...)
	ec.Warnings = append(ec.Warnings, other.Warnings...)
}

// Count returns the total number of errors and warnings
func (ec *ErrorCollection) Count() (errors, warnings int) {
	return len(ec.Errors), len(ec.Warnings)
}

// Empty reports whether nothing was collected
func (ec *ErrorCollection) Empty() bool {
	return len(ec.Errors) == 0 && len(ec.Warnings) == 0
}

// ForPage returns the entries recorded against one page
func (ec *ErrorCollection) ForPage(page int) []*FormError {
	var out []*FormError
	for _, e := range append(append([]*FormError{}, ec.Errors...), ec.Warnings...) {
		if e.Page == page {
			out = append(out, e)
		}
	}
	return out
}

// Summary returns a text summary of all errors and warnings
func (ec *ErrorCollection) Summary() string {
	errorCount, warningCount := ec.Count()
	if errorCount == 0 && warningCount == 0 {
		return "No errors or warnings"
	}
	return fmt.Sprintf("Found %d error(s) and %d warning(s)", errorCount, warningCount)
}
