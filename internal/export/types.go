// Package export renders planning reports locally, as plain text or as a PDF printed by
// headless Chrome. It serves the same payload as the remote report service.
package export

import (
	"errors"
	"strings"
)

// Variant selects the report layout.
type Variant string

const (
	VariantFull    Variant = "full"
	VariantOnePage Variant = "one_page"
)

// ParseVariant maps a query value to a Variant. Unknown values select the full report.
func ParseVariant(v string) Variant {
	if strings.EqualFold(strings.TrimSpace(v), string(VariantOnePage)) {
		return VariantOnePage
	}
	return VariantFull
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
