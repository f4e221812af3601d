// =============================================================================
// NCM Report Consolidator - Shared Types
// =============================================================================
//
// This package contains the types passed between the pipeline stages. Keeping
// them here avoids import cycles between:
//   - xlsxparser / csvparser (produce RawRecord)
//   - grouping               (produces GroupRecord)
//   - staging                (produces StagedGroup)
//   - xlsxwriter             (consumes StagedGroup and Metadata)
//   - converter              (orchestrates all of the above)
//
// =============================================================================

package types

import "fmt"

// =============================================================================
// INPUT RECORDS
// =============================================================================

// RawRecord is one normalized row of the classification table.
// It only lives between loading and grouping.
type RawRecord struct {
	// ClassificationCode is the NCM code with every '.' removed.
	ClassificationCode string

	// EntryCode is the CST PIS/COFINS ENTRADA value.
	EntryCode string

	// ExitCode is the CST PIS/COFINS SAÍDA value.
	ExitCode string

	// BookkeepingCode is the CÓDIGO SPED value.
	BookkeepingCode string

	// SourceRow is the 1-indexed row in the source sheet. Diagnostics only.
	SourceRow int
}

// =============================================================================
// GROUPS
// =============================================================================

// GroupKey identifies a group: (entry code, bookkeeping code).
type GroupKey struct {
	EntryCode       string
	BookkeepingCode string
}

// String renders the key for logs and error messages.
func (k GroupKey) String() string {
	return fmt.Sprintf("%s/%s", k.EntryCode, k.BookkeepingCode)
}

// GroupRecord is the result of grouping one key.
//
// INVARIANT: Members has no duplicates and is sorted ascending.
type GroupRecord struct {
	Key GroupKey

	// ExitCode comes from the first record observed for the key.
	ExitCode string

	// Members holds the distinct classification codes of the group.
	Members []string

	// Label is the human readable category derived from the entry code.
	// It is used for naming only and never takes part in the key.
	Label string
}

// Title is the name given to the group's artifact: "{label} - {bookkeeping code}".
func (g GroupRecord) Title() string {
	return g.Label + " - " + g.Key.BookkeepingCode
}

// StagedGroup is a group as read back from the staging store.
type StagedGroup struct {
	EntryCode       string
	ExitCode        string
	BookkeepingCode string
	Members         []string
}

// =============================================================================
// CALLER METADATA
// =============================================================================

// Metadata holds the caller supplied fields written into every artifact.
type Metadata struct {
	// Date is written as-is (the CLI formats it as dd/mm/yyyy).
	Date string `koanf:"date" yaml:"date"`

	// Description is free text.
	Description string `koanf:"description" yaml:"description"`

	// TaxType is one of the codes in TaxTypes.
	TaxType string `koanf:"tax_type" yaml:"tax_type"`

	// CreditLinkage and CreditBase are optional; empty when not supplied.
	CreditLinkage string `koanf:"credit_linkage" yaml:"credit_linkage"`
	CreditBase    string `koanf:"credit_base" yaml:"credit_base"`
}

// TaxTypes lists the accepted tax type codes.
var TaxTypes = []string{"C", "N", "T", "S"}
