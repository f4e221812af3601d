// =============================================================================
// NCM Report Consolidator - Validation
// =============================================================================
//
// This module checks what the caller supplies before any file is touched:
//   - Metadata: date, tax type
//   - Layout: template cell references and row offsets
//
// ERROR HANDLING:
//   - Errors are collected, not returned on the first failure
//   - Each error names the field and the offending value
//   - Validate joins them into one error usable with errors.As
//
// Metadata values are normalized in place: the date is rewritten as
// dd/mm/yyyy and the tax type is upper-cased.
//
// =============================================================================

package validation

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ginjaninja78/ncm-report/internal/config"
	"github.com/ginjaninja78/ncm-report/internal/types"
	"github.com/xuri/excelize/v2"
)

// dateLayouts lists the accepted input formats for the date field.
var dateLayouts = []string{
	config.DateLayout,
	"2006-01-02",
	"02-01-2006",
	"02.01.2006",
}

// Validate checks the metadata and layout of cfg, normalizing the metadata.
//
// RETURNS:
//   - nil when everything is valid.
//   - The joined *types.ValidationError values otherwise.
func Validate(cfg *config.Config) error {
	errs := ValidateMetadata(&cfg.Metadata)
	errs = append(errs, ValidateLayout(cfg.Layout)...)
	if len(errs) == 0 {
		return nil
	}

	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return errors.Join(joined...)
}

// =============================================================================
// METADATA
// =============================================================================

// ValidateMetadata checks and normalizes caller metadata.
// Description, credit linkage and credit base are free text, may be empty
// and are kept exactly as given.
func ValidateMetadata(meta *types.Metadata) []*types.ValidationError {
	var errs []*types.ValidationError

	date, err := NormalizeDate(meta.Date)
	if err != nil {
		errs = append(errs, &types.ValidationError{Field: "date", Value: meta.Date, Message: err.Error()})
	} else {
		meta.Date = date
	}

	taxType := strings.ToUpper(strings.TrimSpace(meta.TaxType))
	switch {
	case taxType == "":
		errs = append(errs, &types.ValidationError{
			Field:   "tax_type",
			Value:   meta.TaxType,
			Message: fmt.Sprintf("is required, one of %s", strings.Join(types.TaxTypes, ", ")),
		})
	case !slices.Contains(types.TaxTypes, taxType):
		errs = append(errs, &types.ValidationError{
			Field:   "tax_type",
			Value:   meta.TaxType,
			Message: fmt.Sprintf("must be one of %s", strings.Join(types.TaxTypes, ", ")),
		})
	default:
		meta.TaxType = taxType
	}

	return errs
}

// NormalizeDate parses value in any accepted layout and formats it as
// dd/mm/yyyy.
func NormalizeDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(config.DateLayout), nil
		}
	}
	return "", fmt.Errorf("is not a valid date (expected dd/mm/yyyy or yyyy-mm-dd)")
}

// =============================================================================
// LAYOUT
// =============================================================================

// ValidateLayout checks the template cell positions.
//
// Every fixed field must be a valid cell reference above the first member
// row, member columns must be valid column names, and the data start row
// must not be below the first member row.
func ValidateLayout(l config.Layout) []*types.ValidationError {
	var errs []*types.ValidationError

	fields := []struct {
		name string
		cell string
	}{
		{"layout.date", l.Date},
		{"layout.description", l.Description},
		{"layout.title", l.Title},
		{"layout.tax_type", l.TaxType},
		{"layout.entry_code", l.EntryCode},
		{"layout.credit_linkage", l.CreditLinkage},
		{"layout.credit_base", l.CreditBase},
		{"layout.exit_code", l.ExitCode},
		{"layout.bookkeeping_code", l.BookkeepingCode},
	}
	for _, f := range fields {
		_, row, err := excelize.CellNameToCoordinates(f.cell)
		if err != nil {
			errs = append(errs, &types.ValidationError{Field: f.name, Value: f.cell, Message: "is not a valid cell reference"})
			continue
		}
		if l.MemberStartRow > 0 && row >= l.MemberStartRow {
			errs = append(errs, &types.ValidationError{
				Field:   f.name,
				Value:   f.cell,
				Message: fmt.Sprintf("overlaps the member rows starting at row %d", l.MemberStartRow),
			})
		}
	}

	for _, c := range []struct {
		name string
		col  string
	}{
		{"layout.member_marker_column", l.MemberMarkerColumn},
		{"layout.member_code_column", l.MemberCodeColumn},
	} {
		if _, err := excelize.ColumnNameToNumber(c.col); err != nil {
			errs = append(errs, &types.ValidationError{Field: c.name, Value: c.col, Message: "is not a valid column name"})
		}
	}
	if strings.EqualFold(l.MemberMarkerColumn, l.MemberCodeColumn) {
		errs = append(errs, &types.ValidationError{
			Field:   "layout.member_code_column",
			Value:   l.MemberCodeColumn,
			Message: "must differ from the member marker column",
		})
	}

	if l.MemberStartRow < 1 {
		errs = append(errs, &types.ValidationError{
			Field:   "layout.member_start_row",
			Value:   fmt.Sprint(l.MemberStartRow),
			Message: "must be at least 1",
		})
	}
	if l.DataStartRow < 1 || (l.MemberStartRow > 0 && l.DataStartRow > l.MemberStartRow) {
		errs = append(errs, &types.ValidationError{
			Field:   "layout.data_start_row",
			Value:   fmt.Sprint(l.DataStartRow),
			Message: fmt.Sprintf("must be between 1 and the member start row (%d)", l.MemberStartRow),
		})
	}

	return errs
}

// Errors returns the validation errors carried by err, whether err is a
// single *types.ValidationError, a joined error from Validate or a wrap of
// either.
func Errors(err error) []*types.ValidationError {
	switch e := err.(type) {
	case nil:
		return nil
	case *types.ValidationError:
		return []*types.ValidationError{e}
	case interface{ Unwrap() []error }:
		var errs []*types.ValidationError
		for _, inner := range e.Unwrap() {
			errs = append(errs, Errors(inner)...)
		}
		return errs
	default:
		return Errors(errors.Unwrap(err))
	}
}

// FormatErrors formats validation errors for display.
func FormatErrors(errs []*types.ValidationError) string {
	if len(errs) == 0 {
		return "No validation errors."
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Validation failed with %d error(s):\n", len(errs)))
	for i, err := range errs {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}
