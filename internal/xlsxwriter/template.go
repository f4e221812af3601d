// =============================================================================
// NCM Report Consolidator - XLSX Writer Module
// =============================================================================
//
// This module produces every workbook of a run from one template:
//   - Expand fills a copy of the template for a single group
//   - Consolidate concatenates the data rows of the group workbooks into
//     the final workbook
//
// TEMPLATE LAYOUT (defaults, see config.Layout):
//
//        A      B          C            D         E       ...  H       I
//   2           date       description
//   4           title
//   6           tax type   entry code   linkage   base         exit    bookkeeping
//   8    NCM    member 1
//   9    NCM    member 2
//   ...
//
// All writes go to the active sheet of the template. Expand stores values as
// text, so codes such as "04012010" keep their leading zeros.
//
// =============================================================================

package xlsxwriter

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ginjaninja78/ncm-report/internal/config"
	"github.com/ginjaninja78/ncm-report/internal/types"
	"github.com/xuri/excelize/v2"
)

// Template is a loaded template workbook. Every Expand and Consolidate call
// starts from a fresh copy, so the template on disk is never modified.
type Template struct {
	path   string
	data   []byte
	layout config.Layout
}

// LoadTemplate reads and verifies the template workbook.
//
// RETURNS:
//   - The loaded template.
//   - A *types.TemplateError if the file is missing or is not a workbook.
func LoadTemplate(path string, layout config.Layout) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.TemplateError{Path: path, Err: err}
	}

	t := &Template{path: path, data: data, layout: layout}

	f, _, err := t.open()
	if err != nil {
		return nil, err
	}
	f.Close()

	return t, nil
}

// Path returns the file the template was loaded from.
func (t *Template) Path() string { return t.path }

// open returns a fresh in-memory copy of the template and its active sheet.
func (t *Template) open() (*excelize.File, string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(t.data))
	if err != nil {
		return nil, "", &types.TemplateError{Path: t.path, Err: err}
	}
	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		f.Close()
		return nil, "", &types.TemplateError{Path: t.path, Err: fmt.Errorf("workbook has no sheets")}
	}
	return f, sheet, nil
}

// =============================================================================
// EXPANSION
// =============================================================================

// Expand fills a copy of the template with one group and saves it to outPath.
//
// PARAMETERS:
//   - group: the group as read back from staging.
//   - title: the artifact title, "{label} - {bookkeeping code}".
//   - meta: caller metadata written into every artifact.
//   - outPath: destination file.
//
// Member rows are written contiguously from Layout.MemberStartRow, in the
// order of group.Members.
func (t *Template) Expand(group types.StagedGroup, title string, meta types.Metadata, outPath string) error {
	f, sheet, err := t.open()
	if err != nil {
		return err
	}
	defer f.Close()

	l := t.layout
	fields := []struct {
		cell  string
		value string
	}{
		{l.Date, meta.Date},
		{l.Description, meta.Description},
		{l.Title, title},
		{l.TaxType, meta.TaxType},
		{l.EntryCode, group.EntryCode},
		{l.CreditLinkage, meta.CreditLinkage},
		{l.CreditBase, meta.CreditBase},
		{l.ExitCode, group.ExitCode},
		{l.BookkeepingCode, group.BookkeepingCode},
	}
	for _, field := range fields {
		if err := f.SetCellStr(sheet, field.cell, field.value); err != nil {
			return fmt.Errorf("failed to write %s: %w", field.cell, err)
		}
	}

	markerCol, err := excelize.ColumnNameToNumber(l.MemberMarkerColumn)
	if err != nil {
		return fmt.Errorf("invalid member marker column: %w", err)
	}
	codeCol, err := excelize.ColumnNameToNumber(l.MemberCodeColumn)
	if err != nil {
		return fmt.Errorf("invalid member code column: %w", err)
	}

	for i, member := range group.Members {
		row := l.MemberStartRow + i
		if err := setCell(f, sheet, markerCol, row, l.MemberMarker); err != nil {
			return err
		}
		if err := setCell(f, sheet, codeCol, row, member); err != nil {
			return err
		}
	}

	if err := f.SaveAs(outPath); err != nil {
		return fmt.Errorf("failed to save %s: %w", outPath, err)
	}
	return nil
}

// setCell writes a string value at 1-indexed (col, row).
func setCell(f *excelize.File, sheet string, col, row int, value string) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := f.SetCellStr(sheet, cell, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", cell, err)
	}
	return nil
}
