// =============================================================================
// NCM Report Consolidator - Classification Table Loader
// =============================================================================
//
// This module reads the raw classification table and turns it into
// normalized RawRecord values.
//
// TABLE STRUCTURE (header on row 6 by default):
//
//   | ... | NCM        | CST PIS/COFINS ENTRADA | CST PIS/COFINS SAÍDA | CÓDIGO SPED | ... |
//   |-----|------------|------------------------|----------------------|-------------|-----|
//   |     | 1234.56.78 | 73                     | 06                   | 101         |     |
//   |     | 2202.10.00 | 50                     | 01                   | 205         |     |
//
// Rows above the header are report titles and are ignored. Columns may appear
// in any order and extra columns are ignored.
//
// NORMALIZATION:
//   - Absent cells become ""
//   - Every value is trimmed
//   - Every '.' is removed from the NCM column ("1234.56.78" -> "12345678")
//   - Rows with no value at all are skipped
//
// =============================================================================

package xlsxparser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ginjaninja78/ncm-report/internal/config"
	"github.com/ginjaninja78/ncm-report/internal/csvparser"
	"github.com/ginjaninja78/ncm-report/internal/types"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// REQUIRED COLUMNS
// =============================================================================

// Column headers, matched exactly after trimming and NFC normalization.
const (
	ColumnClassification = "NCM"
	ColumnEntryCode      = "CST PIS/COFINS ENTRADA"
	ColumnExitCode       = "CST PIS/COFINS SAÍDA"
	ColumnBookkeeping    = "CÓDIGO SPED"
)

// RequiredColumns lists the headers every input must have, in report order.
var RequiredColumns = []string{
	ColumnClassification,
	ColumnEntryCode,
	ColumnExitCode,
	ColumnBookkeeping,
}

// columnIndex holds the 0-based position of each required column.
type columnIndex struct {
	classification int
	entry          int
	exit           int
	bookkeeping    int
}

// =============================================================================
// LOADER FUNCTIONS
// =============================================================================

// Load reads the classification table at path.
//
// PARAMETERS:
//   - path: an .xlsx workbook or a .csv export.
//   - settings: header row, sheet and CSV options.
//
// RETURNS:
//   - The normalized records, in source order.
//   - A *types.LoadError if the source is unreadable or a required column is
//     missing.
func Load(path string, settings config.InputSettings) ([]types.RawRecord, error) {
	var (
		rows [][]string
		err  error
	)

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		rows, err = csvparser.ReadRows(path, settings.CSV)
	} else {
		rows, err = readWorkbook(path, settings.Sheet)
	}
	if err != nil {
		return nil, &types.LoadError{Source: path, Err: err}
	}

	return FromRows(path, rows, settings.HeaderRow)
}

// readWorkbook returns every row of the selected sheet.
func readWorkbook(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if sheet == "" {
		return nil, errors.New("workbook has no sheets")
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of sheet %q: %w", sheet, err)
	}
	return rows, nil
}

// FromRows builds records from a raw grid of cells.
//
// PARAMETERS:
//   - source: name used in errors.
//   - rows: the grid; rows[i] is row i+1 of the sheet.
//   - headerRow: 1-indexed header row. Data starts on the next row.
func FromRows(source string, rows [][]string, headerRow int) ([]types.RawRecord, error) {
	if headerRow < 1 {
		return nil, &types.LoadError{Source: source, Err: fmt.Errorf("header row must be at least 1, got %d", headerRow)}
	}
	if len(rows) < headerRow {
		return nil, &types.LoadError{
			Source:         source,
			MissingColumns: RequiredColumns,
			Err:            fmt.Errorf("table has %d rows, header expected on row %d", len(rows), headerRow),
		}
	}

	cols, missing := locateColumns(rows[headerRow-1])
	if len(missing) > 0 {
		return nil, &types.LoadError{Source: source, MissingColumns: missing}
	}

	records := make([]types.RawRecord, 0, len(rows)-headerRow)
	for i := headerRow; i < len(rows); i++ {
		row := rows[i]
		if isRowEmpty(row) {
			continue
		}

		getCell := func(index int) string {
			if index < len(row) {
				return strings.TrimSpace(row[index])
			}
			return ""
		}

		records = append(records, types.RawRecord{
			ClassificationCode: NormalizeClassificationCode(getCell(cols.classification)),
			EntryCode:          getCell(cols.entry),
			ExitCode:           getCell(cols.exit),
			BookkeepingCode:    getCell(cols.bookkeeping),
			SourceRow:          i + 1,
		})
	}

	return records, nil
}

// NormalizeClassificationCode removes every '.' from an NCM code.
func NormalizeClassificationCode(code string) string {
	return strings.ReplaceAll(code, ".", "")
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// locateColumns finds the required headers. The first occurrence wins when a
// header is repeated.
func locateColumns(header []string) (columnIndex, []string) {
	positions := make(map[string]int, len(header))
	for i, name := range header {
		key := normalizeHeader(name)
		if _, seen := positions[key]; !seen {
			positions[key] = i
		}
	}

	var missing []string
	lookup := func(name string) int {
		pos, ok := positions[normalizeHeader(name)]
		if !ok {
			missing = append(missing, name)
			return -1
		}
		return pos
	}

	idx := columnIndex{
		classification: lookup(ColumnClassification),
		entry:          lookup(ColumnEntryCode),
		exit:           lookup(ColumnExitCode),
		bookkeeping:    lookup(ColumnBookkeeping),
	}
	return idx, missing
}

// normalizeHeader trims a header and puts it in NFC form, so "SAÍDA" typed
// with a combining accent still matches.
func normalizeHeader(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// isRowEmpty checks if a row contains only empty cells.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
