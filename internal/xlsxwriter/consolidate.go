// =============================================================================
// NCM Report Consolidator - Consolidation
// =============================================================================
//
// Consolidate merges the group workbooks of a run into the final workbook.
//
// PER ARTIFACT:
//   1. Find the populated extent: the last row holding a non-empty cell
//   2. Take the sheet width: the used range, or the widest row when the
//      workbook does not record one
//   3. Copy rows [DataStartRow, extent] over the full width to the next free
//      rows of the final workbook
//
// Cells are copied with their raw value, type, formula and style, so numbers
// and dates in template rows stay numbers and dates. Artifacts and the final
// workbook are all copies of the same template and share its style table.
//
// =============================================================================

package xlsxwriter

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// ConsolidateOptions controls Consolidate.
type ConsolidateOptions struct {
	// Progress, when set, is called after each artifact with the number of
	// artifacts processed so far and the total.
	Progress func(done, total int)

	Logger *zap.Logger
}

// ConsolidateStats summarizes a consolidation.
type ConsolidateStats struct {
	// Artifacts is the number of group workbooks read.
	Artifacts int

	// Empty counts artifacts with no populated row at or below the data start row.
	Empty int

	// RowsCopied is the number of rows written to the final workbook.
	RowsCopied int

	// LastRow is the last row written, or 0 when nothing was copied.
	LastRow int
}

// Consolidate builds the final workbook at outPath from a copy of the template
// and the data rows of every artifact, in the order given.
//
// For each artifact the populated extent is found by scanning backward for the
// last row holding a non-empty cell. Rows [DataStartRow, extent] are copied
// cell by cell, blanks included, to the next free rows of the final workbook.
// Header rows above DataStartRow are never copied. An artifact whose path
// equals outPath is skipped.
func (t *Template) Consolidate(artifacts []string, outPath string, opts ConsolidateOptions) (ConsolidateStats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var stats ConsolidateStats

	final, finalSheet, err := t.open()
	if err != nil {
		return stats, err
	}
	defer final.Close()

	start := t.layout.DataStartRow
	cursor := start

	for i, path := range artifacts {
		if samePath(path, outPath) {
			logger.Debug("skipping final output in artifact list", zap.String("path", path))
			continue
		}

		copied, err := copyArtifact(final, finalSheet, path, start, cursor)
		if err != nil {
			return stats, err
		}
		stats.Artifacts++

		if copied == 0 {
			stats.Empty++
			logger.Debug("artifact has no data rows", zap.String("path", path))
		} else {
			cursor += copied
			stats.RowsCopied += copied
			logger.Debug("consolidated artifact",
				zap.String("path", filepath.Base(path)),
				zap.Int("rows", copied))
		}

		if opts.Progress != nil {
			opts.Progress(i+1, len(artifacts))
		}
	}

	if stats.RowsCopied > 0 {
		stats.LastRow = cursor - 1
	}

	if err := final.SaveAs(outPath); err != nil {
		return stats, fmt.Errorf("failed to save %s: %w", outPath, err)
	}
	return stats, nil
}

// copyArtifact copies rows [start, extent] of the artifact at path into
// final starting at row cursor and returns the number of rows copied.
func copyArtifact(final *excelize.File, finalSheet, path string, start, cursor int) (int, error) {
	src, err := excelize.OpenFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open artifact %s: %w", path, err)
	}
	defer src.Close()

	sheet := src.GetSheetName(src.GetActiveSheetIndex())
	rows, err := src.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return 0, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	extent := lastPopulatedRow(rows)
	if extent < start {
		return 0, nil
	}

	width := sheetWidth(src, sheet, rows)
	for r := start; r <= extent; r++ {
		for c := 1; c <= width; c++ {
			if err := copyCell(src, sheet, final, finalSheet, c, r, cursor); err != nil {
				return 0, fmt.Errorf("failed to copy artifact %s: %w", path, err)
			}
		}
		cursor++
	}
	return extent - start + 1, nil
}

// sheetWidth returns the number of columns in use: the right edge of the
// recorded used range or of the widest row, whichever is larger.
func sheetWidth(f *excelize.File, sheet string, rows [][]string) int {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}

	ref, err := f.GetSheetDimension(sheet)
	if err != nil || ref == "" {
		return width
	}
	parts := strings.Split(ref, ":")
	if col, _, err := excelize.CellNameToCoordinates(parts[len(parts)-1]); err == nil && col > width {
		width = col
	}
	return width
}

// copyCell copies the cell at (col, srcRow) of src to (col, dstRow) of dst.
// Empty source cells clear the destination.
func copyCell(src *excelize.File, srcSheet string, dst *excelize.File, dstSheet string, col, srcRow, dstRow int) error {
	from, err := excelize.CoordinatesToCellName(col, srcRow)
	if err != nil {
		return err
	}
	to, err := excelize.CoordinatesToCellName(col, dstRow)
	if err != nil {
		return err
	}

	style, err := src.GetCellStyle(srcSheet, from)
	if err != nil {
		return err
	}
	if err := dst.SetCellStyle(dstSheet, to, to, style); err != nil {
		return err
	}

	formula, err := src.GetCellFormula(srcSheet, from)
	if err != nil {
		return err
	}
	if formula != "" {
		return dst.SetCellFormula(dstSheet, to, formula)
	}

	value, err := src.GetCellValue(srcSheet, from, excelize.Options{RawCellValue: true})
	if err != nil {
		return err
	}
	typ, err := src.GetCellType(srcSheet, from)
	if err != nil {
		return err
	}

	switch typ {
	case excelize.CellTypeBool:
		return dst.SetCellBool(dstSheet, to, value == "1" || strings.EqualFold(value, "true"))
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return dst.SetCellFloat(dstSheet, to, n, -1, 64)
		}
	}
	return dst.SetCellStr(dstSheet, to, value)
}

// lastPopulatedRow returns the 1-indexed last row with a non-empty cell, or 0.
func lastPopulatedRow(rows [][]string) int {
	for r := len(rows) - 1; r >= 0; r-- {
		for _, cell := range rows[r] {
			if strings.TrimSpace(cell) != "" {
				return r + 1
			}
		}
	}
	return 0
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
