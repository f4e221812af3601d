// Package testutil builds and reads workbooks for tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// WriteWorkbook saves rows into the first sheet of a new workbook at path.
// rows[i] lands on sheet row i+1.
func WriteWorkbook(t testing.TB, path string, rows [][]string) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for r, row := range rows {
		for c, value := range row {
			if value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellStr(sheet, cell, value))
		}
	}
	require.NoError(t, f.SaveAs(path))
	return path
}

// InputRows returns a classification table with the header on row 6 followed
// by the given data rows (NCM, entry, exit, bookkeeping).
func InputRows(data ...[4]string) [][]string {
	rows := [][]string{
		{"RELATÓRIO DE NCM"},
		{},
		{"Empresa", "ACME"},
		{},
		{},
		{"Produto", "NCM", "CST PIS/COFINS ENTRADA", "CST PIS/COFINS SAÍDA", "CÓDIGO SPED"},
	}
	for _, d := range data {
		rows = append(rows, []string{"item", d[0], d[1], d[2], d[3]})
	}
	return rows
}

// WriteInput writes InputRows(data...) to dir/input.xlsx.
func WriteInput(t testing.TB, dir string, data ...[4]string) string {
	t.Helper()
	return WriteWorkbook(t, filepath.Join(dir, "input.xlsx"), InputRows(data...))
}

// WriteTemplate writes a template with header labels on rows 1, 3, 5 and 7
// to dir/template.xlsx.
func WriteTemplate(t testing.TB, dir string) string {
	t.Helper()
	return WriteWorkbook(t, filepath.Join(dir, "template.xlsx"), [][]string{
		{"", "DATA", "DESCRIÇÃO"},
		{},
		{"", "TÍTULO"},
		{},
		{"", "IMPOSTO", "CST ENTRADA", "VÍNCULO", "BASE", "", "", "CST SAÍDA", "NATUREZA"},
		{},
		{"TIPO", "CÓDIGO"},
	})
}

// ReadRows returns every row of the active sheet of the workbook at path.
func ReadRows(t testing.TB, path string) [][]string {
	t.Helper()

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	require.NoError(t, err)
	return rows
}

// Cell returns a single cell value of the active sheet.
func Cell(t testing.TB, path, cell string) string {
	t.Helper()

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	v, err := f.GetCellValue(f.GetSheetName(f.GetActiveSheetIndex()), cell)
	require.NoError(t, err)
	return v
}
