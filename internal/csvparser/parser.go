// =============================================================================
// NCM Report Consolidator - CSV Parser Module
// =============================================================================
//
// This module reads classification tables exported as CSV instead of XLSX.
// It returns the raw grid of cells; locating the header row and the required
// columns is left to the loader so both input kinds follow the same rules.
//
// FEATURES:
//   - Configurable delimiter (";" by default, as spreadsheet exports in pt-BR
//     locales use it)
//   - UTF-8 (with or without BOM), ISO-8859-1 and Windows-1252 inputs
//   - Variable number of fields per row
//
// =============================================================================

package csvparser

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ginjaninja78/ncm-report/internal/config"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// ReadRows reads every row of a CSV file.
//
// PARAMETERS:
//   - filePath: The path to the CSV file.
//   - settings: Delimiter and encoding settings.
//
// RETURNS:
//   - All rows, in file order. Row i of the slice is row i+1 of the file.
//   - An error if the file cannot be opened, decoded or parsed.
func ReadRows(filePath string, settings config.CSVSettings) ([][]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return Parse(file, settings)
}

// Parse reads every row from r using the given settings.
func Parse(r io.Reader, settings config.CSVSettings) ([][]string, error) {
	dec, err := decoderFor(settings.Encoding)
	if err != nil {
		return nil, err
	}

	csvReader := csv.NewReader(transform.NewReader(bufio.NewReader(r), dec.NewDecoder()))
	configureReader(csvReader, settings)

	// encoding/csv skips blank lines. They are put back as empty rows so the
	// slice index keeps matching the row number a spreadsheet would show.
	var rows [][]string
	lastLine := 0
	for {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}

		line, _ := csvReader.FieldPos(0)
		for i := lastLine + 1; i < line; i++ {
			rows = append(rows, []string{})
		}
		rows = append(rows, record)
		lastLine = recordEndLine(csvReader, record)
	}
	return rows, nil
}

// recordEndLine returns the physical line a record ends on. A quoted field
// may span several lines.
func recordEndLine(reader *csv.Reader, record []string) int {
	last := len(record) - 1
	line, _ := reader.FieldPos(last)
	return line + strings.Count(record[last], "\n")
}

// configureReader configures the CSV reader based on the settings.
func configureReader(reader *csv.Reader, settings config.CSVSettings) {
	switch settings.Delimiter {
	case "\\t", "\t", "tab", "TAB":
		reader.Comma = '\t'
	case "|", "pipe", "PIPE":
		reader.Comma = '|'
	case ",", "comma":
		reader.Comma = ','
	default:
		if len(settings.Delimiter) > 0 {
			reader.Comma = []rune(settings.Delimiter)[0]
		} else {
			reader.Comma = ';'
		}
	}

	// Exports are often ragged; short rows are padded by the loader.
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
}

// decoderFor returns the text decoder for the configured encoding.
// A UTF-8 byte order mark is always honoured and stripped.
func decoderFor(name string) (encoding.Encoding, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "_", "-")) {
	case "", "UTF-8", "UTF8":
		return unicode.UTF8BOM, nil
	case "ISO-8859-1", "ISO8859-1", "LATIN1", "LATIN-1":
		return charmap.ISO8859_1, nil
	case "WINDOWS-1252", "CP1252":
		return charmap.Windows1252, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}
