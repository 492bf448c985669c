package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrParse wraps every failure to read an uploaded file.
var ErrParse = errors.New("unreadable import file")

// Delimiter is the field separator of import and export CSV files.
const Delimiter = ';'

// maxSpreadsheetRows bounds legacy .xls reads.
const maxSpreadsheetRows = 100000

// Format is an import/export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

// FormatFromName picks the format from a file extension; anything that is
// not a spreadsheet is read as CSV.
func FormatFromName(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".xls":
		return FormatXLS
	default:
		return FormatCSV
	}
}

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatXLS:
		return "application/vnd.ms-excel"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Table is a parsed file: the header row plus data rows keyed by header.
type Table struct {
	Header []string
	Rows   []RawRow
}

// ReadTable parses an uploaded file. The first row is the header; blank
// lines are dropped and cells beyond the header are ignored.
func ReadTable(name string, r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var records [][]any
	switch FormatFromName(name) {
	case FormatXLSX:
		records, err = readXLSX(data)
	case FormatXLS:
		records, err = readXLS(data)
	default:
		records, err = readCSV(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return buildTable(records)
}

func buildTable(records [][]any) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: missing header row", ErrParse)
	}
	header := make([]string, len(records[0]))
	named := 0
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(cellString(h), "\ufeff"))
		if header[i] != "" {
			named++
		}
	}
	if named == 0 {
		return nil, fmt.Errorf("%w: missing header row", ErrParse)
	}

	t := &Table{Header: header, Rows: make([]RawRow, 0, len(records)-1)}
	for _, rec := range records[1:] {
		if blankRecord(rec) {
			continue
		}
		row := make(RawRow, len(header))
		for i, name := range header {
			if name == "" || i >= len(rec) {
				continue
			}
			row[name] = rec[i]
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func blankRecord(rec []any) bool {
	for _, c := range rec {
		if !isBlank(c) {
			return false
		}
	}
	return true
}

func stringCells(rows [][]string) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		cells := make([]any, len(row))
		for j, c := range row {
			cells[j] = c
		}
		out[i] = cells
	}
	return out
}

// decodeText returns data as UTF-8. A byte order mark selects UTF-8 or
// UTF-16; text that is not valid UTF-8 is read as Windows-1252, which is
// what spreadsheet tools on Spanish locales emit.
func decodeText(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF}) ||
		bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		return out, err
	}
	if utf8.Valid(data) {
		return data, nil
	}
	out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
	return out, err
}

func readCSV(data []byte) ([][]any, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(bytes.NewReader(text))
	cr.Comma = Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	return stringCells(rows), nil
}

// readXLSX returns numeric cells as float64, so date cells reach the mapper
// as serial numbers with their time of day intact.
func readXLSX(data []byte) ([][]any, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("no worksheet found")
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}

	out := make([][]any, len(rows))
	for r, row := range rows {
		cells := make([]any, len(row))
		for c, v := range row {
			cells[c] = v
			if r == 0 || strings.TrimSpace(v) == "" {
				continue
			}
			ref, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, err
			}
			typ, err := f.GetCellType(sheet, ref)
			if err != nil {
				return nil, err
			}
			// Numbers are stored without a type attribute.
			if typ != excelize.CellTypeNumber && typ != excelize.CellTypeUnset {
				continue
			}
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				cells[c] = n
			}
		}
		out[r] = cells
	}
	return out, nil
}

// readXLS reads the legacy format. The reader renders cells with a custom
// number format as UTC RFC 3339 times; those go back to serial numbers so
// they coerce like any other spreadsheet date.
func readXLS(data []byte) ([][]any, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, err
	}
	if wb.NumSheets() == 0 {
		return nil, fmt.Errorf("no worksheet found")
	}
	out := stringCells(wb.ReadAllCells(maxSpreadsheetRows))
	for r, row := range out {
		if r == 0 {
			continue
		}
		for c, v := range row {
			s := v.(string)
			if !strings.HasSuffix(s, "Z") {
				continue
			}
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				row[c] = wallClockSerial(t)
			}
		}
	}
	return out, nil
}

// WriteTable writes header and rows in format f. CSV output carries a UTF-8
// byte order mark and uses Delimiter.
func WriteTable(w io.Writer, f Format, sheet string, header []string, rows [][]string) error {
	switch f {
	case FormatXLSX:
		return writeXLSX(w, sheet, header, rows)
	case FormatCSV:
		return writeCSV(w, header, rows)
	default:
		return fmt.Errorf("unsupported output format %q", f)
	}
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.Comma = Delimiter
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

func writeXLSX(w io.Writer, sheet string, header []string, rows [][]string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheet = "Sheet1"
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	writeRow := func(n int, cells []string) error {
		ref, err := excelize.CoordinatesToCellName(1, n)
		if err != nil {
			return err
		}
		values := make([]any, len(cells))
		for i, c := range cells {
			values[i] = c
		}
		return f.SetSheetRow(sheet, ref, &values)
	}

	if err := writeRow(1, header); err != nil {
		return err
	}
	for i, row := range rows {
		if err := writeRow(i+2, row); err != nil {
			return err
		}
	}
	return f.Write(w)
}
