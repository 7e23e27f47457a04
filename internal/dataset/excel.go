package dataset

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	// ContentType is the media type of encoded datasets.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	defaultSheet = "Sheet1"
)

// Decode reads the first sheet of an xlsx document. The first row is the header,
// every following non-empty row becomes a Row keyed by header name. Cells keep
// their type: numbers, dates and booleans are not reduced to display text.
func Decode(content []byte) (*Dataset, error) {
	excelFile, err := excelize.OpenReader(bytes.NewReader(content), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("error opening Excel file: %w", err)
	}
	defer excelFile.Close()

	sheets := excelFile.GetSheetList()
	if len(sheets) == 0 {
		return nil, NewErrSchema("workbook has no sheets")
	}

	rows, err := excelFile.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("error reading sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return &Dataset{Columns: []string{}, Rows: []Row{}}, nil
	}

	columns := headerColumns(rows[0])
	cells := newCellReader(excelFile, sheets[0])
	data := make([]Row, 0, len(rows)-1)
	for r, raw := range rows[1:] {
		if isBlank(raw) {
			continue
		}
		row := make(Row, len(columns))
		for i, c := range columns {
			if i >= len(raw) {
				row[c] = ""
				continue
			}
			v, err := cells.value(i+1, r+2, raw[i])
			if err != nil {
				return nil, fmt.Errorf("error reading cell %d of row %d: %w", i+1, r+2, err)
			}
			row[c] = v
		}
		data = append(data, row)
	}

	zap.S().Named("dataset").Debugw("decoded workbook", "sheet", sheets[0], "columns", len(columns), "rows", len(data))

	return New(columns, data)
}

// Encode writes d to a single-sheet xlsx document.
func Encode(d *Dataset) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]any, 0, len(d.Columns))
	for _, c := range d.Columns {
		header = append(header, c)
	}
	if err := f.SetSheetRow(defaultSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("error writing header: %w", err)
	}

	for i, row := range d.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := make([]any, 0, len(d.Columns))
		for _, c := range d.Columns {
			values = append(values, cellValue(row[c]))
		}
		if err := f.SetSheetRow(defaultSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("error writing row %d: %w", i, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("error encoding workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadIdentifiers decodes an xlsx document and returns the values of its
// IDColumn in row order.
func ReadIdentifiers(content []byte) ([]RowID, error) {
	d, err := Decode(content)
	if err != nil {
		return nil, err
	}
	if !d.HasColumn(IDColumn) {
		return nil, NewErrMissingColumn(IDColumn)
	}

	ids := make([]RowID, 0, len(d.Rows))
	for i, row := range d.Rows {
		v := row[IDColumn]
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		id, err := ParseRowID(v)
		if err != nil {
			return nil, NewErrSchema("row %d: malformed identifier %v: %v", i, v, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func headerColumns(header []string) []string {
	columns := make([]string, 0, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		columns = append(columns, h)
	}
	return columns
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func cellValue(v any) any {
	switch t := v.(type) {
	case RowID:
		return int(t)
	case nil:
		return ""
	default:
		return t
	}
}
