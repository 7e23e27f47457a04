package dataset

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// builtInDateFormats are the number format ids excelize and Excel reserve for
// dates and times, including the CJK variants.
var builtInDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 18: true, 19: true, 20: true, 21: true, 22: true,
	27: true, 28: true, 29: true, 30: true, 31: true, 32: true, 33: true, 34: true, 35: true, 36: true,
	45: true, 46: true, 47: true,
	50: true, 51: true, 52: true, 53: true, 54: true, 55: true, 56: true, 57: true, 58: true,
}

var isoDateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// cellReader turns raw cell text into typed values using the cell type and
// number format stored in the workbook.
type cellReader struct {
	file       *excelize.File
	sheet      string
	date1904   bool
	dateStyles map[int]bool
}

func newCellReader(f *excelize.File, sheet string) *cellReader {
	r := &cellReader{file: f, sheet: sheet, dateStyles: map[int]bool{}}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		r.date1904 = *props.Date1904
	}
	return r
}

// value reads the cell at the 1-based col and row. Numbers come back as
// int64 or float64, date-formatted numbers as time.Time, everything else as
// the cell text.
func (r *cellReader) value(col, row int, raw string) (any, error) {
	if raw == "" {
		return "", nil
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return nil, err
	}
	typ, err := r.file.GetCellType(r.sheet, cell)
	if err != nil {
		return nil, err
	}

	switch typ {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true"), nil
	case excelize.CellTypeDate:
		for _, layout := range isoDateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, nil
			}
		}
		return raw, nil
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
	default:
		return raw, nil
	}

	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw, nil
	}
	isDate, err := r.isDate(cell)
	if err != nil {
		return nil, err
	}
	if isDate {
		return excelize.ExcelDateToTime(n, r.date1904)
	}
	if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
		return int64(n), nil
	}
	return n, nil
}

func (r *cellReader) isDate(cell string) (bool, error) {
	idx, err := r.file.GetCellStyle(r.sheet, cell)
	if err != nil {
		return false, err
	}
	if known, found := r.dateStyles[idx]; found {
		return known, nil
	}
	style, err := r.file.GetStyle(idx)
	if err != nil {
		// no usable style record, the cell keeps the general format
		r.dateStyles[idx] = false
		return false, nil
	}
	isDate := builtInDateFormats[style.NumFmt]
	if style.CustomNumFmt != nil && *style.CustomNumFmt != "" {
		isDate = hasDateTokens(*style.CustomNumFmt)
	}
	r.dateStyles[idx] = isDate
	return isDate, nil
}

// hasDateTokens reports whether the first section of a number format uses
// date or time placeholders. Quoted text, escapes and colour blocks are skipped.
func hasDateTokens(format string) bool {
	quoted := false
	for i := 0; i < len(format); i++ {
		ch := format[i]
		switch {
		case ch == '"':
			quoted = !quoted
		case quoted:
		case ch == '\\' || ch == '_' || ch == '*':
			i++
		case ch == ';':
			return false
		case ch == '[':
			end := strings.IndexByte(format[i:], ']')
			if end < 0 {
				return false
			}
			switch strings.ToLower(format[i+1 : i+end]) {
			case "h", "hh", "m", "mm", "s", "ss":
				return true
			}
			i += end
		default:
			switch ch | 0x20 {
			case 'y', 'm', 'd', 'h', 's':
				return true
			}
		}
	}
	return false
}
