package dataset

import (
	"fmt"
	"slices"
)

// IDColumn is the synthetic identifier column stamped on every row before
// the dataset is partitioned.
const IDColumn = "id"

// RowID identifies a row of the ingested dataset. It is the row position at
// ingestion time and is never renumbered.
type RowID int

// Row maps column names to cell values.
type Row map[string]any

// Dataset is an ordered sequence of rows sharing the same column set.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// New builds a dataset and checks that every row carries exactly the given columns.
func New(columns []string, rows []Row) (*Dataset, error) {
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if _, found := seen[c]; found {
			return nil, NewErrDuplicateColumn(c)
		}
		seen[c] = struct{}{}
	}

	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, NewErrNonUniformRow(i, len(row), len(columns))
		}
		for k := range row {
			if _, found := seen[k]; !found {
				return nil, NewErrUnknownColumn(i, k)
			}
		}
	}

	return &Dataset{Columns: columns, Rows: rows}, nil
}

// FromRecords builds a dataset from loosely shaped records. Columns named in
// order come first when some record has them, the rest follow sorted by name.
// Cells missing from a record are left empty.
func FromRecords(records []map[string]any, order ...string) *Dataset {
	present := map[string]struct{}{}
	for _, r := range records {
		for k := range r {
			present[k] = struct{}{}
		}
	}

	columns := make([]string, 0, len(present))
	for _, c := range order {
		if _, found := present[c]; found && !slices.Contains(columns, c) {
			columns = append(columns, c)
		}
	}
	rest := make([]string, 0, len(present))
	for k := range present {
		if !slices.Contains(columns, k) {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	columns = append(columns, rest...)

	rows := make([]Row, 0, len(records))
	for _, r := range records {
		row := make(Row, len(columns))
		for _, c := range columns {
			row[c] = r[c]
		}
		rows = append(rows, row)
	}

	return &Dataset{Columns: columns, Rows: rows}
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

func (d *Dataset) HasColumn(name string) bool {
	return slices.Contains(d.Columns, name)
}

// Slice returns the rows in [from, to). The returned dataset shares rows with d.
func (d *Dataset) Slice(from, to int) Dataset {
	return Dataset{Columns: d.Columns, Rows: d.Rows[from:to]}
}

// Records returns the rows as plain maps restricted to the dataset columns.
func (d *Dataset) Records() []map[string]any {
	out := make([]map[string]any, 0, len(d.Rows))
	for _, row := range d.Rows {
		rec := make(map[string]any, len(d.Columns))
		for _, c := range d.Columns {
			rec[c] = row[c]
		}
		out = append(out, rec)
	}
	return out
}

// Project copies row keeping only columns.
func Project(row Row, columns []string) Row {
	out := make(Row, len(columns))
	for _, c := range columns {
		out[c] = row[c]
	}
	return out
}

// Without returns columns minus the dropped names, preserving order.
func Without(columns []string, dropped ...string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if !slices.Contains(dropped, c) {
			out = append(out, c)
		}
	}
	return out
}

// MoveToFront returns columns with name first when present.
func MoveToFront(columns []string, name string) []string {
	if name == "" || !slices.Contains(columns, name) {
		return columns
	}
	return append([]string{name}, Without(columns, name)...)
}

// ParseRowID converts a cell value coming back from the workflow into a RowID.
// Spreadsheet round trips may turn integers into "3" or "3.0".
func ParseRowID(v any) (RowID, error) {
	switch t := v.(type) {
	case RowID:
		return t, nil
	case int:
		return RowID(t), nil
	case int64:
		return RowID(t), nil
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("identifier %v is not an integer", t)
		}
		return RowID(t), nil
	case string:
		return parseRowIDString(t)
	default:
		return 0, fmt.Errorf("identifier of type %T is not supported", v)
	}
}
