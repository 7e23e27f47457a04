package dataset

import (
	"strconv"
	"strings"
)

// AssignIdentifiers returns a copy of d with a leading IDColumn holding
// 0..N-1 in row order. It must run exactly once per job, before Partition.
func AssignIdentifiers(d *Dataset) (*Dataset, error) {
	if d.HasColumn(IDColumn) {
		return nil, NewErrIdentifierCollision(IDColumn)
	}

	columns := append([]string{IDColumn}, d.Columns...)
	rows := make([]Row, 0, len(d.Rows))
	for i, row := range d.Rows {
		r := make(Row, len(row)+1)
		for k, v := range row {
			r[k] = v
		}
		r[IDColumn] = RowID(i)
		rows = append(rows, r)
	}

	return &Dataset{Columns: columns, Rows: rows}, nil
}

// RowIDOf reads the identifier of an identified row.
func RowIDOf(row Row) (RowID, bool) {
	v, found := row[IDColumn]
	if !found {
		return 0, false
	}
	id, err := ParseRowID(v)
	if err != nil {
		return 0, false
	}
	return id, true
}

func parseRowIDString(s string) (RowID, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return RowID(n), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return ParseRowID(f)
}
