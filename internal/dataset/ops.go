package dataset

import (
	"cmp"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Dedup removes rows whose values over columns are identical to an earlier row.
// The first occurrence wins and encounter order is kept.
func Dedup(rows []Row, columns []string) []Row {
	seen := make(map[string]struct{}, len(rows))
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		key := rowKey(row, columns)
		if _, found := seen[key]; found {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out
}

// SortStable orders rows ascending by the given key columns. Rows with equal
// keys keep their relative order.
func SortStable(rows []Row, keys ...string) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			if c := CompareCells(rows[i][k], rows[j][k]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

// CompareCells orders cell values: times chronologically, numbers
// numerically and text lexically. Across kinds, times come before numbers,
// numbers before text, and blank cells sort last.
func CompareCells(a, b any) int {
	ka, kb := cellKind(a), cellKind(b)
	if ka != kb {
		return cmp.Compare(ka, kb)
	}
	switch ka {
	case kindTime:
		return a.(time.Time).Compare(b.(time.Time))
	case kindNumber:
		fa, _ := number(a)
		fb, _ := number(b)
		return cmp.Compare(fa, fb)
	case kindBlank:
		return 0
	default:
		return strings.Compare(Format(a), Format(b))
	}
}

const (
	kindTime = iota
	kindNumber
	kindText
	kindBlank
)

func cellKind(v any) int {
	switch t := v.(type) {
	case nil:
		return kindBlank
	case string:
		if strings.TrimSpace(t) == "" {
			return kindBlank
		}
		return kindText
	case time.Time:
		return kindTime
	}
	if _, ok := number(v); ok {
		return kindNumber
	}
	return kindText
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case RowID:
		return float64(t), true
	default:
		return 0, false
	}
}

// Format renders a cell value the way it is compared and exported.
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

func rowKey(row Row, columns []string) string {
	var sb strings.Builder
	for _, c := range columns {
		v := row[c]
		fmt.Fprintf(&sb, "%T\x1f%s\x1e", v, Format(v))
	}
	return sb.String()
}
