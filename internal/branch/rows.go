package branch

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Row is one result row keyed by logical column name. Different drivers
// return differing casing for the same logical column, so lookups are
// case-insensitive.
type Row map[string]interface{}

// Lookup returns the value for key, trying an exact match first and falling
// back to a case-insensitive scan.
func (r Row) Lookup(key string) (interface{}, bool) {
	if v, ok := r[key]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// String returns the value for key rendered as a string.
func (r Row) String(key string) string {
	v, ok := r.Lookup(key)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format("2006-01-02")
	default:
		return fmt.Sprint(t)
	}
}

// Float returns the value for key coerced to float64.
func (r Row) Float(key string) (float64, bool) {
	v, ok := r.Lookup(key)
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Time returns the value for key coerced via NormalizeTimestamp.
func (r Row) Time(key string) (time.Time, bool) {
	v, ok := r.Lookup(key)
	if !ok || v == nil {
		return time.Time{}, false
	}
	t, err := NormalizeTimestamp(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ScanRows drains sql rows into Row maps, preserving the driver's column
// naming as-is. The limit bounds memory; zero means no limit.
func ScanRows(rows *sql.Rows, limit int) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
