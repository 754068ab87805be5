package sheets

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"campi/internal/core"
)

// serialEpoch is day zero of spreadsheet serial dates (Sheets and Excel
// agree from March 1900 on).
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// SerialToTime converts a spreadsheet serial date to UTC midnight of that day.
func SerialToTime(serial float64) time.Time {
	days := int(math.Floor(serial))
	return serialEpoch.AddDate(0, 0, days)
}

// TimeToSerial converts the calendar date of t to a spreadsheet serial date.
func TimeToSerial(t time.Time) float64 {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return math.Round(d.Sub(serialEpoch).Hours() / 24)
}

// NormalizeCell converts a raw backend value into the value type of kind:
// string for text, float64 for numbers (non-numeric text is kept as is),
// time.Time for dates. Blank cells become nil.
func NormalizeCell(kind ColumnKind, v any) any {
	if IsBlank(v) {
		return nil
	}
	switch kind {
	case KindDate:
		switch val := v.(type) {
		case time.Time:
			return core.DateOf(val).Time
		case float64:
			return SerialToTime(val)
		case int64:
			return SerialToTime(float64(val))
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				return SerialToTime(f)
			}
			if d := core.ParseDate(val); !d.IsBlank() {
				return d.Time
			}
			return nil
		}
		return nil
	case KindNumber, KindCurrency:
		if n := core.NumberFromCell(v); n.Valid {
			return n.Value
		}
		return CellString(v)
	default:
		return CellString(v)
	}
}

// NormalizeRow normalizes values against the schema columns, padding short
// rows with blanks and dropping anything past the last column.
func NormalizeRow(s Schema, values []any) []any {
	out := make([]any, len(s.Columns))
	for i, c := range s.Columns {
		if i < len(values) {
			out[i] = NormalizeCell(c.Kind, values[i])
		}
	}
	return out
}

// CellString renders a cell as text the way a spreadsheet would show it unformatted.
func CellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return core.DateOf(val).String()
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// IsBlank reports whether a cell is empty.
func IsBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case time.Time:
		return val.IsZero()
	default:
		return false
	}
}

// ParseID reads a durable id out of a raw ID cell. ok is false for blanks
// and anything that is not a positive integer.
func ParseID(v any) (int64, bool) {
	switch val := v.(type) {
	case float64:
		if val > 0 && val == math.Trunc(val) {
			return int64(val), true
		}
	case int64:
		return val, val > 0
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil && n > 0 {
			return n, true
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil && f > 0 && f == math.Trunc(f) {
			return int64(f), true
		}
	}
	return 0, false
}

// HighWater returns the largest of a table's stored id mark and the ids
// still present. New rows take HighWater+1, so the id of a deleted row is
// never handed out again.
func HighWater(stored int64, ids ...int64) int64 {
	max := stored
	for _, id := range ids {
		if id > max {
			max = id
		}
	}
	return max
}
