// Package core provides the typed records stored in the spreadsheet and the
// lenient value types used to move cells in and out of JSON.
//
// Spreadsheet cells are loosely typed: a number may arrive as 12.5, "12.5" or
// "12,5" and a date as an ISO string or a day-first one. Number and Date
// accept all of them and fall back to a blank value instead of failing.
package core

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// ISODate is the layout dates are rendered with on read.
const ISODate = "2006-01-02"

// dateLayouts are tried in order by ParseDate.
var dateLayouts = []string{
	ISODate,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"2/1/2006",
	"2006/01/02",
}

type (
	// Date is a calendar date stored at UTC midnight. The zero value is a blank cell.
	Date struct {
		time.Time
	}

	// Number is an optional numeric cell. The zero value is a blank cell.
	Number struct {
		Value float64
		Valid bool
	}

	// RecordID is the durable identifier of a stored record. Zero means "not yet stored".
	RecordID int64
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf keeps only the calendar date of t, as seen in t's location.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses s with the accepted layouts. Empty or unparsable input
// yields a blank Date.
func ParseDate(s string) Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t)
		}
	}
	return Date{}
}

// IsBlank returns true if the date is empty
func (d Date) IsBlank() bool {
	return d.IsZero()
}

// String renders the date as yyyy-MM-dd, or "" when blank.
func (d Date) String() string {
	if d.IsBlank() {
		return ""
	}
	return d.Format(ISODate)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Numbers, booleans and null all end up blank.
		*d = Date{}
		return nil
	}
	*d = ParseDate(s)
	return nil
}

// NumberOf wraps f as a present value.
func NumberOf(f float64) Number {
	return Number{Value: f, Valid: true}
}

// ParseNumber accepts dot or comma decimal separators ("12.5", "12,5",
// "1.234,5") and an optional euro sign. Anything else is blank.
func ParseNumber(s string) Number {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimPrefix(s, "€"))
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return Number{}
	}
	if strings.Contains(s, ",") {
		// Italian style: dots group thousands, the comma is the decimal mark.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Number{}
	}
	return NumberOf(f)
}

// NumberFromCell converts a raw cell value into a Number.
func NumberFromCell(v any) Number {
	switch val := v.(type) {
	case float64:
		return NumberOf(val)
	case float32:
		return NumberOf(float64(val))
	case int:
		return NumberOf(float64(val))
	case int64:
		return NumberOf(float64(val))
	case string:
		return ParseNumber(val)
	default:
		return Number{}
	}
}

// Or returns the value, or def when the number is blank.
func (n Number) Or(def float64) float64 {
	if !n.Valid {
		return def
	}
	return n.Value
}

func (n Number) String() string {
	if !n.Valid {
		return ""
	}
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(n.Value, 'f', -1, 64)), nil
}

func (n *Number) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*n = NumberFromCell(raw)
	return nil
}

// IsNew reports whether the record has not been stored yet.
func (id RecordID) IsNew() bool {
	return id == 0
}

// UnmarshalJSON accepts 12, "12", "" and null. Web forms send ids as strings.
func (id *RecordID) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case nil:
		*id = 0
	case float64:
		*id = RecordID(val)
	case string:
		val = strings.TrimSpace(val)
		if val == "" {
			*id = 0
			return nil
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return ErrInvalidID
		}
		*id = RecordID(n)
	default:
		return ErrInvalidID
	}
	return nil
}
