package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2024-03-05", "2024-03-05"},
		{" 2024-03-05 ", "2024-03-05"},
		{"2024-03-05T10:30:00Z", "2024-03-05"},
		{"05/03/2024", "2024-03-05"},
		{"5/3/2024", "2024-03-05"},
		{"", ""},
		{"yesterday", ""},
		{"2024-13-01", ""},
	}
	for _, tc := range cases {
		if got := ParseDate(tc.in).String(); got != tc.want {
			t.Fatalf("%q expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestDateJSON(t *testing.T) {
	var d Date
	if err := json.Unmarshal([]byte(`"2023-11-20"`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Year() != 2023 || d.Month() != time.November || d.Day() != 20 {
		t.Fatalf("unexpected date %v", d)
	}
	out, _ := json.Marshal(d)
	if string(out) != `"2023-11-20"` {
		t.Fatalf("marshal got %s", out)
	}

	for _, in := range []string{`null`, `""`, `42`, `"not a date"`} {
		var b Date
		if err := json.Unmarshal([]byte(in), &b); err != nil {
			t.Fatalf("%s: unexpected error %v", in, err)
		}
		if !b.IsBlank() {
			t.Fatalf("%s: expected blank date, got %v", in, b)
		}
	}
	out, _ = json.Marshal(Date{})
	if string(out) != `""` {
		t.Fatalf("blank date marshal got %s", out)
	}
}

func TestParseNumber(t *testing.T) {
	cases := []struct {
		in    string
		want  float64
		valid bool
	}{
		{"12", 12, true},
		{"12.5", 12.5, true},
		{"12,5", 12.5, true},
		{"1.234,50", 1234.5, true},
		{"€ 3,20", 3.2, true},
		{" -4 ", -4, true},
		{"", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
	}
	for _, tc := range cases {
		got := ParseNumber(tc.in)
		if got.Valid != tc.valid || got.Value != tc.want {
			t.Fatalf("%q expected (%v,%v), got (%v,%v)", tc.in, tc.want, tc.valid, got.Value, got.Valid)
		}
	}
}

func TestNumberJSON(t *testing.T) {
	var v struct {
		A Number `json:"a"`
		B Number `json:"b"`
		C Number `json:"c"`
		D Number `json:"d"`
	}
	if err := json.Unmarshal([]byte(`{"a": 2.5, "b": "3,5", "c": "", "d": null}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A != NumberOf(2.5) || v.B != NumberOf(3.5) || v.C.Valid || v.D.Valid {
		t.Fatalf("unexpected values: %+v", v)
	}
	out, _ := json.Marshal(v)
	if string(out) != `{"a":2.5,"b":3.5,"c":null,"d":null}` {
		t.Fatalf("marshal got %s", out)
	}
}

func TestRecordIDJSON(t *testing.T) {
	cases := []struct {
		in      string
		want    RecordID
		wantErr bool
	}{
		{`7`, 7, false},
		{`"7"`, 7, false},
		{`""`, 0, false},
		{`null`, 0, false},
		{`"x"`, 0, true},
		{`true`, 0, true},
	}
	for _, tc := range cases {
		var id RecordID
		err := json.Unmarshal([]byte(tc.in), &id)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err=%v wantErr=%v", tc.in, err, tc.wantErr)
		}
		if !tc.wantErr && id != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.in, tc.want, id)
		}
		if !tc.wantErr && id.IsNew() != (tc.want == 0) {
			t.Fatalf("%s: IsNew = %v", tc.in, id.IsNew())
		}
	}
}
