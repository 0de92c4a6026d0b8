package query

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type mapRecord struct {
	values map[string]interface{}
	types  []string
}

func (m mapRecord) Value(name string) (interface{}, bool) {
	v, ok := m.values[name]
	return v, ok
}

func (m mapRecord) IsOf(typeName string) bool {
	for _, t := range m.types {
		if strings.EqualFold(t, typeName) {
			return true
		}
	}
	return false
}

func TestParseFilterShape(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Name eq 'a'", "(Name eq 'a')"},
		{"Name eq 'it''s'", "(Name eq 'it''s')"},
		{"A eq 1 or B eq 2 and C eq 3", "((A eq 1) or ((B eq 2) and (C eq 3)))"},
		{"(A eq 1 or B eq 2) and C eq 3", "(((A eq 1) or (B eq 2)) and (C eq 3))"},
		{"not startswith(Name, 'x')", "not startswith(Name,'x')"},
		{"Size gt 10L", "(Size gt 10)"},
		{"Price le 1.5m", "(Price le 1.5)"},
		{"Owner/Name eq 'admin'", "(Owner/Name eq 'admin')"},
		{"isof('Folder')", "isof('Folder')"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			expr, err := ParseFilter(tt.input)
			if err != nil {
				t.Fatalf("ParseFilter failed: %v", err)
			}
			if got := expr.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseFilterErrors(t *testing.T) {
	inputs := []string{
		"",
		"Name eq",
		"Name eq 'open",
		"(Name eq 'a'",
		"unknown(Name)",
		"startswith(Name)",
		"Name eq 'a' extra",
		"Name # 'a'",
		"Created gt datetime'not-a-date'",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			if _, err := ParseFilter(input); err == nil {
				t.Errorf("Expected an error for %q", input)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := mapRecord{
		values: map[string]interface{}{
			"Name":         "Report.docx",
			"Size":         int64(1024),
			"Price":        decimal.RequireFromString("9.99"),
			"Hidden":       false,
			"CreationDate": created,
			"Owner":        nil,
		},
		types: []string{"File", "GenericContent"},
	}
	tests := []struct {
		filter string
		want   bool
	}{
		{"Name eq 'report.docx'", true},
		{"Name ne 'Report.docx'", false},
		{"Size gt 1000", true},
		{"Size le 1023", false},
		{"Price lt 10", true},
		{"Hidden eq false", true},
		{"not Hidden", true},
		{"CreationDate ge datetime'2024-01-01'", true},
		{"CreationDate lt datetime'2024-03-01T11:00:00Z'", false},
		{"Owner eq null", true},
		{"Owner ne null", false},
		{"Missing gt 1", false},
		{"startswith(Name, 'rep')", true},
		{"endswith(Name, '.DOCX')", true},
		{"substringof('port', Name)", true},
		{"contains(Name, 'xyz')", false},
		{"tolower(Name) eq 'report.docx'", true},
		{"length(Name) eq 11", true},
		{"isof('file')", true},
		{"isof('Folder')", false},
		{"Size gt 1 and (Name eq 'x' or Hidden eq false)", true},
		{"startswith(Missing, 'a')", false},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			expr, err := ParseFilter(tt.filter)
			if err != nil {
				t.Fatalf("ParseFilter failed: %v", err)
			}
			got, err := Matches(expr, rec)
			if err != nil {
				t.Fatalf("Matches failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesNilExpression(t *testing.T) {
	ok, err := Matches(nil, mapRecord{})
	if err != nil || !ok {
		t.Errorf("nil filter should match, got %v %v", ok, err)
	}
}

func TestMatchesNonBoolean(t *testing.T) {
	expr, err := ParseFilter("Name")
	if err != nil {
		t.Fatalf("ParseFilter failed: %v", err)
	}
	if _, err := Matches(expr, mapRecord{values: map[string]interface{}{"Name": "x"}}); err == nil {
		t.Error("Expected an error for a non-boolean filter")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b interface{}
		want int
	}{
		{1, decimal.NewFromInt(1), 0},
		{int64(2), 1.5, 1},
		{"abc", "ABD", -1},
		{false, true, -1},
		{time.Unix(10, 0), time.Unix(5, 0), 1},
	}
	for _, tt := range tests {
		got, err := Compare(tt.a, tt.b)
		if err != nil {
			t.Fatalf("Compare(%v, %v) failed: %v", tt.a, tt.b, err)
		}
		if got != tt.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
	if _, err := Compare(true, "x"); err == nil {
		t.Error("Expected an error comparing a boolean with a string")
	}
}
