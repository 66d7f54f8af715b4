package athenaconnector

import (
	"strings"
	"testing"

	"github.com/oriys/nova/internal/domain"
)

func TestInterpolateQuotesLiterals(t *testing.T) {
	stmt := interpolate("SELECT * FROM t WHERE name = :name AND active = :active",
		map[string]any{"name": "O'Brien", "active": true})
	if !strings.Contains(stmt, "'O''Brien'") {
		t.Fatalf("expected escaped string literal, got %q", stmt)
	}
	if !strings.Contains(stmt, "true") {
		t.Fatalf("expected bool literal, got %q", stmt)
	}
}

func TestSQLLiteralNumeric(t *testing.T) {
	if got := sqlLiteral(42); got != "42" {
		t.Fatalf("sqlLiteral(42) = %q", got)
	}
	if got := sqlLiteral(3.5); got != "3.5" {
		t.Fatalf("sqlLiteral(3.5) = %q", got)
	}
}

func TestRegionFromHostDefaultsWhenEmpty(t *testing.T) {
	if regionFromHost("") != "us-east-1" {
		t.Fatal("expected default region for empty host")
	}
	if regionFromHost("eu-west-1") != "eu-west-1" {
		t.Fatal("expected host passed through verbatim")
	}
}

func TestCanonicalizeAthenaType(t *testing.T) {
	cases := map[string]domain.CanonicalType{
		"bigint":    domain.TypeInteger,
		"double":    domain.TypeFloat,
		"boolean":   domain.TypeBoolean,
		"date":      domain.TypeDate,
		"timestamp": domain.TypeTimestamp,
		"varchar":   domain.TypeText,
		"array":     domain.TypeUnknown,
	}
	for in, want := range cases {
		if got := canonicalizeAthenaType(in); got != want {
			t.Errorf("canonicalizeAthenaType(%q) = %v, want %v", in, got, want)
		}
	}
}
