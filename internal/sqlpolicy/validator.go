// Package sqlpolicy implements the SQL validation pipeline and the
// result masker of spec.md §4.3, grounded on
// original_source/execution/sql_executor.py's SQLValidator and
// DataMasker.
package sqlpolicy

import (
	"regexp"
	"strings"

	"github.com/oriys/nova/internal/config"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/metrics"
)

// injectionPattern names one precompiled heuristic from the fixed set
// spec.md §4.3 step 4 describes (not configurable — these catch classes
// of attack regardless of the operator's banned-pattern list).
type injectionPattern struct {
	name string
	re   *regexp.Regexp
}

// defaultInjectionPatterns mirrors SQLValidator.INJECTION_PATTERNS.
var defaultInjectionPatterns = []injectionPattern{
	{"statement-termination", regexp.MustCompile(`(?i);\s*--`)},
	{"tautology-numeric", regexp.MustCompile(`(?i)\bor\s+1\s*=\s*1\b`)},
	{"tautology-string", regexp.MustCompile(`(?i)\bor\s+''\s*=\s*''`)},
	{"union-injection", regexp.MustCompile(`(?i)\bunion\s+all\s+select\b`)},
	{"file-write", regexp.MustCompile(`(?i)\binto\s+(outfile|dumpfile)\b`)},
	{"file-read", regexp.MustCompile(`(?i)\bload_file\s*\(`)},
	{"catalog-enumeration", regexp.MustCompile(`(?i)@@version|information_schema`)},
	{"timing-attack", regexp.MustCompile(`(?i)\b(benchmark|sleep|waitfor\s+delay)\s*\(`)},
}

// Validator runs the three-stage validation pipeline of spec.md §4.3
// against a SecurityConfig snapshot.
type Validator struct {
	allowedStatements map[string]bool
	bannedPatterns    []string
	injection         []injectionPattern
}

// NewValidator builds a Validator from the security config's allow/ban
// lists, using the fixed injection-pattern set.
func NewValidator(sec config.SecurityConfig) *Validator {
	allowed := make(map[string]bool, len(sec.AllowedSQLStatements))
	for _, s := range sec.AllowedSQLStatements {
		allowed[strings.ToUpper(s)] = true
	}
	return &Validator{
		allowedStatements: allowed,
		bannedPatterns:    sec.BannedSQLPatterns,
		injection:         defaultInjectionPatterns,
	}
}

// Validate runs the full pipeline and returns a *errs.Error tagged
// policy-violation on any hit. The returned error's Details carries only
// the matched pattern *names* and the leading keyword, never the
// statement text (spec.md §4.3: "Blocked content is never echoed").
func (v *Validator) Validate(statement string) error {
	trimmed := strings.TrimLeft(statement, " \t\r\n")
	keyword := leadingKeyword(trimmed)

	if !v.allowedStatements[keyword] {
		metrics.Global().RecordPolicyViolation()
		return errs.New(errs.PolicyViolation, "statement type is not permitted").
			WithDetails(map[string]any{"leading_keyword": keyword})
	}

	var violations []string
	upper := strings.ToUpper(trimmed)
	for _, pat := range v.bannedPatterns {
		if strings.Contains(upper, strings.ToUpper(pat)) {
			violations = append(violations, pat)
		}
	}
	for _, ip := range v.injection {
		if ip.re.MatchString(trimmed) {
			violations = append(violations, ip.name)
		}
	}

	if len(violations) > 0 {
		metrics.Global().RecordPolicyViolation()
		return errs.New(errs.PolicyViolation, "statement rejected by SQL policy").
			WithDetails(map[string]any{
				"leading_keyword": keyword,
				"violations":      violations,
			})
	}
	return nil
}

// IsReadOnly reports whether statement's leading keyword is one of the
// read-only classes (SELECT/WITH), independent of the configured allow
// list — used by callers that want a stricter check than "is permitted".
func IsReadOnly(statement string) bool {
	switch leadingKeyword(statement) {
	case "SELECT", "WITH":
		return true
	default:
		return false
	}
}

func leadingKeyword(statement string) string {
	trimmed := strings.TrimLeft(statement, " \t\r\n")
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
