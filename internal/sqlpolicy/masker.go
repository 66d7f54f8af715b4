package sqlpolicy

import (
	"regexp"
	"strings"

	"github.com/oriys/nova/internal/config"
	"github.com/oriys/nova/internal/domain"
)

// maskSentinel replaces short strings and any non-string value, matching
// DataMasker._apply_mask's "***MASKED***" constant.
const maskSentinel = "***MASKED***"

// maskRun is the fixed-length asterisk run substituted for the interior
// of a masked string longer than 4 characters.
const maskRun = "****"

// Masker matches column names against glob patterns and redacts the
// values of matching columns (spec.md §4.3 "Masker").
type Masker struct {
	enabled  bool
	patterns []*regexp.Regexp
}

// NewMasker compiles sec's sensitive-column glob patterns into regexps.
func NewMasker(sec config.SecurityConfig) *Masker {
	m := &Masker{enabled: sec.MaskSensitiveData}
	for _, p := range sec.SensitiveColumnPatterns {
		m.patterns = append(m.patterns, globToRegexp(p))
	}
	return m
}

// globToRegexp turns a shell-style glob (only '*' is special) into an
// anchored, case-insensitive regexp, matching
// DataMasker._pattern_to_regex.
func globToRegexp(glob string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, part := range strings.Split(glob, "*") {
		b.WriteString(regexp.QuoteMeta(part))
		b.WriteString(".*")
	}
	pattern := strings.TrimSuffix(b.String(), ".*")
	return regexp.MustCompile(pattern + "$")
}

// IsSensitive reports whether column matches any configured pattern.
func (m *Masker) IsSensitive(column string) bool {
	if !m.enabled {
		return false
	}
	for _, re := range m.patterns {
		if re.MatchString(column) {
			return true
		}
	}
	return false
}

// MaskValue redacts v per spec.md §4.3: strings longer than 4 characters
// keep their first and last character with the interior replaced by a
// fixed-length asterisk run; strings of length <= 4 and any non-string
// value become the fixed sentinel.
func MaskValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return maskSentinel
	}
	if s == maskSentinel {
		return maskSentinel
	}
	if len(s) <= 4 {
		return maskSentinel
	}
	runes := []rune(s)
	if len(runes) <= 4 {
		return maskSentinel
	}
	return string(runes[0]) + maskRun + string(runes[len(runes)-1])
}

// Apply masks every sensitive column of result in place and marks the
// corresponding domain.Column.Masked flag, matching spec.md's "mask-flag
// on the column is the only schema-visible signal" decision (see
// DESIGN.md Open Question #2). Returns the set of masked column names.
func (m *Masker) Apply(result *domain.QueryResult) map[string]bool {
	masked := make(map[string]bool)
	if !m.enabled || result == nil {
		return masked
	}

	for i := range result.Columns {
		if m.IsSensitive(result.Columns[i].Name) {
			result.Columns[i].Masked = true
			masked[result.Columns[i].Name] = true
		}
	}
	if len(masked) == 0 {
		return masked
	}

	for _, row := range result.Rows {
		for col := range masked {
			if v, ok := row[col]; ok {
				row[col] = MaskValue(v)
			}
		}
	}
	return masked
}
