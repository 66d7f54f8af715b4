package codepolicy_test

import (
	"errors"
	"testing"

	"github.com/oriys/nova/internal/codepolicy"
	"github.com/oriys/nova/internal/config"
	"github.com/oriys/nova/internal/errs"
)

func testSecurity() config.SecurityConfig {
	sec := config.DefaultConfig().Security
	sec.AllowedCodeImports = []string{"math", "stats"}
	return sec
}

func assertPolicyViolation(t *testing.T, err error) *errs.Error {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	var e *errs.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *errs.Error, got %T", err)
	}
	if e.Tag != errs.PolicyViolation {
		t.Fatalf("Tag = %v, want PolicyViolation", e.Tag)
	}
	return e
}

func TestValidatorAcceptsPlainScript(t *testing.T) {
	v := codepolicy.NewValidator(testSecurity())
	err := v.Validate(`
import math
x = math.sqrt(4)
result = x
`)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidatorRejectsDisallowedImport(t *testing.T) {
	v := codepolicy.NewValidator(testSecurity())
	err := v.Validate(`import os`)
	assertPolicyViolation(t, err)
}

func TestValidatorAcceptsSubmoduleOfAllowedImport(t *testing.T) {
	v := codepolicy.NewValidator(testSecurity())
	err := v.Validate(`import stats.linear`)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidatorRejectsRejectedCall(t *testing.T) {
	v := codepolicy.NewValidator(testSecurity())
	err := v.Validate(`x = eval("1 + 1")`)
	assertPolicyViolation(t, err)
}

func TestValidatorRejectsDangerousAttributeChain(t *testing.T) {
	v := codepolicy.NewValidator(testSecurity())
	err := v.Validate(`x = obj.__class__.__bases__`)
	assertPolicyViolation(t, err)
}

func TestValidatorRejectsPrivateDunderAttribute(t *testing.T) {
	v := codepolicy.NewValidator(testSecurity())
	err := v.Validate(`x = obj.__secret`)
	assertPolicyViolation(t, err)
}

func TestValidatorAllowsSingleUnderscorePrefix(t *testing.T) {
	v := codepolicy.NewValidator(testSecurity())
	err := v.Validate(`x = df._internal_helper()`)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidatorAllowsDunderSuffixedAndPrefixed(t *testing.T) {
	v := codepolicy.NewValidator(testSecurity())
	// __len__ is dunder-prefixed-and-suffixed (the "private escape hatch"
	// rule only rejects prefix-without-suffix) and is not itself in the
	// dangerous-name set, so it must pass.
	err := v.Validate(`x = obj.__len__()`)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidatorRejectsBannedSubstring(t *testing.T) {
	sec := testSecurity()
	sec.BannedCodePatterns = []string{"subprocess", "socket"}
	v := codepolicy.NewValidator(sec)
	err := v.Validate(`x = 1 # uses subprocess somewhere`)
	assertPolicyViolation(t, err)
}

func TestValidatorViolationDetailsOmitSourceText(t *testing.T) {
	v := codepolicy.NewValidator(testSecurity())
	err := v.Validate(`x = eval("SUPER SECRET MARKER")`)
	e := assertPolicyViolation(t, err)
	for _, val := range e.Details {
		violations, ok := val.([]string)
		if !ok {
			continue
		}
		for _, s := range violations {
			if s == `x = eval("SUPER SECRET MARKER")` {
				t.Fatal("details must not contain the raw source text")
			}
		}
	}
}

func TestValidatorRejectsSyntaxError(t *testing.T) {
	v := codepolicy.NewValidator(testSecurity())
	err := v.Validate(`x = (`)
	assertPolicyViolation(t, err)
}
