package engine

import (
	"testing"
)

func mustValidator(t *testing.T) *FindingsValidator {
	t.Helper()
	v, err := NewFindingsValidator()
	if err != nil {
		t.Fatalf("NewFindingsValidator: %v", err)
	}
	return v
}

func TestParse_FencedJSON(t *testing.T) {
	v := mustValidator(t)
	resp := "Here are my findings:\n```json\n" +
		`[{"text": "token logged in plaintext", "file_path": "auth/login.py", "line": 12, "severity": "high"}]` +
		"\n```\nLet me know if you need more detail."

	findings, err := v.Parse(resp)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	f := findings[0]
	if f.Text != "token logged in plaintext" || f.FilePath != "auth/login.py" || f.Line != 12 || f.Severity != "high" {
		t.Fatalf("unexpected finding: %+v", f)
	}
}

func TestParse_RawJSONArray(t *testing.T) {
	v := mustValidator(t)
	findings, err := v.Parse(`[{"text": "missing error check"}]`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(findings) != 1 || findings[0].Text != "missing error check" {
		t.Fatalf("unexpected findings: %+v", findings)
	}
}

func TestParse_EmptyArray(t *testing.T) {
	v := mustValidator(t)
	findings, err := v.Parse("Nothing to report.\n```json\n[]\n```")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("got %d findings, want 0", len(findings))
	}
}

func TestParse_NoJSON(t *testing.T) {
	v := mustValidator(t)
	if _, err := v.Parse("The code looks fine to me overall."); err == nil {
		t.Fatal("expected error for prose-only response")
	}
}

func TestParse_SchemaViolation(t *testing.T) {
	v := mustValidator(t)
	// severity outside the enum
	if _, err := v.Parse(`[{"text": "x", "severity": "catastrophic"}]`); err == nil {
		t.Fatal("expected schema error for bad severity")
	}
	// missing required text
	if _, err := v.Parse(`[{"file_path": "a.go"}]`); err == nil {
		t.Fatal("expected schema error for missing text")
	}
}

func TestExtractJSON_BalancedWithNestedBraces(t *testing.T) {
	got := extractJSON(`prefix [{"text": "uses map[string]{} oddly", "file_path": "x.go"}] suffix`)
	if got == "" {
		t.Fatal("failed to extract array")
	}
	if !isJSON(got) {
		t.Fatalf("extracted non-JSON: %q", got)
	}
}

func TestExtractJSON_StringWithBrackets(t *testing.T) {
	in := `[{"text": "slice a[0] vs a[1] swapped \"oops\""}]`
	got := extractJSON("noise " + in + " noise")
	if got != in {
		t.Fatalf("got %q, want %q", got, in)
	}
}
