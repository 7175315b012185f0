package domain

import (
	"errors"
	"testing"
)

func TestSanitizeValueDateComponentKeepsDigits(t *testing.T) {
	if got := SanitizeValue(FieldBirthDay, "1a2 "); got != "12" {
		t.Fatalf("expected digits only, got %q", got)
	}
}

func TestSanitizeValueNameKeepsAccentsAndPunctuation(t *testing.T) {
	got := SanitizeValue(FieldPersonName, "José-María Pérez Jr.3!")
	if got != "José-María Pérez Jr." {
		t.Fatalf("unexpected sanitized name %q", got)
	}
}

func TestSanitizeValueComposesCombiningAccents(t *testing.T) {
	// "e" followed by a combining acute accent.
	got := SanitizeValue(FieldFather, "Jose\u0301")
	if got != "Jos\u00e9" {
		t.Fatalf("expected composed accent, got %q", got)
	}
}

func TestSanitizeValueTextIsUntouched(t *testing.T) {
	if got := SanitizeValue(FieldNotes, "nota: 1/2"); got != "nota: 1/2" {
		t.Fatalf("expected free text unchanged, got %q", got)
	}
}

func TestFieldMapResolveFallsBackToRawKey(t *testing.T) {
	m := DefaultFieldMap()
	if got := m.Resolve("col_1"); got != FieldPersonName {
		t.Fatalf("expected %s, got %s", FieldPersonName, got)
	}
	if got := m.Resolve("col_99"); got != "col_99" {
		t.Fatalf("expected raw key fallback, got %s", got)
	}
	if !Excluded(m.Resolve("col_5")) {
		t.Fatalf("expected parish column to be excluded")
	}
}

func TestSubmissionErrorMatchesKind(t *testing.T) {
	err := WrapError(ErrSubmission, "submit", &SubmissionError{Detail: "tupla ya validada"})
	if !IsKind(err, ErrSubmission) {
		t.Fatalf("expected ErrSubmission kind")
	}
	var subErr *SubmissionError
	if !errors.As(err, &subErr) || subErr.Detail != "tupla ya validada" {
		t.Fatalf("expected submission detail, got %v", err)
	}
}
