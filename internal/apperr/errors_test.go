package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestValidationErrorMatchesKind(t *testing.T) {
	err := fmt.Errorf("ingest: %w", &ValidationError{Issues: []Issue{
		{Index: 0, UnitID: "unit-1", Field: "temperature", Reason: "required"},
		{Index: 3, Field: "recorded_at", Reason: "must be RFC3339"},
	}})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation kind")
	}
	if errors.Is(err, ErrAuthorization) {
		t.Fatalf("unexpected authorization kind")
	}
	issues := IssuesOf(err)
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(issues))
	}
	msg := err.Error()
	for _, want := range []string{"reading 0 (unit unit-1): temperature: required", "reading 3: recorded_at"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestStorageWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Storage(cause)
	if !errors.Is(err, ErrStorage) || !errors.Is(err, cause) {
		t.Fatalf("expected storage kind and cause, got %v", err)
	}
	if Storage(nil) != nil {
		t.Fatalf("expected nil for nil cause")
	}
}
