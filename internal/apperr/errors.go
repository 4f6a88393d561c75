package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds shared across contexts. Match with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrAuthorization = errors.New("not authorized")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrStorage       = errors.New("storage failure")
	ErrEvaluation    = errors.New("evaluation failed")
)

// Issue describes one rejected payload item.
type Issue struct {
	Index  int    `json:"index"`
	UnitID string `json:"unit_id,omitempty"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (i Issue) String() string {
	if i.UnitID != "" {
		return fmt.Sprintf("reading %d (unit %s): %s: %s", i.Index, i.UnitID, i.Field, i.Reason)
	}
	return fmt.Sprintf("reading %d: %s: %s", i.Index, i.Field, i.Reason)
}

// ValidationError rejects a batch because of malformed payloads.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	return joinIssues(ErrValidation.Error(), e.Issues)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// AuthorizationError rejects a batch that references units outside the caller's organization.
type AuthorizationError struct {
	Issues []Issue
}

func (e *AuthorizationError) Error() string {
	return joinIssues(ErrAuthorization.Error(), e.Issues)
}

// Is lets errors.Is(err, ErrAuthorization) match.
func (e *AuthorizationError) Is(target error) bool { return target == ErrAuthorization }

// Storage wraps a persistence failure.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// IssuesOf extracts enumerated issues from a validation or authorization error.
func IssuesOf(err error) []Issue {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Issues
	}
	var aerr *AuthorizationError
	if errors.As(err, &aerr) {
		return aerr.Issues
	}
	return nil
}

func joinIssues(prefix string, issues []Issue) string {
	if len(issues) == 0 {
		return prefix
	}
	parts := make([]string, 0, len(issues))
	for _, issue := range issues {
		parts = append(parts, issue.String())
	}
	return prefix + ": " + strings.Join(parts, "; ")
}
