package alerts

import (
	"fmt"

	"freshtrack-cloud/internal/apperr"
)

var (
	// ErrNotFound indicates a missing alert record.
	ErrNotFound = fmt.Errorf("alert: %w", apperr.ErrNotFound)
	// ErrAlreadyAcknowledged is returned when acknowledging an alert that is not active.
	ErrAlreadyAcknowledged = fmt.Errorf("alert: already acknowledged: %w", apperr.ErrConflict)
	// ErrInvalidTransition is returned for any other disallowed lifecycle move.
	ErrInvalidTransition = fmt.Errorf("alert: invalid transition: %w", apperr.ErrConflict)
)
