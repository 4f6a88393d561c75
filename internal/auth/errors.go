package auth

import (
	"errors"
	"fmt"

	"freshtrack-cloud/internal/apperr"
)

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrInvalidKey   = errors.New("auth: invalid api key")
	ErrRevokedKey   = errors.New("auth: api key revoked")
	ErrNoSecret     = errors.New("auth: ingest secret not configured")
	// ErrOrgMismatch indicates a resource belongs to another organization.
	ErrOrgMismatch = fmt.Errorf("auth: org mismatch: %w", apperr.ErrAuthorization)
	// ErrNotFound indicates the resource does not exist.
	ErrNotFound = fmt.Errorf("auth: %w", apperr.ErrNotFound)
)
