package model

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by the session service or a store wraps
// exactly one of these.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrDependency   = errors.New("dependency failure")
)

var (
	ErrSessionCompleted   = fmt.Errorf("%w: session already completed", ErrValidation)
	ErrEmailTaken         = fmt.Errorf("%w: email already exists", ErrValidation)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	ErrGeneration         = fmt.Errorf("%w: generation failed", ErrDependency)
)

// ErrOrderingUnavailable is returned by a store that cannot sort sessions
// server-side (for example, a missing Firestore composite index). Callers
// fall back to the unordered query.
var ErrOrderingUnavailable = errors.New("ordered query unavailable")

// MissingFieldsError reports required request fields that were empty.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// Is makes MissingFieldsError match ErrValidation.
func (e *MissingFieldsError) Is(target error) bool {
	return target == ErrValidation
}

// RequireFields returns a *MissingFieldsError naming every pair whose value
// is blank, or nil. Arguments alternate name, value.
func RequireFields(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingFieldsError{Fields: missing}
}
