package domain

import "fmt"

// ValidationError reports malformed, missing or contradictory input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports a statement id that is already stored.
type ConflictError struct {
	ID string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("statement %s already exists", e.ID)
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// PreconditionFailedError reports a failed If-Match / If-None-Match check.
type PreconditionFailedError struct {
	Reason string
}

func (e PreconditionFailedError) Error() string {
	return "precondition failed: " + e.Reason
}
