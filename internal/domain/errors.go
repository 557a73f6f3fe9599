package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrCyclicMove         = errors.New("move would create a cycle")
	ErrConflict           = errors.New("concurrent modification")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a referenced project or node that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// CyclicMoveError is returned when a move would make a node its own ancestor.
type CyclicMoveError struct {
	NodeID         string
	TargetParentID string
}

func (e CyclicMoveError) Error() string {
	if e.NodeID == e.TargetParentID {
		return fmt.Sprintf("node %s cannot be its own parent", e.NodeID)
	}
	return fmt.Sprintf("node %s cannot move under its descendant %s", e.NodeID, e.TargetParentID)
}

func (e CyclicMoveError) Is(target error) bool { return target == ErrCyclicMove }

func Required(field string) error {
	return ValidationError{Field: field, Reason: "required"}
}
