package authz

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence is the kind shared by every failed load or save.
	ErrPersistence = errors.New("authz: persistence failure")
	// ErrInvalidIdentifier indicates an empty subject, object or role.
	ErrInvalidIdentifier = errors.New("authz: invalid identifier")
	// ErrUnsupportedModel indicates matcher configuration this engine cannot evaluate.
	ErrUnsupportedModel = errors.New("authz: unsupported model")
	// ErrClosed is returned by operations on a closed Engine.
	ErrClosed = errors.New("authz: engine closed")
)

// PersistenceError wraps a durable-store failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("authz: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is reports whether target is ErrPersistence.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// CascadeError reports which step of a cascading delete failed and what the
// cascade had staged at that point. Staged removals were not applied.
type CascadeError struct {
	Subject         string
	Step            string
	PoliciesStaged  int
	GroupingsStaged int
	Err             error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("authz: delete %q: %s (staged %d policies, %d groupings): %v",
		e.Subject, e.Step, e.PoliciesStaged, e.GroupingsStaged, e.Err)
}

func (e *CascadeError) Unwrap() error { return e.Err }
