package codex

import (
	"errors"
	"fmt"
)

// NotFoundError reports a referenced entity that is absent from the store.
// Always recoverable; surfaced to the caller.
type NotFoundError struct {
	Type EntityType
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Type, e.ID)
}

// IntegrityError reports an invariant violation on write. The offending
// mutation is rejected in full; nothing is partially applied.
type IntegrityError struct {
	Type      EntityType
	ID        string
	Invariant string // name of the violated invariant
	Detail    string
}

func (e *IntegrityError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("integrity violation on %s %q: %s: %s", e.Type, e.ID, e.Invariant, e.Detail)
	}
	return fmt.Sprintf("integrity violation on %s %q: %s", e.Type, e.ID, e.Invariant)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsIntegrity reports whether err is (or wraps) an IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

func notFound(t EntityType, id string) error {
	return &NotFoundError{Type: t, ID: id}
}

func integrity(t EntityType, id, invariant, format string, args ...any) error {
	return &IntegrityError{
		Type:      t,
		ID:        id,
		Invariant: invariant,
		Detail:    fmt.Sprintf(format, args...),
	}
}
