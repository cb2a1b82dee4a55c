package strategy

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks lookups of names nobody registered.
	ErrNotFound = errors.New("strategy not found")
	// ErrConstruction marks arguments a factory refused.
	ErrConstruction = errors.New("strategy construction failed")
)

// NotFoundError reports an unregistered strategy name.
type NotFoundError struct {
	Kind Kind
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s strategy %q not found", e.Kind, e.Name)
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ConstructionError reports arguments that did not satisfy a factory.
type ConstructionError struct {
	Kind Kind
	Name string
	Err  error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construct %s strategy %q: %v", e.Kind, e.Name, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *ConstructionError) Unwrap() []error {
	return []error{ErrConstruction, e.Err}
}
