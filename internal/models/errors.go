package models

import (
	"errors"
	"fmt"
)

// ErrRebuildInProgress is returned when a rebuild is requested while another one runs.
var ErrRebuildInProgress = errors.New("index rebuild already in progress")

// ValidationError reports malformed or contradictory input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown transcript id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("transcript %q not found", e.ID)
}

// ExternalServiceError reports an embedding, language model or store call that failed
// after bounded retries.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// UpstreamFormatError reports language model output that did not parse, even after a
// stricter re-prompt.
type UpstreamFormatError struct {
	Task   string
	Output string
}

func (e *UpstreamFormatError) Error() string {
	return fmt.Sprintf("%s: unparseable model output %q", e.Task, e.Output)
}

// StoreUnavailableError reports a vector store that cannot be reached.
type StoreUnavailableError struct {
	Store string
	Err   error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("vector store %s unavailable: %v", e.Store, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// CollectionNotEmptyError is returned when a rebuild without an explicit mode targets
// a collection that already holds points.
type CollectionNotEmptyError struct {
	Collection string
	Points     int
}

func (e *CollectionNotEmptyError) Error() string {
	return fmt.Sprintf("collection %s already holds %d points; use mode replace or append", e.Collection, e.Points)
}

// ModelMismatchError is returned when a collection holds vectors from an embedding model
// other than the one in use.
type ModelMismatchError struct {
	Collection string
	Want       string
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("collection %s holds vectors from a model other than %s; rebuild with mode replace", e.Collection, e.Want)
}
