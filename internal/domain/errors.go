package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by lookups that find nothing.
	ErrNotFound = errors.New("not found")
	// ErrGenerationUnavailable means the generation backend is offline or failed.
	ErrGenerationUnavailable = errors.New("generation unavailable")
	// ErrDispatchFailed means a reply could not be delivered.
	ErrDispatchFailed = errors.New("dispatch failed")
)

// StorageError wraps ledger read/write failures.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ExternalProcessError reports an automation driver or bridge that exited or timed out.
type ExternalProcessError struct {
	Process string
	Err     error
}

func (e *ExternalProcessError) Error() string {
	return fmt.Sprintf("external process %s: %v", e.Process, e.Err)
}

func (e *ExternalProcessError) Unwrap() error {
	return e.Err
}
