package domain

import "errors"

// ErrNotFound indicates a lookup or sparse update hit no row.
var ErrNotFound = errors.New("not found")

// ErrStorage wraps store-level I/O failures. Callers surface it to the
// operator but never treat it as a job failure.
var ErrStorage = errors.New("storage failure")

// ErrNotConfigured indicates the chat provider credentials are absent.
var ErrNotConfigured = errors.New("chat provider not configured")

// ErrConflict indicates a worker already exists for an external id.
var ErrConflict = errors.New("worker already registered")
