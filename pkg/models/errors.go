package models

import "errors"

var (
	// ErrStoreUnavailable means the persistence medium could not be read or written
	ErrStoreUnavailable = errors.New("progress store unavailable")
	// ErrProgressNotSaved is returned alongside a computed record that is queued for retry
	ErrProgressNotSaved = errors.New("progress not saved, will retry")
	ErrInvalidOutcome   = errors.New("invalid review outcome")
	// ErrIndexInconsistency means the due index disagrees with the store
	ErrIndexInconsistency = errors.New("due index inconsistent with store")
	ErrNotFound           = errors.New("not found")
	// ErrVersionConflict means another writer changed the record first
	ErrVersionConflict = errors.New("version conflict")
)

// ErrAlreadyExists is returned when creating an account whose id is taken
var ErrAlreadyExists = errors.New("already exists")
