package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, indexes and lockers return
// these (optionally wrapped) and services translate them into domain errors.
//
//   - ErrNotFound: no record matches the id (or the id plus state filter)
//   - ErrConflict: a conditional write lost to a concurrent writer
//   - ErrAlreadyExists: create of an id that is already taken
//   - ErrInvalidState: stored data violates an aggregate invariant
//   - ErrUnavailable: backend temporarily unreachable or a lock could not be obtained
//
// Validation failures use pkg/domain-errors directly.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidState  = errors.New("invalid state")
	ErrUnavailable   = errors.New("unavailable")
)
