package sentinel

import "errors"

// Sentinel errors for store facts. The registry store returns these (optionally
// wrapped) so the service can translate them into domain errors.
//
//   - ErrNotFound: no record matches the requested ckey or discord id
//   - ErrConflict: a record already holds the requested ckey or discord id
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)
