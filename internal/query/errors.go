package query

import "errors"

// Sentinel kinds for malformed analytics requests. These fail fast rather
// than silently defaulting.
var (
	ErrInvalidPeriod = errors.New("unknown period")
	ErrInvalidScope  = errors.New("unknown scope")
	ErrMissingEntity = errors.New("scope requires an entity id")
)
