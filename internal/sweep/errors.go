package sweep

import "errors"

// Sentinel kinds for scheduler errors.
var (
	ErrBackfillRange = errors.New("invalid backfill range")
)
