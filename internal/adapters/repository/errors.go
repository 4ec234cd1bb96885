package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrStore          = errors.New("store operation failed")
	ErrDuplicateEvent = errors.New("duplicate event id")
)
