package service

import "errors"

// Service-level sentinel errors.
var (
	ErrNotStarted   = errors.New("service not started")
	ErrInvalidEvent = errors.New("invalid event")
)
