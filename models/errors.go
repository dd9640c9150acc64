// kapchan/models/errors.go
package models

import "errors"

// Error taxonomy surfaced by the engine. Handlers map these to HTTP
// status codes with errors.Is; driver-level detail never leaves the
// database package unwrapped.
var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
	ErrUnique     = errors.New("unique constraint violated")
	ErrForeignKey = errors.New("target no longer exists")
	ErrInfra      = errors.New("internal error")
)
