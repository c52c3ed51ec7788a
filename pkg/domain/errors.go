package domain

import "errors"

// Request-terminal error kinds. Services wrap these with context; the HTTP
// layer maps them to status codes with errors.Is.
var (
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrBadRequest            = errors.New("bad request")
	ErrInternalInconsistency = errors.New("internal inconsistency")
)
