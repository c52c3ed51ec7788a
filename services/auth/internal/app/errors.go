package app

import (
	"fmt"

	"edgepress/pkg/domain"
)

var (
	// ErrInvalidCredentials is returned when the supplied credentials do not match.
	// The message is shown to end users and must not enable account enumeration.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid username or password", domain.ErrUnauthenticated)

	ErrCredentialsRequired = fmt.Errorf("%w: username and password required", domain.ErrBadRequest)
	ErrInvalidUsername     = fmt.Errorf("%w: username must be 1-64 letters, digits, '.', '_' or '-'", domain.ErrBadRequest)
	ErrInvalidRole         = fmt.Errorf("%w: invalid role", domain.ErrBadRequest)
)
