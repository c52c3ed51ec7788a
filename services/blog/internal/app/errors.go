package app

import (
	"fmt"

	"edgepress/pkg/domain"
)

var (
	ErrPostNotFound   = fmt.Errorf("%w: post not found", domain.ErrNotFound)
	ErrSlugTaken      = fmt.Errorf("%w: slug already exists", domain.ErrConflict)
	ErrInvalidSlug    = fmt.Errorf("%w: slug must be 1-128 letters, digits, '.', '_' or '-'", domain.ErrBadRequest)
	ErrMissingFields  = fmt.Errorf("%w: title, content and visibility are required", domain.ErrBadRequest)
	ErrBadVisibility  = fmt.Errorf("%w: visibility must be public or private", domain.ErrBadRequest)
	ErrAuthorNotFound = fmt.Errorf("%w: post author account missing", domain.ErrInternalInconsistency)
)
