package apperrors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidDepth           = errors.New("max_depth exceeds the allowed maximum")
	ErrInvalidDetailLevel     = errors.New("include_definitions must be: none | excerpt | full")
	ErrCatalogUnavailable     = errors.New("catalog unavailable")
	ErrPermissionInsufficient = errors.New("insufficient metadata visibility permission")
)
