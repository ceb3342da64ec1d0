package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidPrompt   = errors.New("invalid prompt")
	ErrInvalidVariant  = errors.New("invalid variant")
	ErrUnknownStatus   = errors.New("unknown job status")
	ErrProviderFailure = errors.New("provider failure")
	ErrMissingAPIKey   = errors.New("api key not configured")
)
