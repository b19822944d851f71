package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalid      = errors.New("invalid")
	ErrConflict     = errors.New("conflict")
	ErrTooMany      = errors.New("too many requests")
	ErrInternal     = errors.New("internal")
)

// Processing failure classes. The processor wraps stage errors with one of
// these so callers can tell which stage broke without parsing messages.
var (
	ErrParseFailure     = errors.New("parse failure")
	ErrChunkingFailure  = errors.New("chunking failure")
	ErrEmbeddingFailure = errors.New("embedding failure")
	ErrStorageFailure   = errors.New("storage failure")
	ErrConfiguration    = errors.New("configuration error")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
