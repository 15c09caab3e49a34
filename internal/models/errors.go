package models

import "errors"

// Error kinds shared by the lifecycle engine, the stores and the request layer.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidState      = errors.New("invalid state")
	ErrPersistence       = errors.New("persistence failure")
)

// Kind names an error class as it appears in logs and API responses.
type Kind string

const (
	KindNotFound          Kind = "NotFound"
	KindInvalidArgument   Kind = "InvalidArgument"
	KindInvalidTransition Kind = "InvalidTransition"
	KindInvalidState      Kind = "InvalidState"
	KindPersistence       Kind = "PersistenceFailure"
	KindUnknown           Kind = "Unknown"
)

// KindOf classifies err against the sentinel kinds above
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	default:
		return KindUnknown
	}
}

// IsClassified reports whether err already carries one of the known kinds
func IsClassified(err error) bool {
	k := KindOf(err)
	return k != "" && k != KindUnknown
}
