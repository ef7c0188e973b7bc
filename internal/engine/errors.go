package engine

import "errors"

// UnavailableError means the registry or record storage was unreachable and
// the whole dispatch for an event was refused. The upstream source should
// redeliver; no automation has executed.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string { return "engine unavailable: " + e.Err.Error() }
func (e *UnavailableError) Unwrap() error { return e.Err }

// Unavailable wraps err as an UnavailableError.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return &UnavailableError{Err: err}
}

// IsUnavailable reports whether err signals a refused dispatch.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
