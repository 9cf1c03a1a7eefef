package loyalty

import "errors"

var (
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrNotFound               = errors.New("not found")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)
