package extension

import "errors"

var (
	ErrInvalidID   = errors.New("extension id must not be empty")
	ErrDuplicateID = errors.New("extension already registered")
)
