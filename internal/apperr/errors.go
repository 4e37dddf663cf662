// Package apperr holds the sentinel errors shared by the service and transport layers.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidTarget = errors.New("invalid target")
	ErrInvalidMarkup = errors.New("invalid markup")
	ErrUnknownUnit   = errors.New("unknown unit")
)
