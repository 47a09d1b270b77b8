package interfaces

import "errors"

// Common errors shared by repositories and services
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrConflict     = errors.New("already exists")
)
