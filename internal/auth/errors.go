package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidHash        = errors.New("invalid password hash format")
	ErrUsernameTaken      = errors.New("username already taken")
)
