package account

import "errors"

var (
	ErrUserNotFound = errors.New("user not found")
	ErrTeacherOnly  = errors.New("only teachers can search for users")
	ErrNotOwner     = errors.New("you can only change your own account")
	ErrEmptyStatus  = errors.New("status update cannot be empty")
)
