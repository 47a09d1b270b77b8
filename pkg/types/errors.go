package types

import "errors"

var (
	ErrInvalidUsername    = errors.New("username must be 1-150 characters: letters, digits and @.+-_ only")
	ErrInvalidRole        = errors.New("role must be 'student' or 'teacher'")
	ErrInvalidCourseTitle = errors.New("course title must be 1-200 characters")
	ErrInvalidTeacher     = errors.New("course teacher must be a registered user")
	ErrEnrolledAndBlocked = errors.New("user cannot be enrolled and blocked in the same course")
	ErrMessageTooLarge    = errors.New("chat message exceeds 64KB limit")
)
