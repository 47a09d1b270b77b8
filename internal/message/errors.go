package message

import "errors"

var (
	ErrStoreClosed   = errors.New("message store is closed")
	ErrCorruptRecord = errors.New("corrupt message record")
	ErrInvalidCourse = errors.New("course id must be positive")
)
