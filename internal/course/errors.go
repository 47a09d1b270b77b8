package course

import "errors"

var (
	ErrCourseNotFound  = errors.New("course not found")
	ErrStudentNotFound = errors.New("student not found")
	ErrTeacherOnly     = errors.New("only teachers can perform this action")
	ErrCourseTeacher   = errors.New("only the course teacher can perform this action")
	ErrStudentOnly     = errors.New("only students can perform this action")
	ErrBlocked         = errors.New("student is blocked from this course")
	ErrNotEnrolled     = errors.New("student is not enrolled in this course")
)
