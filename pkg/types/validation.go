package types

import (
	"regexp"
	"unicode/utf8"

	"github.com/samber/lo"
)

// MaxMessageBytes caps a single chat message body
const MaxMessageBytes = 64 * 1024

var usernameRegex = regexp.MustCompile(`^[\w.@+-]+$`)

// IsValidUsername follows the usual account rules: up to 150 characters of
// letters, digits and @/./+/-/_
func IsValidUsername(username string) bool {
	n := utf8.RuneCountInString(username)
	if n < 1 || n > 150 {
		return false
	}
	return usernameRegex.MatchString(username)
}

func IsValidRole(role Role) bool {
	return role == RoleStudent || role == RoleTeacher
}

// Validate checks the course before it is persisted
func (c *Course) Validate() error {
	n := utf8.RuneCountInString(c.Title)
	if n < 1 || n > 200 {
		return ErrInvalidCourseTitle
	}
	if c.TeacherID <= 0 {
		return ErrInvalidTeacher
	}
	if len(lo.Intersect(c.EnrolledIDs, c.BlockedIDs)) > 0 {
		return ErrEnrolledAndBlocked
	}
	return nil
}

// Validate only bounds the size. Empty text is accepted.
func (m *ChatMessage) Validate() error {
	if len(m.Message) > MaxMessageBytes {
		return ErrMessageTooLarge
	}
	return nil
}
