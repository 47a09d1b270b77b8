package course

import (
	"context"

	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

// CourseGetter resolves a course id
type CourseGetter interface {
	GetCourse(ctx context.Context, courseID int64) (*types.Course, error)
}

// Gate decides chat membership: the course teacher, or an enrolled student
// who is not blocked.
type Gate struct {
	courses CourseGetter
}

func NewGate(courses CourseGetter) *Gate {
	return &Gate{courses: courses}
}

// CanJoin is false for anonymous identities and unknown courses
func (g *Gate) CanJoin(ctx context.Context, id types.Identity, courseID int64) bool {
	if !id.Authenticated() {
		return false
	}
	course, err := g.courses.GetCourse(ctx, courseID)
	if err != nil {
		return false
	}
	if course.IsTeacher(id.UserID) {
		return true
	}
	return course.IsEnrolled(id.UserID) && !course.IsBlocked(id.UserID)
}

// Authorize is CanJoin as an error. A missing course is reported as
// unauthorized so callers cannot probe which courses exist.
func (g *Gate) Authorize(ctx context.Context, id types.Identity, courseID int64) error {
	if !g.CanJoin(ctx, id, courseID) {
		return interfaces.ErrUnauthorized
	}
	return nil
}
