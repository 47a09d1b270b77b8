// Package course owns courses, enrollment and blocking, and answers chat
// membership questions through Gate.
package course

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"coursechat/internal/notify"
	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

// Repository is the persistence the registry needs
type Repository interface {
	interfaces.CourseRepository
	interfaces.UserRepository
	interfaces.FeedbackRepository
	interfaces.MaterialRepository
}

// BlockListener is told after a student has been blocked from a course
type BlockListener interface {
	StudentBlocked(ctx context.Context, courseID, studentID int64)
}

// BlockListenerFunc adapts a function to BlockListener
type BlockListenerFunc func(ctx context.Context, courseID, studentID int64)

func (f BlockListenerFunc) StudentBlocked(ctx context.Context, courseID, studentID int64) {
	f(ctx, courseID, studentID)
}

// Registry is the course registry. Courses are cached after first load and
// the cache entry is dropped on every mutation. A load only fills the cache
// if no mutation of that course happened while it was reading.
type Registry struct {
	repo     Repository
	notifier notify.Publisher
	log      *slog.Logger

	courses    map[int64]*types.Course
	versions   map[int64]uint64
	generation uint64
	mu         sync.RWMutex

	listeners []BlockListener
	lmu       sync.RWMutex
}

func NewRegistry(repo Repository, notifier notify.Publisher, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		repo:     repo,
		notifier: notifier,
		log:      log.With("component", "course"),
		courses:  make(map[int64]*types.Course),
		versions: make(map[int64]uint64),
	}
}

// OnBlock registers a listener for block events
func (r *Registry) OnBlock(l BlockListener) {
	r.lmu.Lock()
	r.listeners = append(r.listeners, l)
	r.lmu.Unlock()
}

// CreateCourse creates a course owned by the acting teacher
func (r *Registry) CreateCourse(ctx context.Context, actor types.Identity, title, description string) (*types.Course, error) {
	if !actor.Authenticated() || actor.Role != types.RoleTeacher {
		return nil, ErrTeacherOnly
	}
	course := &types.Course{
		Title:       title,
		Description: description,
		TeacherID:   actor.UserID,
		EnrolledIDs: []int64{},
	}
	if err := course.Validate(); err != nil {
		return nil, err
	}
	if err := r.repo.CreateCourse(ctx, course); err != nil {
		return nil, fmt.Errorf("failed to create course: %w", err)
	}

	r.log.Info("course created", "course_id", course.ID, "teacher_id", actor.UserID)
	return cloneCourse(course), nil
}

// GetCourse returns a copy of the course
func (r *Registry) GetCourse(ctx context.Context, courseID int64) (*types.Course, error) {
	r.mu.RLock()
	if c, ok := r.courses[courseID]; ok {
		r.mu.RUnlock()
		return cloneCourse(c), nil
	}
	version, generation := r.versions[courseID], r.generation
	r.mu.RUnlock()

	c, err := r.repo.GetCourse(ctx, courseID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.versions[courseID] == version && r.generation == generation {
		r.courses[courseID] = c
	}
	r.mu.Unlock()
	return cloneCourse(c), nil
}

// ListCourses returns every course, minus those a student is blocked from
func (r *Registry) ListCourses(ctx context.Context, actor types.Identity) ([]*types.Course, error) {
	courses, err := r.repo.ListCourses(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role != types.RoleStudent {
		return courses, nil
	}
	return lo.Reject(courses, func(c *types.Course, _ int) bool {
		return c.IsBlocked(actor.UserID)
	}), nil
}

// Enroll adds the acting student to the course and notifies the teacher.
// Enrolling again is a no-op.
func (r *Registry) Enroll(ctx context.Context, actor types.Identity, courseID int64) error {
	if !actor.Authenticated() || actor.Role != types.RoleStudent {
		return ErrStudentOnly
	}
	course, err := r.GetCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if course.IsBlocked(actor.UserID) {
		return ErrBlocked
	}
	if course.IsEnrolled(actor.UserID) {
		return nil
	}

	if err := r.repo.AddEnrollment(ctx, courseID, actor.UserID); err != nil {
		if errors.Is(err, interfaces.ErrConflict) {
			return ErrBlocked
		}
		return fmt.Errorf("failed to enroll: %w", err)
	}
	r.invalidate(courseID)

	r.publish(ctx, course.TeacherID, fmt.Sprintf("Student %s enrolled in %s.", actor.Username, course.Title))
	r.log.Info("student enrolled", "course_id", courseID, "user_id", actor.UserID)
	return nil
}

// RemoveStudent drops an enrollment; only the course teacher may do it
func (r *Registry) RemoveStudent(ctx context.Context, actor types.Identity, courseID, studentID int64) error {
	course, err := r.ownedCourse(ctx, actor, courseID)
	if err != nil {
		return err
	}
	if !course.IsEnrolled(studentID) {
		return ErrStudentNotFound
	}

	if err := r.repo.RemoveEnrollment(ctx, courseID, studentID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return ErrStudentNotFound
		}
		return fmt.Errorf("failed to remove student: %w", err)
	}
	r.invalidate(courseID)

	r.publish(ctx, studentID, fmt.Sprintf("You have been removed from %s by %s.", course.Title, actor.Username))
	r.log.Info("student removed", "course_id", courseID, "user_id", studentID)
	return nil
}

// BlockStudent blocks a student, dropping any enrollment, then tells the
// student and the block listeners.
func (r *Registry) BlockStudent(ctx context.Context, actor types.Identity, courseID, studentID int64) error {
	course, err := r.ownedCourse(ctx, actor, courseID)
	if err != nil {
		return err
	}
	student, err := r.repo.GetUser(ctx, studentID)
	if errors.Is(err, interfaces.ErrNotFound) || (err == nil && student.Role != types.RoleStudent) {
		return ErrStudentNotFound
	}
	if err != nil {
		return err
	}

	if err := r.repo.BlockUser(ctx, courseID, studentID); err != nil {
		return fmt.Errorf("failed to block student: %w", err)
	}
	r.invalidate(courseID)

	r.publish(ctx, studentID, fmt.Sprintf("You have been banned from %s by %s.", course.Title, actor.Username))
	r.log.Info("student blocked", "course_id", courseID, "user_id", studentID)

	r.lmu.RLock()
	listeners := slices.Clone(r.listeners)
	r.lmu.RUnlock()
	for _, l := range listeners {
		l.StudentBlocked(ctx, courseID, studentID)
	}
	return nil
}

func (r *Registry) UnblockStudent(ctx context.Context, actor types.Identity, courseID, studentID int64) error {
	if _, err := r.ownedCourse(ctx, actor, courseID); err != nil {
		return err
	}
	if err := r.repo.UnblockUser(ctx, courseID, studentID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return ErrStudentNotFound
		}
		return fmt.Errorf("failed to unblock student: %w", err)
	}
	r.invalidate(courseID)

	r.log.Info("student unblocked", "course_id", courseID, "user_id", studentID)
	return nil
}

// AddFeedback records a student's comment on a course
func (r *Registry) AddFeedback(ctx context.Context, actor types.Identity, courseID int64, comment string) (*types.Feedback, error) {
	if !actor.Authenticated() || actor.Role != types.RoleStudent {
		return nil, ErrStudentOnly
	}
	if _, err := r.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	f := &types.Feedback{CourseID: courseID, StudentID: actor.UserID, Comment: comment}
	if err := r.repo.CreateFeedback(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to add feedback: %w", err)
	}
	return f, nil
}

func (r *Registry) ListFeedback(ctx context.Context, courseID int64) ([]*types.Feedback, error) {
	if _, err := r.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return r.repo.ListFeedback(ctx, courseID)
}

// AddMaterial records a material reference and notifies enrolled students
func (r *Registry) AddMaterial(ctx context.Context, actor types.Identity, courseID int64, title, url string) (*types.Material, error) {
	course, err := r.ownedCourse(ctx, actor, courseID)
	if err != nil {
		return nil, err
	}
	m := &types.Material{
		ID:         uuid.New().String(),
		CourseID:   courseID,
		Title:      title,
		URL:        url,
		UploadedAt: time.Now().UTC(),
	}
	if err := r.repo.CreateMaterial(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to add material: %w", err)
	}

	text := fmt.Sprintf("New material added to %s.", course.Title)
	for _, studentID := range course.EnrolledIDs {
		r.publish(ctx, studentID, text)
	}
	return m, nil
}

// ListMaterials shows materials to the course teacher and enrolled students only
func (r *Registry) ListMaterials(ctx context.Context, actor types.Identity, courseID int64) ([]*types.Material, error) {
	course, err := r.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !course.IsTeacher(actor.UserID) && !course.IsEnrolled(actor.UserID) {
		return []*types.Material{}, nil
	}
	return r.repo.ListMaterials(ctx, courseID)
}

// Stats reports cache usage
func (r *Registry) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]interface{}{
		"cached_courses": len(r.courses),
	}
}

func (r *Registry) ownedCourse(ctx context.Context, actor types.Identity, courseID int64) (*types.Course, error) {
	course, err := r.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !course.IsTeacher(actor.UserID) {
		return nil, ErrCourseTeacher
	}
	return course, nil
}

func (r *Registry) invalidate(courseID int64) {
	r.mu.Lock()
	delete(r.courses, courseID)
	r.versions[courseID]++
	r.mu.Unlock()
}

// ForgetUser drops every cached course. A deleted account may have owned or
// belonged to any of them.
func (r *Registry) ForgetUser(_ context.Context, userID int64) {
	r.mu.Lock()
	clear(r.courses)
	r.generation++
	r.mu.Unlock()
	r.log.Debug("course cache cleared", "user_id", userID)
}

// publish never fails the mutation that triggered it
func (r *Registry) publish(ctx context.Context, userID int64, text string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Publish(ctx, userID, text); err != nil {
		r.log.Warn("failed to publish notification", "user_id", userID, "err", err)
	}
}

func cloneCourse(c *types.Course) *types.Course {
	out := *c
	out.EnrolledIDs = slices.Clone(c.EnrolledIDs)
	out.BlockedIDs = slices.Clone(c.BlockedIDs)
	return &out
}
