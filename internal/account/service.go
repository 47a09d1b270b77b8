// Package account is the user directory around auth: listing, search,
// profile edits, status updates and public profiles.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"coursechat/internal/auth"
	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

// Repository is the persistence the service needs
type Repository interface {
	interfaces.UserRepository
	interfaces.AccountRepository
	interfaces.StatusRepository
	ListCourses(ctx context.Context) ([]*types.Course, error)
}

// UpdateRequest carries the editable fields; nil means unchanged
type UpdateRequest struct {
	RealName *string `json:"real_name" validate:"omitempty,max=150"`
	Password *string `json:"password" validate:"omitempty,min=8,max=72"`
}

// StatusRequest is the body of a new status update
type StatusRequest struct {
	Content string `json:"content" validate:"max=1000"`
}

// DeleteListener is called after an account is gone
type DeleteListener func(ctx context.Context, userID int64)

type Service struct {
	repo     Repository
	params   auth.HashParams
	validate *validator.Validate
	log      *slog.Logger

	listeners []DeleteListener
	lmu       sync.RWMutex
}

func NewService(repo Repository, params auth.HashParams, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:     repo,
		params:   params,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log.With("component", "account"),
	}
}

// OnDelete registers a listener for account deletion
func (s *Service) OnDelete(l DeleteListener) {
	s.lmu.Lock()
	s.listeners = append(s.listeners, l)
	s.lmu.Unlock()
}

func (s *Service) ListUsers(ctx context.Context) ([]*types.User, error) {
	return s.repo.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, userID int64) (*types.User, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// Search matches username or real name. Only teachers may search; a blank
// query finds nobody.
func (s *Service) Search(ctx context.Context, actor types.Identity, query string) ([]*types.User, error) {
	if !actor.Authenticated() || actor.Role != types.RoleTeacher {
		return nil, ErrTeacherOnly
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []*types.User{}, nil
	}
	return s.repo.SearchUsers(ctx, query)
}

// Update changes the actor's own real name or password
func (s *Service) Update(ctx context.Context, actor types.Identity, userID int64, req UpdateRequest) (*types.User, error) {
	if !actor.Authenticated() || actor.UserID != userID {
		return nil, ErrNotOwner
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.RealName != nil {
		user.RealName = *req.RealName
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password, s.params)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = hash
	}
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	s.log.Info("user updated", "user_id", userID, "password_changed", req.Password != nil)
	return user, nil
}

// Delete removes the actor's own account. Courses a teacher owns go with it.
func (s *Service) Delete(ctx context.Context, actor types.Identity, userID int64) error {
	if !actor.Authenticated() || actor.UserID != userID {
		return ErrNotOwner
	}
	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.log.Info("user deleted", "user_id", userID)

	s.lmu.RLock()
	listeners := s.listeners
	s.lmu.RUnlock()
	for _, l := range listeners {
		l(ctx, userID)
	}
	return nil
}

// PostStatus adds a status update for the actor
func (s *Service) PostStatus(ctx context.Context, actor types.Identity, req StatusRequest) (*types.StatusUpdate, error) {
	if !actor.Authenticated() {
		return nil, interfaces.ErrUnauthorized
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyStatus
	}
	status := &types.StatusUpdate{UserID: actor.UserID, Content: req.Content}
	if err := s.repo.CreateStatus(ctx, status); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return status, nil
}

// Statuses lists the user's updates, newest first
func (s *Service) Statuses(ctx context.Context, userID int64) ([]*types.StatusUpdate, error) {
	return s.repo.ListStatuses(ctx, userID)
}

// Profile is what anyone signed in sees of username: the account, its
// status updates and its courses.
func (s *Service) Profile(ctx context.Context, username string) (*types.Profile, error) {
	user, err := s.repo.GetUserByUsername(ctx, username)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	statuses, err := s.repo.ListStatuses(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	courses, err := s.repo.ListCourses(ctx)
	if err != nil {
		return nil, err
	}

	return &types.Profile{
		User:     user,
		Statuses: statuses,
		Courses: lo.Filter(courses, func(c *types.Course, _ int) bool {
			if user.Role == types.RoleTeacher {
				return c.TeacherID == user.ID
			}
			return c.IsEnrolled(user.ID)
		}),
	}, nil
}
