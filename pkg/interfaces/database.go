package interfaces

import (
	"context"

	"coursechat/pkg/types"
)

// MessageStore is the durable, append-only chat log.
// Append assigns ID and Timestamp: ids are unique and timestamps never go
// backwards within a course when read in insertion order.
type MessageStore interface {
	Append(ctx context.Context, message *types.ChatMessage) error

	// History returns every message of the course, oldest first
	History(ctx context.Context, courseID int64) ([]*types.ChatMessage, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// UserRepository persists platform accounts
type UserRepository interface {
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, userID int64) (*types.User, error)
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
}

// AccountRepository is the directory side of the user store
type AccountRepository interface {
	ListUsers(ctx context.Context) ([]*types.User, error)

	// SearchUsers matches query case-insensitively against username and real name
	SearchUsers(ctx context.Context, query string) ([]*types.User, error)
	UpdateUser(ctx context.Context, user *types.User) error

	// DeleteUser removes the account and everything it owns
	DeleteUser(ctx context.Context, userID int64) error
}

// StatusRepository persists status updates
type StatusRepository interface {
	CreateStatus(ctx context.Context, status *types.StatusUpdate) error

	// ListStatuses returns the user's updates, newest first
	ListStatuses(ctx context.Context, userID int64) ([]*types.StatusUpdate, error)
}

// CourseRepository persists courses with their enrollment and block sets
type CourseRepository interface {
	CreateCourse(ctx context.Context, course *types.Course) error
	GetCourse(ctx context.Context, courseID int64) (*types.Course, error)
	ListCourses(ctx context.Context) ([]*types.Course, error)
	AddEnrollment(ctx context.Context, courseID, userID int64) error
	RemoveEnrollment(ctx context.Context, courseID, userID int64) error

	// BlockUser drops any enrollment and records the block atomically
	BlockUser(ctx context.Context, courseID, userID int64) error
	UnblockUser(ctx context.Context, courseID, userID int64) error
}

// NotificationRepository persists the per-user notification feed
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *types.Notification) error
	ListNotifications(ctx context.Context, userID int64) ([]*types.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID int64) error
}

// FeedbackRepository persists course feedback
type FeedbackRepository interface {
	CreateFeedback(ctx context.Context, f *types.Feedback) error
	ListFeedback(ctx context.Context, courseID int64) ([]*types.Feedback, error)
}

// MaterialRepository persists course material references
type MaterialRepository interface {
	CreateMaterial(ctx context.Context, m *types.Material) error
	ListMaterials(ctx context.Context, courseID int64) ([]*types.Material, error)
}
