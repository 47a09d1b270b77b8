// Package notify keeps the per-user notification feed.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

// MaxMessageLength matches the notifications column limit
const MaxMessageLength = 255

var ErrInvalidRecipient = errors.New("notification recipient must be a registered user")

// Publisher is what mutating operations call to notify a user
type Publisher interface {
	Publish(ctx context.Context, userID int64, text string) error
}

// Feed publishes and reads notifications
type Feed struct {
	repo interfaces.NotificationRepository
	log  *slog.Logger
}

func NewFeed(repo interfaces.NotificationRepository, log *slog.Logger) *Feed {
	if log == nil {
		log = slog.Default()
	}
	return &Feed{repo: repo, log: log.With("component", "notify")}
}

// Publish stores an unread notification, truncating overlong text
func (f *Feed) Publish(ctx context.Context, userID int64, text string) error {
	if userID <= 0 {
		return ErrInvalidRecipient
	}
	n := &types.Notification{UserID: userID, Message: truncate(text, MaxMessageLength)}
	if err := f.repo.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	f.log.Debug("notification published", "user_id", userID, "notification_id", n.ID)
	return nil
}

// List returns the user's notifications, newest first
func (f *Feed) List(ctx context.Context, userID int64) ([]*types.Notification, error) {
	return f.repo.ListNotifications(ctx, userID)
}

// MarkRead marks one of the user's own notifications as read
func (f *Feed) MarkRead(ctx context.Context, userID, notificationID int64) error {
	return f.repo.MarkNotificationRead(ctx, userID, notificationID)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
