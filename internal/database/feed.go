package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

func (m *Manager) CreateNotification(ctx context.Context, n *types.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			`INSERT INTO notifications (user_id, message, is_read, created_at) VALUES (?, ?, ?, ?)`,
			n.UserID, n.Message, n.IsRead, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create notification: %w", translateError(err))
		}
		n.ID, err = result.LastInsertId()
		return err
	})
}

// ListNotifications returns the user's feed, newest first
func (m *Manager) ListNotifications(ctx context.Context, userID int64) ([]*types.Notification, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, user_id, message, is_read, created_at FROM notifications
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*types.Notification
	for rows.Next() {
		n := &types.Notification{}
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (m *Manager) MarkNotificationRead(ctx context.Context, userID, notificationID int64) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`, notificationID, userID)
		if err != nil {
			return fmt.Errorf("failed to mark notification read: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}

func (m *Manager) CreateFeedback(ctx context.Context, f *types.Feedback) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			`INSERT INTO feedback (course_id, student_id, comment, created_at) VALUES (?, ?, ?, ?)`,
			f.CourseID, f.StudentID, f.Comment, f.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create feedback: %w", translateError(err))
		}
		f.ID, err = result.LastInsertId()
		return err
	})
}

func (m *Manager) ListFeedback(ctx context.Context, courseID int64) ([]*types.Feedback, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, course_id, student_id, comment, created_at FROM feedback
		 WHERE course_id = ? ORDER BY created_at DESC, id DESC`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var out []*types.Feedback
	for rows.Next() {
		f := &types.Feedback{}
		if err := rows.Scan(&f.ID, &f.CourseID, &f.StudentID, &f.Comment, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (m *Manager) CreateMaterial(ctx context.Context, mat *types.Material) error {
	if mat.UploadedAt.IsZero() {
		mat.UploadedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO materials (id, course_id, title, url, uploaded_at) VALUES (?, ?, ?, ?, ?)`,
			mat.ID, mat.CourseID, mat.Title, mat.URL, mat.UploadedAt); err != nil {
			return fmt.Errorf("failed to create material: %w", translateError(err))
		}
		return nil
	})
}

func (m *Manager) ListMaterials(ctx context.Context, courseID int64) ([]*types.Material, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, course_id, title, url, uploaded_at FROM materials
		 WHERE course_id = ? ORDER BY uploaded_at ASC`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	defer rows.Close()

	var out []*types.Material
	for rows.Next() {
		mat := &types.Material{}
		if err := rows.Scan(&mat.ID, &mat.CourseID, &mat.Title, &mat.URL, &mat.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan material: %w", err)
		}
		out = append(out, mat)
	}
	return out, rows.Err()
}
