package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

func (m *Manager) CreateCourse(ctx context.Context, course *types.Course) error {
	if err := course.Validate(); err != nil {
		return err
	}
	if course.CreatedAt.IsZero() {
		course.CreatedAt = time.Now().UTC()
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		result, err := tx.ExecContext(ctx,
			`INSERT INTO courses (title, description, teacher_id, created_at) VALUES (?, ?, ?, ?)`,
			course.Title, course.Description, course.TeacherID, course.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create course: %w", translateError(err))
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read course id: %w", err)
		}

		for _, userID := range course.EnrolledIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO course_enrollments (course_id, user_id) VALUES (?, ?)`, id, userID); err != nil {
				return fmt.Errorf("failed to enroll user %d: %w", userID, err)
			}
		}
		for _, userID := range course.BlockedIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO course_blocks (course_id, user_id) VALUES (?, ?)`, id, userID); err != nil {
				return fmt.Errorf("failed to block user %d: %w", userID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit course: %w", err)
		}
		course.ID = id
		return nil
	})
}

// GetCourse reads the course row and both membership sets from one snapshot
func (m *Manager) GetCourse(ctx context.Context, courseID int64) (*types.Course, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	course := &types.Course{}
	err = tx.QueryRowContext(ctx,
		`SELECT id, title, description, teacher_id, created_at FROM courses WHERE id = ?`, courseID).
		Scan(&course.ID, &course.Title, &course.Description, &course.TeacherID, &course.CreatedAt)
	if err != nil {
		return nil, translateError(err)
	}

	if course.EnrolledIDs, err = memberIDs(ctx, tx, "course_enrollments", courseID); err != nil {
		return nil, err
	}
	if course.BlockedIDs, err = memberIDs(ctx, tx, "course_blocks", courseID); err != nil {
		return nil, err
	}
	return course, nil
}

func (m *Manager) ListCourses(ctx context.Context) ([]*types.Course, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id FROM courses ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan course id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	courses := make([]*types.Course, 0, len(ids))
	for _, id := range ids {
		course, err := m.GetCourse(ctx, id)
		if err != nil {
			return nil, err
		}
		courses = append(courses, course)
	}
	return courses, nil
}

// memberIDs reads one of the course membership tables; table is never user input
func memberIDs(ctx context.Context, tx *sql.Tx, table string, courseID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT user_id FROM %s WHERE course_id = ? ORDER BY user_id`, table), courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (m *Manager) AddEnrollment(ctx context.Context, courseID, userID int64) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		var blocked int
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM course_blocks WHERE course_id = ? AND user_id = ?`, courseID, userID).Scan(&blocked); err != nil {
			return fmt.Errorf("failed to check block: %w", err)
		}
		if blocked > 0 {
			return fmt.Errorf("%w: user %d is blocked from course %d", interfaces.ErrConflict, userID, courseID)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO course_enrollments (course_id, user_id) VALUES (?, ?)`, courseID, userID); err != nil {
			return fmt.Errorf("failed to enroll user: %w", translateError(err))
		}
		return nil
	})
}

func (m *Manager) RemoveEnrollment(ctx context.Context, courseID, userID int64) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			`DELETE FROM course_enrollments WHERE course_id = ? AND user_id = ?`, courseID, userID)
		if err != nil {
			return fmt.Errorf("failed to remove enrollment: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}

func (m *Manager) BlockUser(ctx context.Context, courseID, userID int64) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM course_enrollments WHERE course_id = ? AND user_id = ?`, courseID, userID); err != nil {
			return fmt.Errorf("failed to drop enrollment: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO course_blocks (course_id, user_id) VALUES (?, ?)`, courseID, userID); err != nil {
			return fmt.Errorf("failed to block user: %w", translateError(err))
		}
		return tx.Commit()
	})
}

func (m *Manager) UnblockUser(ctx context.Context, courseID, userID int64) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			`DELETE FROM course_blocks WHERE course_id = ? AND user_id = ?`, courseID, userID)
		if err != nil {
			return fmt.Errorf("failed to unblock user: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}
