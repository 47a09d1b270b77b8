package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

const userColumns = `id, username, real_name, role, password_hash, created_at`

func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			`INSERT INTO users (username, real_name, role, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
			user.Username, user.RealName, string(user.Role), user.PasswordHash, user.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", translateError(err))
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read user id: %w", err)
		}
		user.ID = id
		return nil
	})
}

func (m *Manager) GetUser(ctx context.Context, userID int64) (*types.User, error) {
	return m.scanUser(m.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
}

func (m *Manager) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	return m.scanUser(m.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (m *Manager) ListUsers(ctx context.Context) ([]*types.User, error) {
	return m.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY id ASC`)
}

// SearchUsers does a substring match. SQLite's LIKE folds ASCII case and
// wildcards in query are taken literally.
func (m *Manager) SearchUsers(ctx context.Context, query string) ([]*types.User, error) {
	pattern := "%" + likeEscaper.Replace(query) + "%"
	return m.queryUsers(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE username LIKE ? ESCAPE '\' OR real_name LIKE ? ESCAPE '\'
		 ORDER BY username ASC`, pattern, pattern)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// UpdateUser writes the mutable profile fields: real name and password hash
func (m *Manager) UpdateUser(ctx context.Context, user *types.User) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			`UPDATE users SET real_name = ?, password_hash = ? WHERE id = ?`,
			user.RealName, user.PasswordHash, user.ID)
		if err != nil {
			return fmt.Errorf("failed to update user: %w", translateError(err))
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}

// DeleteUser relies on ON DELETE CASCADE for courses, memberships, messages
// and the user's feeds.
func (m *Manager) DeleteUser(ctx context.Context, userID int64) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", translateError(err))
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}

func (m *Manager) CreateStatus(ctx context.Context, status *types.StatusUpdate) error {
	if status.CreatedAt.IsZero() {
		status.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			`INSERT INTO status_updates (user_id, content, created_at) VALUES (?, ?, ?)`,
			status.UserID, status.Content, status.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create status update: %w", translateError(err))
		}
		status.ID, err = result.LastInsertId()
		return err
	})
}

func (m *Manager) ListStatuses(ctx context.Context, userID int64) ([]*types.StatusUpdate, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, user_id, content, created_at FROM status_updates
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list status updates: %w", err)
	}
	defer rows.Close()

	out := []*types.StatusUpdate{}
	for rows.Next() {
		st := &types.StatusUpdate{}
		if err := rows.Scan(&st.ID, &st.UserID, &st.Content, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status update: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (m *Manager) scanUser(row scanner) (*types.User, error) {
	user := &types.User{}
	var role string
	if err := row.Scan(&user.ID, &user.Username, &user.RealName, &role, &user.PasswordHash, &user.CreatedAt); err != nil {
		return nil, translateError(err)
	}
	user.Role = types.Role(role)
	return user, nil
}

func (m *Manager) queryUsers(ctx context.Context, query string, args ...any) ([]*types.User, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []*types.User{}
	for rows.Next() {
		user, err := m.scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
