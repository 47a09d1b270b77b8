package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"coursechat/pkg/types"
)

// Append persists a chat message, assigning its id and timestamp.
// The timestamp is never earlier than the last one stored for the course.
func (m *Manager) Append(ctx context.Context, message *types.ChatMessage) error {
	if err := message.Validate(); err != nil {
		return err
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		ts := time.Now().UTC()
		var last time.Time
		err = tx.QueryRowContext(ctx,
			`SELECT timestamp FROM chat_messages WHERE course_id = ? ORDER BY id DESC LIMIT 1`,
			message.CourseID).Scan(&last)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to read last timestamp: %w", err)
		case last.After(ts):
			ts = last.UTC()
		}

		result, err := tx.ExecContext(ctx,
			`INSERT INTO chat_messages (course_id, sender_id, message, timestamp) VALUES (?, ?, ?, ?)`,
			message.CourseID, message.SenderID, message.Message, ts)
		if err != nil {
			return fmt.Errorf("failed to insert chat message: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read message id: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit chat message: %w", err)
		}

		message.ID = id
		message.Timestamp = ts
		return nil
	})
}

// History returns the course's messages in insertion order
func (m *Manager) History(ctx context.Context, courseID int64) ([]*types.ChatMessage, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT cm.id, cm.course_id, cm.sender_id, COALESCE(u.username, ''), cm.message, cm.timestamp
		FROM chat_messages cm
		LEFT JOIN users u ON u.id = cm.sender_id
		WHERE cm.course_id = ?
		ORDER BY cm.id ASC`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer rows.Close()

	var messages []*types.ChatMessage
	for rows.Next() {
		msg := &types.ChatMessage{}
		if err := rows.Scan(&msg.ID, &msg.CourseID, &msg.SenderID, &msg.Sender, &msg.Message, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		if msg.Sender == "" {
			msg.Sender = types.AnonymousName
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
