package database

import (
	"database/sql"
	"fmt"
)

var requiredTables = []string{
	"users",
	"courses",
	"course_enrollments",
	"course_blocks",
	"chat_messages",
	"notifications",
	"feedback",
	"materials",
	"status_updates",
	"schema_migrations",
}

var requiredIndexes = []string{
	"idx_courses_teacher",
	"idx_enrollments_user",
	"idx_chat_messages_course",
	"idx_notifications_user",
	"idx_feedback_course",
	"idx_materials_course",
	"idx_status_updates_user",
}

// SchemaValidator checks a database against the schema the code expects
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateIndexes(); err != nil {
		return err
	}
	return v.ValidateChatMessagesLayout()
}

func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateChatMessagesLayout checks the persisted chat layout: keyed by
// auto-increment id with course, sender, text and timestamp columns.
func (v *SchemaValidator) ValidateChatMessagesLayout() error {
	return v.validateColumns("chat_messages", map[string]string{
		"id":        "INTEGER",
		"course_id": "INTEGER",
		"sender_id": "INTEGER",
		"message":   "TEXT",
		"timestamp": "DATETIME",
	})
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, wantType := range expected {
		gotType, ok := found[column]
		if !ok {
			return fmt.Errorf("%s: column %s not found", tableName, column)
		}
		if gotType != wantType {
			return fmt.Errorf("%s: column %s has type %s, expected %s", tableName, column, gotType, wantType)
		}
	}
	return nil
}
