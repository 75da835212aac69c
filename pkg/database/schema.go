package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks that a sqlite database carries the social graph schema
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check in order
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range []string{"users", "friendships", "schema_migrations"} {
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

// ValidateTableStructure verifies column types match what the gateway scans
func (v *SchemaValidator) ValidateTableStructure() error {
	userColumns := map[string]string{
		"id":     "TEXT",
		"name":   "TEXT",
		"avatar": "TEXT",
	}
	if err := v.validateColumns("users", userColumns); err != nil {
		return fmt.Errorf("users table structure invalid: %w", err)
	}

	friendshipColumns := map[string]string{
		"requester_id": "TEXT",
		"recipient_id": "TEXT",
		"status":       "TEXT",
		"blocked_by":   "TEXT",
		"updated_at":   "DATETIME",
	}
	if err := v.validateColumns("friendships", friendshipColumns); err != nil {
		return fmt.Errorf("friendships table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that the lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range []string{"idx_friendships_recipient", "idx_friendships_status"} {
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

// ValidateConstraints verifies the status check constraint is enforced.
// It writes and removes probe rows, so it is meant for deployment checks.
func (v *SchemaValidator) ValidateConstraints() error {
	if _, err := v.db.Exec(`INSERT OR IGNORE INTO users (id, name) VALUES ('__probe_a', 'probe'), ('__probe_b', 'probe')`); err != nil {
		return fmt.Errorf("failed to create probe users: %w", err)
	}
	defer func() {
		_, _ = v.db.Exec(`DELETE FROM users WHERE id IN ('__probe_a', '__probe_b')`)
	}()

	_, err := v.db.Exec(`INSERT INTO friendships (requester_id, recipient_id, status) VALUES ('__probe_a', '__probe_b', 'muted')`)
	if err == nil {
		_, _ = v.db.Exec(`DELETE FROM friendships WHERE requester_id = '__probe_a'`)
		return fmt.Errorf("check constraint not enforced: friendships.status")
	}

	_, err = v.db.Exec(`INSERT INTO friendships (requester_id, recipient_id, status) VALUES ('__probe_a', '__missing', 'pending')`)
	if err == nil {
		_, _ = v.db.Exec(`DELETE FROM friendships WHERE requester_id = '__probe_a'`)
		return fmt.Errorf("foreign key constraint not enforced: friendships.recipient_id")
	}

	return nil
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

// validateColumns checks that a table has the expected columns with correct types
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
			defaultValue interface{}
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

	for col, wantType := range expected {
		gotType, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if gotType != wantType {
			return fmt.Errorf("column %s has type %s, expected %s", col, gotType, wantType)
		}
	}
	return nil
}
