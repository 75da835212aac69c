package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidator_MigratedDatabase(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationManager(db).ApplyMigrations())

	v := NewSchemaValidator(db)
	assert.NoError(t, v.Validate())
	assert.NoError(t, v.ValidateConstraints())

	// probe rows are removed
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count))
	assert.Zero(t, count)
}

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	v := NewSchemaValidator(openTestDB(t))
	err := v.ValidateTablesExist()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "users")
}

func TestSchemaValidator_MissingIndex(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationManager(db).ApplyMigrations())
	_, err := db.Exec("DROP INDEX idx_friendships_status")
	require.NoError(t, err)

	err = NewSchemaValidator(db).ValidateIndexes()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idx_friendships_status")
}

func TestSchemaValidator_WrongColumnType(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, avatar TEXT)`)
	require.NoError(t, err)

	err = NewSchemaValidator(db).ValidateTableStructure()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column id has type INTEGER")
}
