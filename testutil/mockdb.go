package testutil

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

// CreateInMemoryDB creates an in-memory SQLite database with the kv table
func CreateInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}
	// Every pooled connection would otherwise get its own empty database
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT
	)`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		t.Fatalf("Failed to create kv table: %v", err)
	}

	return db
}

// CreateTestDB creates a test database holding a session id and a setting
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db := CreateInMemoryDB(t)

	rows := []struct {
		key   string
		value string
	}{
		{key: "ai_doctor_session_id", value: "11111111-2222-4333-8444-555555555555"},
		{key: "last_sync", value: "2024-01-01T00:00:00Z"},
	}

	for _, row := range rows {
		if _, err := db.Exec("INSERT INTO kv (key, value) VALUES (?, ?)", row.key, row.value); err != nil {
			db.Close()
			t.Fatalf("Failed to insert %s: %v", row.key, err)
		}
	}

	return db
}
