package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

// CreateSQLiteFixture creates a state database holding a session id
func CreateSQLiteFixture(t *testing.T, dbPath string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		t.Fatalf("Failed to create fixture directory: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT
	)`
	if _, err := db.Exec(createTableSQL); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	if _, err := db.Exec("INSERT INTO kv (key, value) VALUES (?, ?)", "ai_doctor_session_id", "fixture-session"); err != nil {
		t.Fatalf("Failed to insert session id: %v", err)
	}
}

// SSEFrame renders one data frame terminated by a blank line
func SSEFrame(payload string) string {
	return fmt.Sprintf("data: %s\n\n", payload)
}

// SSEBody renders a complete stream body from JSON payloads
func SSEBody(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString(SSEFrame(p))
	}
	return b.String()
}

// SplitEvery splits s into chunks of n bytes; the last chunk may be shorter
func SplitEvery(s string, n int) []string {
	if n <= 0 {
		return []string{s}
	}
	var chunks []string
	for len(s) > n {
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
