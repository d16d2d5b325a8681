package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestWALMode(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer db.Close()

	var journalMode string
	err = db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}

	// In-memory databases report "memory"
	if journalMode != "memory" && journalMode != "wal" {
		t.Errorf("Expected journal_mode to be 'memory' or 'wal', got: %s", journalMode)
	}

	var busyTimeout int
	err = db.conn.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout)
	if err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}

	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout to be 5000, got: %d", busyTimeout)
	}
}

func TestWALModeWithFile(t *testing.T) {
	tmpDB := t.TempDir() + "/test.db"

	db, err := New(tmpDB)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer db.Close()

	var journalMode string
	err = db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}

	if journalMode != "wal" {
		t.Errorf("Expected journal_mode to be 'wal' for file database, got: %s", journalMode)
	}
}

func TestSchemaTablesAndIndexes(t *testing.T) {
	tmpDB := t.TempDir() + "/test.db"

	db, err := New(tmpDB)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"users", "partners", "messages", "payments", "payout_history", "push_subscriptions"} {
		var n int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		if err != nil {
			t.Fatalf("Failed to inspect schema: %v", err)
		}
		if n != 1 {
			t.Fatalf("Expected table %s to exist", table)
		}
	}

	var idx int
	err = db.conn.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'index' AND name = 'idx_payments_provider_tx'
	`).Scan(&idx)
	if err != nil {
		t.Fatalf("Failed to inspect payment index: %v", err)
	}
	if idx != 1 {
		t.Fatalf("Expected idx_payments_provider_tx index to exist")
	}
}

func TestPaymentProviderTxIsUnique(t *testing.T) {
	db, err := New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer db.Close()

	_, err = db.conn.Exec(`
		INSERT INTO users (id, email, password_hash) VALUES (1, 'a@example.com', 'x');
		INSERT INTO messages (id, slug, user_id, title, body, price_cents) VALUES (1, 's1', 1, 't', 'b', 500);
		INSERT INTO payments (message_id, provider, provider_tx_id, amount_cents, platform_fee_cents, sender_earnings_cents)
		VALUES (1, 'stripe', 'cs_1', 500, 50, 450);
	`)
	if err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	_, err = db.conn.Exec(`
		INSERT INTO payments (message_id, provider, provider_tx_id, amount_cents, platform_fee_cents, sender_earnings_cents)
		VALUES (1, 'stripe', 'cs_1', 500, 50, 450)
	`)
	if err == nil {
		t.Fatalf("Expected duplicate provider transaction to be rejected")
	}
}

func TestPriceMustBePositive(t *testing.T) {
	db, err := New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer db.Close()

	db.conn.Exec(`INSERT INTO users (id, email, password_hash) VALUES (1, 'a@example.com', 'x')`)

	_, err = db.conn.Exec(`INSERT INTO messages (slug, user_id, title, body, price_cents) VALUES ('s0', 1, 't', 'b', 0)`)
	if err == nil {
		t.Fatalf("Expected zero price to violate the check constraint")
	}
}

func TestMigrateAddsDeletedAtToExistingMessages(t *testing.T) {
	path := t.TempDir() + "/legacy.db"

	legacy, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to open legacy database: %v", err)
	}
	_, err = legacy.Exec(`
		CREATE TABLE messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			slug TEXT UNIQUE NOT NULL,
			user_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			body TEXT,
			file_key TEXT,
			price_cents INTEGER NOT NULL,
			delete_at TIMESTAMP,
			disappeared INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		INSERT INTO messages (slug, user_id, title, body, price_cents) VALUES ('old', 1, 't', 'b', 500);
	`)
	legacy.Close()
	if err != nil {
		t.Fatalf("Failed to seed legacy schema: %v", err)
	}

	db, err := New(path)
	if err != nil {
		t.Fatalf("Failed to migrate legacy database: %v", err)
	}
	defer db.Close()

	var deleted sql.NullTime
	if err := db.conn.QueryRow(`SELECT deleted_at FROM messages WHERE slug = 'old'`).Scan(&deleted); err != nil {
		t.Fatalf("Expected deleted_at column after migration: %v", err)
	}
	if deleted.Valid {
		t.Errorf("Expected existing rows to have no deleted_at, got %v", deleted.Time)
	}

	// A second open must not try to add the column again.
	db.Close()
	again, err := New(path)
	if err != nil {
		t.Fatalf("Failed to reopen migrated database: %v", err)
	}
	again.Close()
}
