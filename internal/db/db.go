package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL lets readers proceed while a writer holds the lock
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait up to 5 seconds instead of failing with SQLITE_BUSY
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	// -64000 = 64MB cache
	if _, err := conn.Exec("PRAGMA cache_size=-64000"); err != nil {
		return nil, fmt.Errorf("failed to set cache size: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT UNIQUE NOT NULL COLLATE NOCASE,
		password_hash TEXT NOT NULL,
		display_name TEXT,
		payout_method TEXT,
		payout_address TEXT,
		stripe_account_id TEXT,
		is_admin INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS partners (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_user_id INTEGER NOT NULL,
		min_price_cents INTEGER NOT NULL,
		max_price_cents INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'usd',
		theme TEXT NOT NULL DEFAULT '{}',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (owner_user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT UNIQUE NOT NULL,
		user_id INTEGER NOT NULL,
		partner_id TEXT,
		title TEXT NOT NULL,
		recipient_label TEXT NOT NULL DEFAULT '',
		body TEXT,
		file_key TEXT,
		file_name TEXT,
		file_type TEXT,
		preview_url TEXT,
		price_cents INTEGER NOT NULL CHECK (price_cents > 0),
		currency TEXT NOT NULL DEFAULT 'usd',
		unlocked INTEGER NOT NULL DEFAULT 0,
		unlocked_at TIMESTAMP,
		active INTEGER NOT NULL DEFAULT 1,
		expires_at TIMESTAMP,
		view_count INTEGER NOT NULL DEFAULT 0,
		max_views INTEGER,
		first_viewed_at TIMESTAMP,
		delete_after_minutes INTEGER,
		delete_at TIMESTAMP,
		disappeared INTEGER NOT NULL DEFAULT 0,
		disappeared_reason TEXT,
		disappeared_at TIMESTAMP,
		deleted_at TIMESTAMP,
		sender_email TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (partner_id) REFERENCES partners(id)
	);

	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL,
		provider TEXT NOT NULL,
		provider_tx_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		platform_fee_cents INTEGER NOT NULL,
		sender_earnings_cents INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'usd',
		payer_email TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (message_id) REFERENCES messages(id)
	);

	CREATE TABLE IF NOT EXISTS payout_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'usd',
		method TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		provider_ref TEXT,
		created_by INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS push_subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		endpoint TEXT UNIQUE NOT NULL,
		p256dh TEXT NOT NULL,
		auth TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		revoked_at TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_file_key ON messages(file_key);
	CREATE INDEX IF NOT EXISTS idx_messages_delete_at ON messages(delete_at) WHERE disappeared = 0;
	CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at DESC);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_provider_tx ON payments(provider, provider_tx_id);
	CREATE INDEX IF NOT EXISTS idx_payments_message_id ON payments(message_id);
	CREATE INDEX IF NOT EXISTS idx_payout_history_user_id ON payout_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user_id ON push_subscriptions(user_id);
	`

	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release; CREATE TABLE IF NOT EXISTS
	// leaves older tables untouched.
	return db.addColumnIfMissing("messages", "deleted_at", "TIMESTAMP")
}

func (db *DB) addColumnIfMissing(table, column, decl string) error {
	rows, err := db.conn.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	if _, err := db.conn.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl)); err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) GetConn() *sql.DB {
	return db.conn
}
