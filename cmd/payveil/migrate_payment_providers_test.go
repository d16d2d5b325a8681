package main

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/4xmen/payveil/internal/db"
	"github.com/4xmen/payveil/pkg/config"
)

func createLegacyPaymentsDB(t *testing.T) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "legacy.db")
	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	defer dbConn.Close()

	_, err = dbConn.Exec(`
		CREATE TABLE payments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id INTEGER NOT NULL,
			stripe_session_id TEXT,
			coinbase_charge_id TEXT,
			nowpayments_payment_id TEXT,
			amount_cents INTEGER NOT NULL,
			platform_fee_cents INTEGER NOT NULL,
			sender_earnings_cents INTEGER NOT NULL,
			currency TEXT NOT NULL DEFAULT 'usd',
			payer_email TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		t.Fatalf("failed to create legacy schema: %v", err)
	}

	_, err = dbConn.Exec(`
		INSERT INTO payments (message_id, stripe_session_id, amount_cents, platform_fee_cents, sender_earnings_cents)
			VALUES (1, 'cs_1', 500, 50, 450);
		INSERT INTO payments (message_id, coinbase_charge_id, amount_cents, platform_fee_cents, sender_earnings_cents)
			VALUES (2, 'CB-2', 1000, 100, 900);
		INSERT INTO payments (message_id, nowpayments_payment_id, amount_cents, platform_fee_cents, sender_earnings_cents, payer_email)
			VALUES (3, '4455', 300, 30, 270, 'p@example.com');
	`)
	if err != nil {
		t.Fatalf("failed to seed legacy data: %v", err)
	}

	return dbPath
}

func TestPaymentProvidersMigrationSuccess(t *testing.T) {
	dbPath := createLegacyPaymentsDB(t)

	var out bytes.Buffer
	if err := runPaymentProvidersMigration(&out, paymentProvidersMigrationOptions{DatabasePath: dbPath}); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	if !strings.Contains(out.String(), "Migration completed") {
		t.Fatalf("expected completion output, got: %s", out.String())
	}

	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("failed to open migrated database: %v", err)
	}
	defer dbConn.Close()

	hasLegacy, err := paymentsTableHasLegacyColumns(dbConn)
	if err != nil {
		t.Fatalf("failed to inspect schema: %v", err)
	}
	if hasLegacy {
		t.Fatal("legacy columns should be removed after migration")
	}

	want := map[int64][2]string{
		1: {"stripe", "cs_1"},
		2: {"coinbase", "CB-2"},
		3: {"nowpayments", "4455"},
	}
	rows, err := dbConn.Query("SELECT message_id, provider, provider_tx_id FROM payments")
	if err != nil {
		t.Fatalf("failed to read payments: %v", err)
	}
	defer rows.Close()
	seen := 0
	for rows.Next() {
		var messageID int64
		var provider, txID string
		if err := rows.Scan(&messageID, &provider, &txID); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if got := [2]string{provider, txID}; got != want[messageID] {
			t.Fatalf("message %d migrated to %v, want %v", messageID, got, want[messageID])
		}
		seen++
	}
	if seen != 3 {
		t.Fatalf("payment count = %d, want 3", seen)
	}
}

func TestPaymentProvidersMigrationIdempotent(t *testing.T) {
	dbPath := createLegacyPaymentsDB(t)

	if err := runPaymentProvidersMigration(&bytes.Buffer{}, paymentProvidersMigrationOptions{DatabasePath: dbPath}); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}

	var out bytes.Buffer
	if err := runPaymentProvidersMigration(&out, paymentProvidersMigrationOptions{DatabasePath: dbPath}); err != nil {
		t.Fatalf("second migration should be idempotent, got error: %v", err)
	}
	if !strings.Contains(out.String(), "already migrated") {
		t.Fatalf("expected already migrated output, got: %s", out.String())
	}

	// the server schema bootstrap accepts the migrated table
	database, err := db.New(dbPath)
	if err != nil {
		t.Fatalf("db.New on migrated database: %v", err)
	}
	database.Close()
}

func TestPaymentProvidersMigrationDryRun(t *testing.T) {
	dbPath := createLegacyPaymentsDB(t)

	var out bytes.Buffer
	err := runPaymentProvidersMigration(&out, paymentProvidersMigrationOptions{DatabasePath: dbPath, DryRun: true})
	if err != nil {
		t.Fatalf("dry-run failed: %v", err)
	}
	if !strings.Contains(out.String(), "Would migrate 3 payments") {
		t.Fatalf("expected dry-run output, got: %s", out.String())
	}

	if err := ensurePaymentProvidersMigrated(dbPath); err == nil {
		t.Fatal("dry-run should leave the legacy schema in place")
	}
}

func TestPaymentProvidersMigrationInvalidData(t *testing.T) {
	dbPath := createLegacyPaymentsDB(t)

	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	_, err = dbConn.Exec(`UPDATE payments SET coinbase_charge_id = 'CB-X' WHERE id = 1`)
	dbConn.Close()
	if err != nil {
		t.Fatalf("failed to seed invalid data: %v", err)
	}

	err = runPaymentProvidersMigration(&bytes.Buffer{}, paymentProvidersMigrationOptions{DatabasePath: dbPath})
	if err == nil {
		t.Fatal("expected migration to fail for a payment with two provider ids")
	}
	if !strings.Contains(err.Error(), "[1]") {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ensurePaymentProvidersMigrated(dbPath); err == nil {
		t.Fatal("failed migration should leave legacy schema intact")
	}
}

func TestEnsurePaymentProvidersMigrated(t *testing.T) {
	if err := ensurePaymentProvidersMigrated(filepath.Join(t.TempDir(), "fresh.db")); err != nil {
		t.Fatalf("a missing database needs no migration: %v", err)
	}

	dbPath := createLegacyPaymentsDB(t)
	err := ensurePaymentProvidersMigrated(dbPath)
	if err == nil || !strings.Contains(err.Error(), "payveil migrate payment-providers") {
		t.Fatalf("expected migration hint, got: %v", err)
	}
}

func TestResolveLegacyProvider(t *testing.T) {
	r, ok := resolveLegacyProvider(7, []string{"", " ch_1 ", ""})
	if !ok || r.Provider != "coinbase" || r.TxID != "ch_1" {
		t.Fatalf("unexpected record: %+v ok=%v", r, ok)
	}
	if _, ok := resolveLegacyProvider(8, []string{"", "", ""}); ok {
		t.Fatal("a payment with no provider id must be rejected")
	}
}

func TestParsePaymentProvidersMigrationArgs(t *testing.T) {
	cfg := &config.Config{DatabasePath: "/tmp/default.db"}

	opts, err := parsePaymentProvidersMigrationArgs(cfg, []string{"--dry-run", "--database", "/tmp/override.db"})
	if err != nil {
		t.Fatalf("parse args failed: %v", err)
	}
	if !opts.DryRun {
		t.Fatal("expected dry-run to be true")
	}
	if opts.DatabasePath != "/tmp/override.db" {
		t.Fatalf("database path = %q, want override", opts.DatabasePath)
	}

	if _, err := parsePaymentProvidersMigrationArgs(cfg, []string{"--database"}); err == nil {
		t.Fatal("expected error when --database has no value")
	}
	if _, err := parsePaymentProvidersMigrationArgs(cfg, []string{"--force"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestRunMigrateUnknownTarget(t *testing.T) {
	if err := runMigrate(&config.Config{}, &bytes.Buffer{}, []string{"conversations"}); err == nil {
		t.Fatal("expected error for unknown target")
	}
}
