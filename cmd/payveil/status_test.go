package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/4xmen/payveil/internal/db"
	"github.com/4xmen/payveil/pkg/config"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{input: 0, want: "0 B"},
		{input: 1023, want: "1023 B"},
		{input: 1024, want: "1.0 KiB"},
		{input: 1536, want: "1.5 KiB"},
		{input: 1048576, want: "1.0 MiB"},
	}

	for _, tt := range tests {
		got := formatBytes(tt.input)
		if got != tt.want {
			t.Fatalf("formatBytes(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatCents(t *testing.T) {
	if got := formatCents(1250); got != "12.50" {
		t.Fatalf("formatCents(1250) = %q, want %q", got, "12.50")
	}
	if got := formatCents(0); got != "0.00" {
		t.Fatalf("formatCents(0) = %q, want %q", got, "0.00")
	}
}

func TestFormatTimestamp(t *testing.T) {
	if got := formatTimestamp(""); got != "n/a" {
		t.Fatalf("formatTimestamp(empty) = %q, want %q", got, "n/a")
	}

	const ts = "2026-02-18 10:00:00"
	if got := formatTimestamp(ts); got != ts {
		t.Fatalf("formatTimestamp(value) = %q, want %q", got, ts)
	}
}

func TestUploadUsage(t *testing.T) {
	root := t.TempDir()

	if err := os.WriteFile(filepath.Join(root, "a.pdf"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write a.pdf: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.png"), []byte("go"), 0o644); err != nil {
		t.Fatalf("write b.png: %v", err)
	}

	files, size, err := uploadUsage(root)
	if err != nil {
		t.Fatalf("uploadUsage returned error: %v", err)
	}
	if files != 2 {
		t.Fatalf("uploadUsage files = %d, want 2", files)
	}
	if size != 7 {
		t.Fatalf("uploadUsage bytes = %d, want 7", size)
	}

	if _, _, err := uploadUsage(filepath.Join(root, "missing")); err == nil {
		t.Fatal("uploadUsage should fail for a missing directory")
	}
}

func TestParseStatusArgs(t *testing.T) {
	opts, err := parseStatusArgs([]string{"--json"})
	if err != nil {
		t.Fatalf("parseStatusArgs returned error: %v", err)
	}
	if !opts.JSON {
		t.Fatalf("parseStatusArgs JSON = false, want true")
	}

	if _, err := parseStatusArgs([]string{"--bad"}); err == nil {
		t.Fatalf("parseStatusArgs expected error for unknown flag")
	}
}

func TestCollectStatus(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "payveil.db")

	database, err := db.New(dbPath)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	conn := database.GetConn()
	_, err = conn.Exec(`
		INSERT INTO users (id, email, password_hash) VALUES (1, 'a@example.com', 'x');
		INSERT INTO messages (id, slug, user_id, title, body, price_cents, unlocked) VALUES (1, 'abc12345', 1, 't', 'b', 500, 1);
		INSERT INTO messages (id, slug, user_id, title, body, price_cents, disappeared) VALUES (2, 'def67890', 1, 't', NULL, 300, 1);
		INSERT INTO payments (message_id, provider, provider_tx_id, amount_cents, platform_fee_cents, sender_earnings_cents)
			VALUES (1, 'stripe', 'cs_1', 500, 50, 450);
		INSERT INTO payout_history (user_id, amount_cents, method, created_by) VALUES (1, 200, 'paypal', 1);
	`)
	database.Close()
	if err != nil {
		t.Fatalf("failed to seed database: %v", err)
	}

	status := collectStatus(&config.Config{DatabasePath: dbPath, FileStoragePath: filepath.Join(dir, "uploads")})
	if !status.DBMetricsReady {
		t.Fatalf("metrics not ready: %s", status.DBWarning)
	}
	if status.Users != 1 || status.Messages != 2 || status.Payments != 1 {
		t.Fatalf("unexpected counts: users=%d messages=%d payments=%d", status.Users, status.Messages, status.Payments)
	}
	if status.UnlockedMessages != 1 || status.DisappearedMessages != 1 || status.ActiveMessages != 1 {
		t.Fatalf("unexpected message states: %+v", status)
	}
	if status.GrossCents != 500 || status.FeeCents != 50 || status.PaidOutCents != 200 {
		t.Fatalf("unexpected money totals: gross=%d fee=%d paid=%d", status.GrossCents, status.FeeCents, status.PaidOutCents)
	}
	if len(status.StorageWarnings) == 0 {
		t.Fatal("expected a warning for the missing upload dir")
	}
}

func TestCollectStatusMissingDatabase(t *testing.T) {
	status := collectStatus(&config.Config{DatabasePath: filepath.Join(t.TempDir(), "nope.db")})
	if status.DBMetricsReady {
		t.Fatal("metrics should not be ready without a database")
	}
	if !strings.Contains(status.DBWarning, "database unavailable") {
		t.Fatalf("unexpected warning: %q", status.DBWarning)
	}
}

func TestPrintStatusJSON(t *testing.T) {
	status := appStatus{
		GeneratedAt:     time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC),
		Environment:     "development",
		Port:            "8080",
		DatabasePath:    "/tmp/payveil.db",
		FileStoragePath: "/tmp/uploads",
		Users:           3,
		GrossCents:      1999,
	}

	var out bytes.Buffer
	if err := printStatusJSON(&out, status); err != nil {
		t.Fatalf("printStatusJSON returned error: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}

	if payload["environment"] != "development" {
		t.Fatalf("unexpected environment: %#v", payload["environment"])
	}
	metrics := payload["metrics"].(map[string]any)
	if metrics["gross_revenue"] != "19.99" {
		t.Fatalf("unexpected gross revenue: %#v", metrics["gross_revenue"])
	}
}

func TestPrintStatus(t *testing.T) {
	var out bytes.Buffer
	printStatus(&out, appStatus{
		GeneratedAt:    time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC),
		DBMetricsReady: true,
		Payments:       2,
		GrossCents:     1000,
		DBWarning:      "slow disk",
	})

	text := out.String()
	for _, want := range []string{"Payveil Status", "Gross revenue", "10.00", "Warning: slow disk"} {
		if !strings.Contains(text, want) {
			t.Fatalf("status output missing %q:\n%s", want, text)
		}
	}
}
