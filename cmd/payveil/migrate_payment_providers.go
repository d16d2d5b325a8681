package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/4xmen/payveil/internal/models"
	"github.com/4xmen/payveil/pkg/config"
)

// Legacy payments kept one nullable id column per provider.
var legacyProviderColumns = []struct {
	column   string
	provider models.PaymentProvider
}{
	{"stripe_session_id", models.ProviderStripe},
	{"coinbase_charge_id", models.ProviderCoinbase},
	{"nowpayments_payment_id", models.ProviderNOWPayments},
}

type paymentProvidersMigrationOptions struct {
	DatabasePath string
	DryRun       bool
}

type legacyPaymentRecord struct {
	PaymentID int64
	Provider  models.PaymentProvider
	TxID      string
}

type sqliteQueryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func runMigrate(cfg *config.Config, out io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing migration target (supported: payment-providers)")
	}

	switch args[0] {
	case "payment-providers":
		opts, err := parsePaymentProvidersMigrationArgs(cfg, args[1:])
		if err != nil {
			return err
		}
		return runPaymentProvidersMigration(out, opts)
	default:
		return fmt.Errorf("unknown migration target: %s", args[0])
	}
}

func parsePaymentProvidersMigrationArgs(cfg *config.Config, args []string) (paymentProvidersMigrationOptions, error) {
	opts := paymentProvidersMigrationOptions{DatabasePath: cfg.DatabasePath}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dry-run":
			opts.DryRun = true
		case "--database":
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return opts, fmt.Errorf("--database requires a path")
			}
			opts.DatabasePath = args[i]
		default:
			return opts, fmt.Errorf("unknown migration flag: %s", args[i])
		}
	}

	if strings.TrimSpace(opts.DatabasePath) == "" {
		return opts, fmt.Errorf("database path cannot be empty")
	}

	return opts, nil
}

func runPaymentProvidersMigration(out io.Writer, opts paymentProvidersMigrationOptions) error {
	dbConn, err := sql.Open("sqlite3", opts.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer dbConn.Close()
	// BEGIN/COMMIT are issued as statements; keep them on one connection.
	dbConn.SetMaxOpenConns(1)

	if err := dbConn.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := dbConn.Exec("BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to start migration transaction: %w", err)
	}
	inTx := true
	defer func() {
		if inTx {
			_, _ = dbConn.Exec("ROLLBACK")
		}
	}()

	hasLegacy, err := paymentsTableHasLegacyColumns(dbConn)
	if err != nil {
		return fmt.Errorf("failed to inspect payments schema: %w", err)
	}
	if !hasLegacy {
		if _, err := dbConn.Exec("COMMIT"); err != nil {
			return fmt.Errorf("failed to finish migration transaction: %w", err)
		}
		inTx = false
		fmt.Fprintln(out, "Payment providers migration: already migrated (no legacy provider columns).")
		return nil
	}

	records, invalidPaymentIDs, err := loadLegacyPaymentRecords(dbConn)
	if err != nil {
		return err
	}
	if len(invalidPaymentIDs) > 0 {
		sort.Slice(invalidPaymentIDs, func(i, j int) bool { return invalidPaymentIDs[i] < invalidPaymentIDs[j] })
		return fmt.Errorf("payments without exactly one provider id: %v", invalidPaymentIDs)
	}
	if dup := duplicateProviderTx(records); dup != "" {
		return fmt.Errorf("duplicate provider transaction in legacy payments: %s", dup)
	}

	if opts.DryRun {
		fmt.Fprintf(out, "Dry-run successful. Database: %s\n", opts.DatabasePath)
		fmt.Fprintf(out, "Would migrate %d payments.\n", len(records))
		if _, err := dbConn.Exec("ROLLBACK"); err != nil {
			return fmt.Errorf("failed to finish dry-run rollback: %w", err)
		}
		inTx = false
		return nil
	}

	if err := rebuildPaymentsSchema(dbConn, records); err != nil {
		return err
	}

	if err := validatePaymentsMigration(dbConn, len(records)); err != nil {
		return err
	}

	if _, err := dbConn.Exec("COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	inTx = false

	fmt.Fprintf(out, "Migration completed. Database: %s\n", opts.DatabasePath)
	fmt.Fprintf(out, "Migrated %d payments.\n", len(records))
	return nil
}

// ensurePaymentProvidersMigrated refuses to start on a legacy database, since
// the schema bootstrap would leave the old payments table in place.
func ensurePaymentProvidersMigrated(databasePath string) error {
	if _, err := os.Stat(databasePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to access database path: %w", err)
	}

	dbConn, err := sql.Open("sqlite3", databasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer dbConn.Close()

	if err := dbConn.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	hasLegacy, err := paymentsTableHasLegacyColumns(dbConn)
	if err != nil {
		return fmt.Errorf("failed to inspect payments schema: %w", err)
	}
	if hasLegacy {
		return fmt.Errorf("legacy payments schema detected. Run `payveil migrate payment-providers --database %s` before starting", databasePath)
	}

	return nil
}

func paymentsTableHasLegacyColumns(q sqliteQueryer) (bool, error) {
	rows, err := q.Query("PRAGMA table_info(payments)")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	legacy := false
	for rows.Next() {
		var cid int
		var name string
		var columnType string
		var notNull int
		var defaultValue any
		var pk int
		if err := rows.Scan(&cid, &name, &columnType, &notNull, &defaultValue, &pk); err != nil {
			return false, err
		}
		for _, c := range legacyProviderColumns {
			if name == c.column {
				legacy = true
			}
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	return legacy, nil
}

func loadLegacyPaymentRecords(dbConn *sql.DB) ([]legacyPaymentRecord, []int64, error) {
	rows, err := dbConn.Query(`
		SELECT id,
			COALESCE(stripe_session_id, ''),
			COALESCE(coinbase_charge_id, ''),
			COALESCE(nowpayments_payment_id, '')
		FROM payments
		ORDER BY id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read legacy payments: %w", err)
	}
	defer rows.Close()

	records := make([]legacyPaymentRecord, 0)
	invalidPaymentIDs := make([]int64, 0)

	for rows.Next() {
		var id int64
		ids := make([]string, len(legacyProviderColumns))
		if err := rows.Scan(&id, &ids[0], &ids[1], &ids[2]); err != nil {
			return nil, nil, fmt.Errorf("failed to scan legacy payment: %w", err)
		}

		record, ok := resolveLegacyProvider(id, ids)
		if !ok {
			invalidPaymentIDs = append(invalidPaymentIDs, id)
			continue
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed while reading legacy payments: %w", err)
	}

	return records, invalidPaymentIDs, nil
}

// resolveLegacyProvider picks the single populated provider column.
func resolveLegacyProvider(paymentID int64, ids []string) (legacyPaymentRecord, bool) {
	record := legacyPaymentRecord{PaymentID: paymentID}
	found := 0
	for i, raw := range ids {
		txID := strings.TrimSpace(raw)
		if txID == "" {
			continue
		}
		found++
		record.Provider = legacyProviderColumns[i].provider
		record.TxID = txID
	}
	return record, found == 1
}

func duplicateProviderTx(records []legacyPaymentRecord) string {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		key := string(r.Provider) + "/" + r.TxID
		if _, exists := seen[key]; exists {
			return key
		}
		seen[key] = struct{}{}
	}
	return ""
}

func rebuildPaymentsSchema(dbConn *sql.DB, records []legacyPaymentRecord) error {
	if _, err := dbConn.Exec(`
		CREATE TABLE payments_new (
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
		)
	`); err != nil {
		return fmt.Errorf("failed to create payments_new table: %w", err)
	}

	stmt, err := dbConn.Prepare(`
		INSERT INTO payments_new (id, message_id, provider, provider_tx_id, amount_cents,
			platform_fee_cents, sender_earnings_cents, currency, payer_email, created_at)
		SELECT id, message_id, ?, ?, amount_cents, platform_fee_cents, sender_earnings_cents,
			currency, payer_email, created_at
		FROM payments WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare backfill statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.Exec(string(record.Provider), record.TxID, record.PaymentID); err != nil {
			return fmt.Errorf("failed to copy payment %d: %w", record.PaymentID, err)
		}
	}

	if _, err := dbConn.Exec("DROP TABLE payments"); err != nil {
		return fmt.Errorf("failed to drop legacy payments table: %w", err)
	}

	if _, err := dbConn.Exec("ALTER TABLE payments_new RENAME TO payments"); err != nil {
		return fmt.Errorf("failed to rename payments table: %w", err)
	}

	if _, err := dbConn.Exec(`CREATE UNIQUE INDEX idx_payments_provider_tx ON payments(provider, provider_tx_id)`); err != nil {
		return fmt.Errorf("failed to create idx_payments_provider_tx: %w", err)
	}

	if _, err := dbConn.Exec(`CREATE INDEX idx_payments_message_id ON payments(message_id)`); err != nil {
		return fmt.Errorf("failed to create idx_payments_message_id: %w", err)
	}

	return nil
}

func validatePaymentsMigration(dbConn *sql.DB, expectedPayments int) error {
	var paymentCount int
	if err := dbConn.QueryRow("SELECT COUNT(*) FROM payments").Scan(&paymentCount); err != nil {
		return fmt.Errorf("failed to validate payments count: %w", err)
	}
	if paymentCount != expectedPayments {
		return fmt.Errorf("payment count mismatch after migration: got %d want %d", paymentCount, expectedPayments)
	}

	hasLegacy, err := paymentsTableHasLegacyColumns(dbConn)
	if err != nil {
		return fmt.Errorf("failed to validate payments schema: %w", err)
	}
	if hasLegacy {
		return fmt.Errorf("legacy provider columns still exist after migration")
	}

	return nil
}
