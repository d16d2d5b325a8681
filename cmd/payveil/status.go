package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/4xmen/payveil/internal/models"
	"github.com/4xmen/payveil/internal/payment"
	"github.com/4xmen/payveil/internal/storage"
	"github.com/4xmen/payveil/pkg/config"
)

type appStatus struct {
	GeneratedAt         time.Time
	Environment         string
	Port                string
	DatabasePath        string
	FileStoragePath     string
	Users               int64
	Partners            int64
	Messages            int64
	ActiveMessages      int64
	UnlockedMessages    int64
	DisappearedMessages int64
	FileMessages        int64
	Payments            int64
	GrossCents          int64
	FeeCents            int64
	PaidOutCents        int64
	MessagesLast24h     int64
	LatestPaymentAt     string
	DBSize              int64
	DBWALSize           int64
	DBSHMSize           int64
	UploadDirSize       int64
	UploadFileCount     int64
	DBMetricsReady      bool
	DBWarning           string
	StorageWarnings     []string
}

type statusOptions struct {
	JSON bool
}

func parseStatusArgs(args []string) (statusOptions, error) {
	opts := statusOptions{}
	for _, arg := range args {
		switch arg {
		case "--json", "-j":
			opts.JSON = true
		default:
			return opts, fmt.Errorf("unknown status flag: %s", arg)
		}
	}
	return opts, nil
}

func runStatus(cfg *config.Config, out io.Writer, args []string) error {
	opts, err := parseStatusArgs(args)
	if err != nil {
		return err
	}

	status := collectStatus(cfg)
	if opts.JSON {
		return printStatusJSON(out, status)
	}
	printStatus(out, status)
	return nil
}

func collectStatus(cfg *config.Config) appStatus {
	status := appStatus{
		GeneratedAt:     time.Now(),
		Environment:     cfg.Environment,
		Port:            cfg.Port,
		DatabasePath:    cfg.DatabasePath,
		FileStoragePath: cfg.FileStoragePath,
	}

	if size, err := fileSize(cfg.DatabasePath); err == nil {
		status.DBSize = size
	} else {
		status.StorageWarnings = append(status.StorageWarnings, fmt.Sprintf("database file: %v", err))
	}

	if size, err := fileSize(cfg.DatabasePath + "-wal"); err == nil {
		status.DBWALSize = size
	}

	if size, err := fileSize(cfg.DatabasePath + "-shm"); err == nil {
		status.DBSHMSize = size
	}

	if files, bytes, err := uploadUsage(cfg.FileStoragePath); err == nil {
		status.UploadFileCount = files
		status.UploadDirSize = bytes
	} else {
		status.StorageWarnings = append(status.StorageWarnings, fmt.Sprintf("upload dir: %v", err))
	}

	if _, err := os.Stat(cfg.DatabasePath); err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}

	dbConn, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}
	defer dbConn.Close()

	if err := dbConn.Ping(); err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}

	if err := collectDBStats(dbConn, &status); err != nil {
		status.DBWarning = fmt.Sprintf("could not read database stats: %v", err)
		return status
	}

	status.DBMetricsReady = true
	return status
}

func collectDBStats(dbConn *sql.DB, status *appStatus) error {
	counts := []struct {
		dst   *int64
		query string
	}{
		{&status.Users, "SELECT COUNT(*) FROM users"},
		{&status.Partners, "SELECT COUNT(*) FROM partners"},
		{&status.Messages, "SELECT COUNT(*) FROM messages"},
		{&status.ActiveMessages, "SELECT COUNT(*) FROM messages WHERE active = 1 AND disappeared = 0"},
		{&status.UnlockedMessages, "SELECT COUNT(*) FROM messages WHERE unlocked = 1"},
		{&status.DisappearedMessages, "SELECT COUNT(*) FROM messages WHERE disappeared = 1"},
		{&status.FileMessages, "SELECT COUNT(*) FROM messages WHERE file_name IS NOT NULL"},
		{&status.FeeCents, "SELECT COALESCE(SUM(platform_fee_cents), 0) FROM payments"},
		{&status.PaidOutCents, "SELECT COALESCE(SUM(amount_cents), 0) FROM payout_history"},
		{&status.MessagesLast24h, "SELECT COUNT(*) FROM messages WHERE datetime(created_at) >= datetime('now', '-1 day')"},
	}
	var err error
	for _, c := range counts {
		if *c.dst, err = scalar[int64](dbConn, c.query); err != nil {
			return err
		}
	}

	status.Payments, status.GrossCents, err = payment.NewLedger(dbConn).Count(context.Background())
	if err != nil {
		return err
	}

	latest, err := scalar[string](dbConn, "SELECT COALESCE(MAX(created_at), '') FROM payments")
	if err != nil {
		return err
	}
	status.LatestPaymentAt = latest
	return nil
}

func scalar[T any](db *sql.DB, query string) (T, error) {
	var value T
	err := db.QueryRow(query).Scan(&value)
	return value, err
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

func uploadUsage(root string) (int64, int64, error) {
	if _, err := os.Stat(root); err != nil {
		return 0, 0, err
	}
	files, err := storage.NewLocal(root)
	if err != nil {
		return 0, 0, err
	}
	count, size, err := files.Usage()
	return int64(count), size, err
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatCents(cents int64) string {
	return models.FromCents(cents).StringFixed(2)
}

func formatTimestamp(value string) string {
	if value == "" {
		return "n/a"
	}
	return value
}

type statusRow struct {
	label string
	value any
}

func printSection(out io.Writer, title string, rows []statusRow) {
	fmt.Fprintln(out, title)
	w := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
	for _, r := range rows {
		fmt.Fprintf(w, "  %s\t: %v\n", r.label, r.value)
	}
	w.Flush()
}

func printStatus(out io.Writer, status appStatus) {
	footprint := status.DBSize + status.DBWALSize + status.DBSHMSize

	printSection(out, "Payveil Status", []statusRow{
		{"Generated at", status.GeneratedAt.Format(time.RFC3339)},
		{"Environment", status.Environment},
		{"Port", status.Port},
		{"Database", status.DatabasePath},
		{"Uploads dir", status.FileStoragePath},
	})
	fmt.Fprintln(out)

	data := []statusRow{{"Database metrics", "n/a"}}
	if status.DBMetricsReady {
		data = []statusRow{
			{"Users", status.Users},
			{"Partners", status.Partners},
			{"Messages", status.Messages},
			{"Active messages", status.ActiveMessages},
			{"Unlocked messages", status.UnlockedMessages},
			{"Disappeared messages", status.DisappearedMessages},
			{"File messages", status.FileMessages},
			{"Messages last 24h", status.MessagesLast24h},
			{"Payments", status.Payments},
			{"Gross revenue", formatCents(status.GrossCents)},
			{"Platform fees", formatCents(status.FeeCents)},
			{"Paid out", formatCents(status.PaidOutCents)},
			{"Latest payment at", formatTimestamp(status.LatestPaymentAt)},
		}
	}
	printSection(out, "Data", data)
	fmt.Fprintln(out)

	printSection(out, "Storage", []statusRow{
		{"DB file", formatBytes(status.DBSize)},
		{"DB WAL file", formatBytes(status.DBWALSize)},
		{"DB SHM file", formatBytes(status.DBSHMSize)},
		{"DB footprint", formatBytes(footprint)},
		{"Upload files", status.UploadFileCount},
		{"Upload size", formatBytes(status.UploadDirSize)},
	})

	warnings := status.StorageWarnings
	if status.DBWarning != "" {
		warnings = append([]string{status.DBWarning}, warnings...)
	}
	if len(warnings) > 0 {
		fmt.Fprintln(out)
		for _, warning := range warnings {
			fmt.Fprintf(out, "Warning: %s\n", warning)
		}
	}
}

func printStatusJSON(out io.Writer, status appStatus) error {
	payload := map[string]any{
		"generated_at":      status.GeneratedAt.Format(time.RFC3339),
		"environment":       status.Environment,
		"port":              status.Port,
		"database_path":     status.DatabasePath,
		"file_storage_path": status.FileStoragePath,
		"metrics_ready":     status.DBMetricsReady,
		"metrics": map[string]any{
			"users":                status.Users,
			"partners":             status.Partners,
			"messages":             status.Messages,
			"active_messages":      status.ActiveMessages,
			"unlocked_messages":    status.UnlockedMessages,
			"disappeared_messages": status.DisappearedMessages,
			"file_messages":        status.FileMessages,
			"messages_last_24h":    status.MessagesLast24h,
			"payments":             status.Payments,
			"gross_revenue":        formatCents(status.GrossCents),
			"platform_fees":        formatCents(status.FeeCents),
			"paid_out":             formatCents(status.PaidOutCents),
			"latest_payment_at":    formatTimestamp(status.LatestPaymentAt),
		},
		"storage": map[string]any{
			"db_file_bytes":      status.DBSize,
			"db_wal_bytes":       status.DBWALSize,
			"db_shm_bytes":       status.DBSHMSize,
			"db_footprint_bytes": status.DBSize + status.DBWALSize + status.DBSHMSize,
			"upload_dir_bytes":   status.UploadDirSize,
			"upload_file_count":  status.UploadFileCount,
			"db_footprint_hum":   formatBytes(status.DBSize + status.DBWALSize + status.DBSHMSize),
			"upload_dir_hum":     formatBytes(status.UploadDirSize),
		},
		"warnings": map[string]any{
			"database": status.DBWarning,
			"storage":  status.StorageWarnings,
		},
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
