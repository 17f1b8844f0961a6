package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Backend selection
	DataBackend string

	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export (optional)
	GoogleSpreadsheetID        string
	GoogleSheetName            string
	GoogleServiceAccountJSON   string
	GoogleServiceAccountFile   string
	GoogleApplicationCredsFile string

	// Reconciliation
	MonthConcurrency int
	ReconcileInline  bool // run reconciliation in-process even when AMQP is configured

	// Scheduled sweep
	SnapshotInterval      time.Duration
	SnapshotRatePerSecond float64

	// Backup sweep of the AMQP worker for lost messages
	PendingSweepInterval time.Duration

	// Read side
	ReportCacheTTL time.Duration

	LogLevel string
}

// Load reads configuration from the environment. Callers load .env files
// beforehand.
func Load() *Config {
	v := viper.New()

	v.SetDefault("data_backend", "memory")
	v.SetDefault("sqlite_db_path", "./data/saldo.db")
	v.SetDefault("amqp_url", "")
	v.SetDefault("amqp_exchange", "saldo")
	v.SetDefault("amqp_queue", "reconcile_requests")
	v.SetDefault("google_spreadsheet_id", "")
	v.SetDefault("google_sheet_name", "Saldo")
	v.SetDefault("google_service_account_json", "")
	v.SetDefault("google_service_account_file", "")
	v.SetDefault("google_application_credentials", "")
	v.SetDefault("reconcile_month_concurrency", 4)
	v.SetDefault("reconcile_inline", false)
	v.SetDefault("snapshot_interval", 24*time.Hour)
	v.SetDefault("snapshot_rate_per_second", 5.0)
	v.SetDefault("pending_sweep_interval", 10*time.Minute)
	v.SetDefault("report_cache_ttl", 5*time.Minute)
	v.SetDefault("log_level", "info")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Config{
		DataBackend:  strings.ToLower(strings.TrimSpace(v.GetString("data_backend"))),
		SQLiteDBPath: v.GetString("sqlite_db_path"),

		AMQPURL:      v.GetString("amqp_url"),
		AMQPExchange: v.GetString("amqp_exchange"),
		AMQPQueue:    v.GetString("amqp_queue"),

		GoogleSpreadsheetID:        strings.TrimSpace(v.GetString("google_spreadsheet_id")),
		GoogleSheetName:            strings.TrimSpace(v.GetString("google_sheet_name")),
		GoogleServiceAccountJSON:   strings.TrimSpace(v.GetString("google_service_account_json")),
		GoogleServiceAccountFile:   strings.TrimSpace(v.GetString("google_service_account_file")),
		GoogleApplicationCredsFile: strings.TrimSpace(v.GetString("google_application_credentials")),

		MonthConcurrency: v.GetInt("reconcile_month_concurrency"),
		ReconcileInline:  v.GetBool("reconcile_inline"),

		SnapshotInterval:      v.GetDuration("snapshot_interval"),
		SnapshotRatePerSecond: v.GetFloat64("snapshot_rate_per_second"),
		PendingSweepInterval:  v.GetDuration("pending_sweep_interval"),

		ReportCacheTTL: v.GetDuration("report_cache_ttl"),

		LogLevel: v.GetString("log_level"),
	}
}

// AMQPEnabled reports whether reconciliation requests go through the broker.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != "" && !c.ReconcileInline
}

// SheetsEnabled reports whether summaries are exported to Google Sheets.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SheetsEnabled() {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when GOOGLE_SPREADSHEET_ID is set")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" && c.GoogleApplicationCredsFile == "" {
			errors = append(errors, "one of GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS is required when GOOGLE_SPREADSHEET_ID is set")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if c.MonthConcurrency < 1 || c.MonthConcurrency > 32 {
		errors = append(errors, fmt.Sprintf("invalid month concurrency %d: must be between 1 and 32", c.MonthConcurrency))
	}

	if c.SnapshotInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid snapshot interval %v: must be at least 1 second", c.SnapshotInterval))
	} else if c.SnapshotInterval > 31*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid snapshot interval %v: must be at most 31 days", c.SnapshotInterval))
	}
	if c.SnapshotRatePerSecond <= 0 {
		errors = append(errors, fmt.Sprintf("invalid snapshot rate %v: must be positive", c.SnapshotRatePerSecond))
	}

	if c.PendingSweepInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid pending sweep interval %v: must be at least 1 second", c.PendingSweepInterval))
	}

	if c.ReportCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid report cache TTL %v: must not be negative", c.ReportCacheTTL))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}
