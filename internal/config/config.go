// Package config holds all runtime options for tunneldump. Options come from
// CLI flags (bound in cmd/) with environment variables as defaults; there is
// deliberately no config-file layer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all configuration options
type Config struct {
	// Version information (set by ldflags)
	Version   string
	BuildTime string
	GitCommit string

	// Database connection
	DatabaseType string // "postgres" or "mysql"
	Host         string
	Port         int
	User         string
	Password     string
	Database     string

	// SSH tunnel
	JumpHost string // "user@bastion", empty means connect directly

	// Backup options
	BackupDir        string
	CompressionLevel int    // zstd level, fixed per artifact
	Encryption       string // "none", "age", "gpg"
	AgeRecipient     string // age public key (age1...)
	AgeIdentityFile  string // age identity file for decryption
	GPGRecipient     string // gpg key id or email

	// MySQL DEFINER handling: "strip", "rewrite", "passthrough"
	DefinerMode string

	// Audit
	AuditLog string // JSON-lines audit file, empty disables

	// Output options
	Debug     bool
	LogLevel  string
	LogFormat string
}

// New returns a Config populated with defaults and environment overrides
func New() *Config {
	cfg := &Config{
		DatabaseType:     envString("TUNNELDUMP_DB_TYPE", "postgres"),
		Host:             envString("TUNNELDUMP_DB_HOST", "localhost"),
		Port:             envInt("TUNNELDUMP_DB_PORT", 0),
		User:             envString("TUNNELDUMP_DB_USER", ""),
		Password:         envString("TUNNELDUMP_DB_PASSWORD", ""),
		JumpHost:         envString("TUNNELDUMP_JUMP_HOST", ""),
		BackupDir:        envString("TUNNELDUMP_BACKUP_DIR", defaultBackupDir()),
		CompressionLevel: 3,
		Encryption:       envString("TUNNELDUMP_ENCRYPTION", "none"),
		AgeRecipient:     envString("TUNNELDUMP_AGE_RECIPIENT", ""),
		AgeIdentityFile:  envString("TUNNELDUMP_AGE_IDENTITY", ""),
		GPGRecipient:     envString("TUNNELDUMP_GPG_RECIPIENT", ""),
		DefinerMode:      envString("TUNNELDUMP_DEFINER_MODE", "strip"),
		AuditLog:         envString("TUNNELDUMP_AUDIT_LOG", ""),
		LogLevel:         envString("TUNNELDUMP_LOG_LEVEL", "info"),
		LogFormat:        envString("TUNNELDUMP_LOG_FORMAT", "text"),
	}
	return cfg
}

// Validate checks option combinations before a job starts
func (c *Config) Validate() error {
	switch c.DatabaseType {
	case "postgres", "postgresql", "mysql", "mariadb":
	default:
		return fmt.Errorf("unsupported database type %q (supported: postgres, mysql, mariadb)", c.DatabaseType)
	}

	switch c.Encryption {
	case "", "none":
	case "age":
		// Recipient needed for backup, identity for restore; either alone is valid
		if c.AgeRecipient == "" && c.AgeIdentityFile == "" {
			return fmt.Errorf("age encryption requires --age-recipient (backup) or --age-identity (restore)")
		}
	case "gpg":
		if c.GPGRecipient == "" {
			return fmt.Errorf("gpg encryption requires --gpg-recipient")
		}
	default:
		return fmt.Errorf("unsupported encryption type %q (supported: none, age, gpg)", c.Encryption)
	}

	switch c.DefinerMode {
	case "strip", "rewrite", "passthrough":
	default:
		return fmt.Errorf("unsupported definer mode %q (supported: strip, rewrite, passthrough)", c.DefinerMode)
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// IsPostgres reports whether the configured engine is PostgreSQL
func (c *Config) IsPostgres() bool {
	return c.DatabaseType == "postgres" || c.DatabaseType == "postgresql"
}

// IsMySQL reports whether the configured engine is MySQL or MariaDB
func (c *Config) IsMySQL() bool {
	return c.DatabaseType == "mysql" || c.DatabaseType == "mariadb"
}

// EffectivePort returns the configured port or the engine default
func (c *Config) EffectivePort() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.IsMySQL() {
		return 3306
	}
	return 5432
}

// EffectiveUser returns the configured user or the engine default
func (c *Config) EffectiveUser() string {
	if c.User != "" {
		return c.User
	}
	if c.IsMySQL() {
		return "root"
	}
	return "postgres"
}

func defaultBackupDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./backups"
	}
	return filepath.Join(home, "db_backups")
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}
