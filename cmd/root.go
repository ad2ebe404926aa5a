// Package cmd implements the tunneldump command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tunneldump/internal/audit"
	"tunneldump/internal/cleanup"
	"tunneldump/internal/config"
	"tunneldump/internal/creds"
	"tunneldump/internal/crypto"
	"tunneldump/internal/database"
	"tunneldump/internal/logger"
	"tunneldump/internal/pipeline"
	"tunneldump/internal/procscan"
	"tunneldump/internal/sanitize"
	"tunneldump/internal/tunnel"
)

var (
	cfg     *config.Config
	log     logger.Logger
	handler *cleanup.Handler
)

var rootCmd = &cobra.Command{
	Use:   "tunneldump",
	Short: "Database backup and restore over SSH tunnels",
	Long: `tunneldump backs up and restores PostgreSQL and MySQL/MariaDB databases,
reaching remote hosts through SSH port forwards when a jump host is
configured. Backups stream through zstd compression and optional age or
gpg encryption into checksummed artifacts.

Examples:
  # Back up a database reachable directly
  tunneldump backup mydb --db-type postgres --host db.internal

  # Back up through a bastion
  tunneldump backup mydb --jump-host ops@bastion --host 10.0.3.7

  # Restore an artifact into a fresh database
  tunneldump restore /backups/mydb_20240315T043000.sql.zst

  # Check artifact integrity
  tunneldump verify`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. The cleanup handler is shared with every subsystem
// that registers teardown work (tunnels, partial artifacts).
func Execute(ctx context.Context, c *config.Config, l logger.Logger, h *cleanup.Handler) error {
	cfg = c
	log = l
	handler = h

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.DatabaseType, "db-type", cfg.DatabaseType, "Database type (postgres, mysql, mariadb)")
	pf.StringVar(&cfg.Host, "host", cfg.Host, "Database host")
	pf.IntVar(&cfg.Port, "port", cfg.Port, "Database port (0 = engine default)")
	pf.StringVar(&cfg.User, "user", cfg.User, "Database user (empty = engine default)")
	pf.StringVar(&cfg.Database, "database", cfg.Database, "Database name")
	pf.StringVar(&cfg.JumpHost, "jump-host", cfg.JumpHost, "SSH jump host (user@bastion), empty = direct connection")
	pf.StringVar(&cfg.BackupDir, "backup-dir", cfg.BackupDir, "Directory for backup artifacts")
	pf.StringVar(&cfg.Encryption, "encryption", cfg.Encryption, "Artifact encryption (none, age, gpg)")
	pf.StringVar(&cfg.AgeRecipient, "age-recipient", cfg.AgeRecipient, "age recipient public key")
	pf.StringVar(&cfg.AgeIdentityFile, "age-identity", cfg.AgeIdentityFile, "age identity file for decryption")
	pf.StringVar(&cfg.GPGRecipient, "gpg-recipient", cfg.GPGRecipient, "gpg recipient key id or email")
	pf.StringVar(&cfg.DefinerMode, "definer-mode", cfg.DefinerMode, "MySQL DEFINER handling (strip, rewrite, passthrough)")
	pf.StringVar(&cfg.AuditLog, "audit-log", cfg.AuditLog, "JSON-lines audit trail file (empty disables)")
	pf.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")

	return rootCmd.ExecuteContext(ctx)
}

// jobEnv bundles the subsystems a backup or restore job needs
type jobEnv struct {
	engine   database.Engine
	params   database.ConnParams
	tunnels  *tunnel.Manager
	composer *pipeline.Composer
	trail    *audit.Recorder
	enc      crypto.Config
	definer  sanitize.DefinerMode
}

// newJobEnv validates configuration and resolves credentials. Call close
// when the job finishes.
func newJobEnv(dbName string) (*jobEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dbName == "" {
		return nil, fmt.Errorf("database name required (argument or --database)")
	}

	env := &jobEnv{
		engine: engineFromConfig(),
		params: connParams(dbName),
	}

	encType, err := crypto.ParseType(cfg.Encryption)
	if err != nil {
		return nil, err
	}
	env.enc = crypto.Config{
		Type:            encType,
		AgeRecipient:    cfg.AgeRecipient,
		AgeIdentityFile: cfg.AgeIdentityFile,
		GPGRecipient:    cfg.GPGRecipient,
	}

	env.definer, err = sanitize.ParseDefinerMode(cfg.DefinerMode)
	if err != nil {
		return nil, err
	}

	env.trail, err = audit.NewRecorder(cfg.AuditLog, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}

	env.tunnels = tunnel.NewManager(log, procscan.NewSystemScanner(), handler)
	env.composer = pipeline.NewComposer(log, handler)
	return env, nil
}

func (e *jobEnv) close() {
	if err := e.trail.Close(); err != nil {
		log.Warn("Failed to close audit trail", "error", err)
	}
}

// connect establishes the SSH tunnel when a jump host is configured and
// rewrites the connection parameters to point at the forward's local end.
// The returned release func tears the tunnel down (no-op for reused
// tunnels and direct connections).
func (e *jobEnv) connect(ctx context.Context) (func(), error) {
	if cfg.JumpHost == "" {
		return func() {}, nil
	}

	h, err := e.tunnels.Acquire(ctx, tunnel.Spec{
		JumpHost:   cfg.JumpHost,
		TargetHost: e.params.Host,
		TargetPort: e.params.Port,
	})
	if err != nil {
		return nil, err
	}

	log.Info("Tunnel established",
		"jump_host", cfg.JumpHost,
		"target", fmt.Sprintf("%s:%d", e.params.Host, e.params.Port),
		"local_port", h.LocalPort,
		"reused", h.Reused)

	e.params.Host = tunnel.EffectiveHost(true)
	e.params.Port = h.LocalPort

	return func() {
		if err := e.tunnels.Release(h); err != nil {
			log.Warn("Tunnel release failed", "local_port", h.LocalPort, "error", err)
		}
	}, nil
}

func engineFromConfig() database.Engine {
	if cfg.IsMySQL() {
		return database.EngineMySQL
	}
	return database.EnginePostgres
}

// connParams builds connection parameters for the configured target,
// resolving the password from the environment, ~/.pgpass, or ~/.my.cnf.
func connParams(db string) database.ConnParams {
	p := database.ConnParams{
		Host:     cfg.Host,
		Port:     cfg.EffectivePort(),
		User:     cfg.EffectiveUser(),
		Password: cfg.Password,
		Database: db,
	}

	if p.Password == "" {
		engine := "postgres"
		if cfg.IsMySQL() {
			engine = "mysql"
		}
		pw, err := creds.NewResolver().GetPassword(engine, p.Host, p.Port, p.User)
		switch {
		case err == nil:
			p.Password = pw
		case errors.Is(err, creds.ErrNotConfigured):
			log.Debug("No stored credentials found, relying on server-side auth", "host", p.Host)
		default:
			log.Warn("Credential lookup failed", "host", p.Host, "error", err)
		}
	}
	return p
}
