package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tunneldump/internal/audit"
	"tunneldump/internal/dump"
	"tunneldump/internal/fs"
	"tunneldump/internal/metadata"
	"tunneldump/internal/pipeline"
)

var backupCmd = &cobra.Command{
	Use:   "backup [database]",
	Short: "Create a database backup artifact",
	Long: `Back up one database into a compressed, optionally encrypted artifact
with an integrity sidecar.

The dump streams straight from the database tool through compression and
encryption to disk; nothing is buffered in memory or written unencrypted.
For MySQL/MariaDB the dump runs in two passes (schema with routines and
triggers, then data) so that DEFINER clauses can be sanitized and table
exclusions never drop schema objects.

Examples:
  # PostgreSQL over a direct connection
  tunneldump backup orders --db-type postgres --host db.internal

  # MySQL through a bastion, skipping bulky log tables
  tunneldump backup shop --db-type mysql --jump-host ops@bastion \
    --host 10.0.3.7 --exclude-table-data audit_log --exclude-table-data sessions

  # Encrypted with age
  tunneldump backup orders --encryption age --age-recipient age1...`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbName := cfg.Database
		if len(args) > 0 {
			dbName = args[0]
		}
		return runBackup(cmd, dbName)
	},
}

var backupExcludeTableData []string

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().StringArrayVar(&backupExcludeTableData, "exclude-table-data", nil,
		"Table whose rows are skipped, schema kept (repeatable)")
}

func runBackup(cmd *cobra.Command, dbName string) error {
	env, err := newJobEnv(dbName)
	if err != nil {
		return err
	}
	defer env.close()

	ctx := cmd.Context()
	release, err := env.connect(ctx)
	if err != nil {
		env.trail.Record("backup", audit.OutcomeFailure, map[string]any{
			"database": dbName, "error": err.Error(),
		})
		return err
	}
	defer release()

	dumper, err := dump.NewDumper(env.engine, env.params, dump.Job{
		Database:         dbName,
		ExcludeTableData: backupExcludeTableData,
		Verbose:          cfg.Debug,
	}, env.definer, log)
	if err != nil {
		return err
	}

	started := time.Now()
	artifact := filepath.Join(cfg.BackupDir, pipeline.ArtifactName(dbName, started.UTC(), env.enc.Type))

	job := log.StartJob(fmt.Sprintf("Backing up %s", dbName))
	job.Update("Streaming dump", "tool", dumper.Tool(), "artifact", filepath.Base(artifact))

	if err := env.composer.Backup(ctx, dumper, artifact, cfg.CompressionLevel, env.enc); err != nil {
		job.Fail("Backup failed", "error", err)
		env.trail.Record("backup", audit.OutcomeFailure, map[string]any{
			"database": dbName, "artifact": artifact, "error": err.Error(),
		})
		return err
	}

	toolVersion, verr := dumper.ToolVersion(ctx)
	if verr != nil {
		log.Debug("Could not determine tool version", "tool", dumper.Tool(), "error", verr)
	}

	side, err := metadata.Record(artifact, metadata.Sidecar{
		Host:            cfg.Host,
		Database:        dbName,
		Type:            string(env.engine),
		Encryption:      string(env.enc.Type),
		ToolVersion:     toolVersion,
		DurationSeconds: time.Since(started).Seconds(),
	})
	if err != nil {
		// The artifact is good; a missing sidecar only degrades later
		// verification to a structural probe.
		log.Warn("Failed to write integrity sidecar", "artifact", artifact, "error", err)
	}

	size, _ := fs.FileSize(artifact)
	job.Complete("Backup complete",
		"artifact", artifact,
		"size", humanize.Bytes(uint64(size)),
		"duration", time.Since(started).Round(time.Millisecond))

	fields := map[string]any{
		"database": dbName,
		"artifact": artifact,
		"size":     size,
	}
	if side != nil {
		fields["sha256"] = side.Checksums.SHA256
	}
	env.trail.Record("backup", audit.OutcomeSuccess, fields)
	return nil
}
