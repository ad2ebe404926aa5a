package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tunneldump/internal/audit"
	"tunneldump/internal/restore"
	"tunneldump/internal/verify"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <artifact> [database]",
	Short: "Restore a backup artifact into a database",
	Long: `Restore an artifact created by tunneldump backup. The target database
is created if it does not exist; existing objects are left to the SQL
stream, so restoring into a non-empty database reports conflicts as
warnings rather than aborting.

The artifact's checksum is verified against its sidecar before any data
reaches the server. Artifacts without a sidecar are restored with a
warning; use --skip-verify to restore even on checksum mismatch.

The target database defaults to the name embedded in the artifact
filename.

Examples:
  tunneldump restore /backups/orders_20240315T043000.sql.zst
  tunneldump restore /backups/orders_20240315T043000.sql.zst orders_copy
  tunneldump restore /backups/shop_20240315T043000.sql.zst.age --age-identity ~/.age/key.txt`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		artifact := args[0]
		dbName := databaseFromArtifact(artifact)
		if len(args) > 1 {
			dbName = args[1]
		}
		return runRestore(cmd, artifact, dbName)
	},
}

var restoreSkipVerify bool

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().BoolVar(&restoreSkipVerify, "skip-verify", false,
		"Restore even when the checksum does not match the sidecar")
}

func runRestore(cmd *cobra.Command, artifact, dbName string) error {
	env, err := newJobEnv(dbName)
	if err != nil {
		return err
	}
	defer env.close()

	ctx := cmd.Context()

	if err := preflightVerify(cmd, env, artifact); err != nil {
		env.trail.Record("restore", audit.OutcomeFailure, map[string]any{
			"database": dbName, "artifact": artifact, "error": err.Error(),
		})
		return err
	}

	release, err := env.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	adapter := restore.NewAdapter(env.engine, env.params, log)
	if err := adapter.EnsureTarget(ctx); err != nil {
		env.trail.Record("restore", audit.OutcomeFailure, map[string]any{
			"database": dbName, "artifact": artifact, "error": err.Error(),
		})
		return err
	}

	started := time.Now()
	job := log.StartJob(fmt.Sprintf("Restoring %s", dbName))
	job.Update("Streaming import", "tool", adapter.Tool(), "artifact", filepath.Base(artifact))

	err = env.composer.Restore(ctx, artifact, env.enc, adapter.Filter(), adapter.Apply)
	if err != nil {
		job.Fail("Restore failed", "error", err)
		env.trail.Record("restore", audit.OutcomeFailure, map[string]any{
			"database": dbName, "artifact": artifact, "error": err.Error(),
		})
		return err
	}

	job.Complete("Restore complete",
		"database", dbName,
		"duration", time.Since(started).Round(time.Millisecond))
	env.trail.Record("restore", audit.OutcomeSuccess, map[string]any{
		"database": dbName, "artifact": artifact,
	})
	return nil
}

// preflightVerify checks the artifact against its sidecar before the
// import touches the server
func preflightVerify(cmd *cobra.Command, env *jobEnv, artifact string) error {
	engine := verify.NewEngine(log, env.composer, env.enc)
	res := engine.Verify(cmd.Context(), artifact)

	switch res.Status {
	case verify.StatusVerified:
		log.Debug("Artifact checksum verified", "sha256", res.Actual)
		return nil
	case verify.StatusNoMetadata:
		log.Warn("Artifact has no integrity sidecar, restoring unverified", "artifact", artifact)
		return nil
	case verify.StatusChecksumMismatch:
		if restoreSkipVerify {
			log.Warn("Checksum mismatch ignored (--skip-verify)",
				"expected", res.Expected, "actual", res.Actual)
			return nil
		}
		return fmt.Errorf("artifact checksum mismatch (expected %s, got %s); rerun with --skip-verify to force",
			res.Expected, res.Actual)
	default:
		return fmt.Errorf("artifact is unreadable: %w", res.Err)
	}
}

// databaseFromArtifact recovers the database name from the artifact
// filename convention <database>_<timestamp>.sql...
func databaseFromArtifact(path string) string {
	base := filepath.Base(path)
	idx := strings.LastIndex(base, "_")
	if idx <= 0 {
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return base[:idx]
}
