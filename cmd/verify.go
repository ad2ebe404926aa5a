package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tunneldump/internal/crypto"
	"tunneldump/internal/pipeline"
	"tunneldump/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [artifact...]",
	Short: "Verify backup artifacts against their integrity sidecars",
	Long: `Check backup artifacts for corruption. Artifacts with a sidecar are
rehashed and compared; artifacts without one are probed for structural
readability through their decryption and decompression stages.

With no arguments every artifact in the backup directory is checked.
Verification never modifies artifacts or sidecars.

Exit status is non-zero when any artifact fails verification.

Examples:
  tunneldump verify
  tunneldump verify /backups/orders_20240315T043000.sql.zst`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerify(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	encType, err := crypto.ParseType(cfg.Encryption)
	if err != nil {
		return err
	}
	enc := crypto.Config{
		Type:            encType,
		AgeIdentityFile: cfg.AgeIdentityFile,
	}

	engine := verify.NewEngine(log, pipeline.NewComposer(log, handler), enc)

	var results []verify.Result
	if len(args) == 0 {
		results, err = engine.VerifyDir(cmd.Context(), cfg.BackupDir)
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", cfg.BackupDir, err)
		}
		if len(results) == 0 {
			log.Info("No artifacts found", "dir", cfg.BackupDir)
			return nil
		}
	} else {
		for _, path := range args {
			results = append(results, engine.Verify(cmd.Context(), path))
		}
	}

	failed := 0
	for _, res := range results {
		printResult(res)
		if res.Status == verify.StatusChecksumMismatch || res.Status == verify.StatusUnreadable {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d artifacts failed verification", failed, len(results))
	}
	return nil
}

func printResult(res verify.Result) {
	switch res.Status {
	case verify.StatusVerified:
		fmt.Printf("%s  %s\n", color.GreenString("✓ verified "), res.Path)
	case verify.StatusNoMetadata:
		fmt.Printf("%s  %s (no sidecar, structure readable)\n", color.YellowString("? unattested"), res.Path)
	case verify.StatusChecksumMismatch:
		fmt.Printf("%s  %s\n", color.RedString("✗ corrupted "), res.Path)
		fmt.Printf("      expected %s\n      actual   %s\n", res.Expected, res.Actual)
	case verify.StatusUnreadable:
		fmt.Printf("%s  %s (%v)\n", color.RedString("✗ unreadable"), res.Path, res.Err)
	}
}
