package verify

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"tunneldump/internal/crypto"
	dberrors "tunneldump/internal/errors"
	"tunneldump/internal/fs"
	"tunneldump/internal/logger"
	"tunneldump/internal/metadata"
	"tunneldump/internal/pipeline"
)

type fakeDumper struct {
	output string
}

func (d *fakeDumper) Dump(ctx context.Context, w io.Writer) error {
	_, err := io.WriteString(w, d.output)
	return err
}

func (d *fakeDumper) Tool() string { return "fakedump" }

func (d *fakeDumper) ToolVersion(ctx context.Context) (string, error) {
	return "fakedump 1.0", nil
}

func newTestEngine() *Engine {
	log := logger.NewSilent()
	return NewEngine(log, pipeline.NewComposer(log, nil), crypto.Config{})
}

// writeArtifact produces a real zstd artifact at path, optionally with a
// sidecar recorded over its final bytes.
func writeArtifact(t *testing.T, path, sql string, withSidecar bool) {
	t.Helper()
	log := logger.NewSilent()
	c := pipeline.NewComposer(log, nil)
	if err := c.Backup(context.Background(), &fakeDumper{output: sql}, path, 3, crypto.Config{}); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if withSidecar {
		if _, err := metadata.Record(path, metadata.Sidecar{Database: "orders", Type: "postgres"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
}

func TestVerifyMatchingSidecar(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	path := "/backups/orders_20240315T043000.sql.zst"
	writeArtifact(t, path, "CREATE TABLE t (id int);\n", true)

	res := newTestEngine().Verify(context.Background(), path)
	if res.Status != StatusVerified {
		t.Fatalf("Status = %s, want %s (err: %v)", res.Status, StatusVerified, res.Err)
	}
	if !res.OK() {
		t.Error("OK() = false for verified artifact")
	}
	if res.Expected == "" || res.Expected != res.Actual {
		t.Errorf("checksums not populated: expected=%q actual=%q", res.Expected, res.Actual)
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	path := "/backups/orders_20240315T043000.sql.zst"
	writeArtifact(t, path, "CREATE TABLE t (id int);\n", true)

	// Flip bytes after the sidecar was recorded
	raw, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF
	if err := fs.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res := newTestEngine().Verify(context.Background(), path)
	if res.Status != StatusChecksumMismatch {
		t.Fatalf("Status = %s, want %s", res.Status, StatusChecksumMismatch)
	}
	if res.Expected == res.Actual {
		t.Error("mismatch result carries identical checksums")
	}
	if res.Expected == "" || res.Actual == "" {
		t.Error("mismatch result must carry both checksums")
	}
	if dberrors.GetCode(res.Err) != dberrors.ErrCodeChecksumMismatch {
		t.Errorf("Err code = %q, want %q", dberrors.GetCode(res.Err), dberrors.ErrCodeChecksumMismatch)
	}
	if res.OK() {
		t.Error("OK() = true for corrupted artifact")
	}
}

func TestVerifyWithoutSidecar(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	path := "/backups/orders_20240315T043000.sql.zst"
	writeArtifact(t, path, "CREATE TABLE t (id int);\n", false)

	res := newTestEngine().Verify(context.Background(), path)
	if res.Status != StatusNoMetadata {
		t.Fatalf("Status = %s, want %s (err: %v)", res.Status, StatusNoMetadata, res.Err)
	}
	if res.OK() {
		t.Error("OK() = true for unattested artifact")
	}
}

func TestVerifyUnreadableArtifact(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	// zstd magic followed by garbage: the probe must fail mid-stream
	path := "/backups/broken_20240315T043000.sql.zst"
	garbage := append([]byte{0x28, 0xB5, 0x2F, 0xFD}, []byte("this is not a zstd frame at all")...)
	if err := fs.WriteFile(path, garbage, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res := newTestEngine().Verify(context.Background(), path)
	if res.Status != StatusUnreadable {
		t.Fatalf("Status = %s, want %s", res.Status, StatusUnreadable)
	}
	if dberrors.GetCode(res.Err) != dberrors.ErrCodeUnreadable {
		t.Errorf("Err code = %q, want %q", dberrors.GetCode(res.Err), dberrors.ErrCodeUnreadable)
	}
}

func TestVerifyMissingArtifact(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	res := newTestEngine().Verify(context.Background(), "/backups/absent.sql.zst")
	if res.Status != StatusUnreadable {
		t.Fatalf("Status = %s, want %s", res.Status, StatusUnreadable)
	}
}

func TestVerifyDir(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	dir := "/backups"
	good := filepath.Join(dir, "a_20240315T043000.sql.zst")
	bare := filepath.Join(dir, "b_20240315T043000.sql.zst")
	writeArtifact(t, good, "SELECT 1;\n", true)
	writeArtifact(t, bare, "SELECT 2;\n", false)

	// Partial files and sidecars must be skipped
	if err := fs.WriteFile(filepath.Join(dir, "c_20240315T043000.sql.zst.partial"), []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	results, err := newTestEngine().VerifyDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("VerifyDir: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(results), results)
	}
	if results[0].Path != good || results[0].Status != StatusVerified {
		t.Errorf("first result = %+v, want verified %s", results[0], good)
	}
	if results[1].Path != bare || results[1].Status != StatusNoMetadata {
		t.Errorf("second result = %+v, want no-metadata %s", results[1], bare)
	}
}
