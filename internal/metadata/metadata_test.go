package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"tunneldump/internal/fs"
)

func setup(t *testing.T) {
	t.Helper()
	fs.SetFS(fs.NewMemMapFs())
	t.Cleanup(fs.ResetFS)
}

func TestComputeSHA256(t *testing.T) {
	setup(t)

	content := []byte("hello world\n")
	if err := fs.WriteFile("/backups/a.sql.zst", content, 0600); err != nil {
		t.Fatal(err)
	}

	want := sha256.Sum256(content)
	got, err := ComputeSHA256("/backups/a.sql.zst")
	if err != nil {
		t.Fatalf("ComputeSHA256 failed: %v", err)
	}
	if got != hex.EncodeToString(want[:]) {
		t.Errorf("sha256 = %s, want %s", got, hex.EncodeToString(want[:]))
	}
}

func TestRecordAndLoad(t *testing.T) {
	setup(t)

	artifact := "/backups/appdb_20260115T120000.sql.zst"
	if err := fs.WriteFile(artifact, []byte("compressed bytes"), 0600); err != nil {
		t.Fatal(err)
	}

	recorded, err := Record(artifact, Sidecar{
		Host:            "db.internal",
		Database:        "appdb",
		Type:            "postgres",
		Encryption:      "none",
		ToolVersion:     "pg_dump (PostgreSQL) 16.2",
		DurationSeconds: 12.5,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if recorded.SizeBytes != int64(len("compressed bytes")) {
		t.Errorf("SizeBytes = %d", recorded.SizeBytes)
	}
	if recorded.Checksums.SHA256 == "" {
		t.Error("checksum not computed")
	}
	if recorded.Timestamp.IsZero() || recorded.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp should default to UTC now, got %v", recorded.Timestamp)
	}

	loaded, err := Load(artifact)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Checksums.SHA256 != recorded.Checksums.SHA256 {
		t.Error("loaded checksum differs")
	}
	if loaded.Database != "appdb" || loaded.Type != "postgres" {
		t.Errorf("loaded = %+v", loaded)
	}

	info, err := fs.Stat(SidecarPath(artifact))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("sidecar permissions = %o, want 0600", perm)
	}
}

func TestSidecarPathNaming(t *testing.T) {
	got := SidecarPath("/b/appdb_20260115T120000.sql.zst.age")
	if !strings.HasSuffix(got, ".sql.zst.age.meta.json") {
		t.Errorf("SidecarPath = %q", got)
	}
}

func TestExists(t *testing.T) {
	setup(t)

	if Exists("/backups/missing.sql.zst") {
		t.Error("Exists should be false without a sidecar")
	}

	if err := fs.WriteFile("/backups/a.sql.zst", []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Record("/backups/a.sql.zst", Sidecar{Database: "a"}); err != nil {
		t.Fatal(err)
	}
	if !Exists("/backups/a.sql.zst") {
		t.Error("Exists should be true after Record")
	}
}

func TestLoadMissingSidecar(t *testing.T) {
	setup(t)
	if _, err := Load("/backups/none.sql.zst"); err == nil {
		t.Error("Load should fail without a sidecar")
	}
}
