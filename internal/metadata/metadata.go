// Package metadata records the sidecar accompanying every backup artifact.
// The checksum always binds to the bytes stored at rest (post-encryption);
// it is never derived from decrypted or decompressed content.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"tunneldump/internal/fs"
)

// SidecarSuffix is appended to the artifact path for the metadata file
const SidecarSuffix = ".meta.json"

// Checksums holds the digests recorded for an artifact
type Checksums struct {
	SHA256 string `json:"sha256"`
}

// Sidecar is the metadata record persisted alongside an artifact
type Sidecar struct {
	Host            string    `json:"host"`
	Database        string    `json:"database"`
	Type            string    `json:"type"` // engine: postgres or mysql
	Timestamp       time.Time `json:"timestamp"`
	SizeBytes       int64     `json:"size"`
	Checksums       Checksums `json:"checksums"`
	Encryption      string    `json:"encryption"`
	ToolVersion     string    `json:"tool_version,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
}

// SidecarPath returns the sidecar location for an artifact
func SidecarPath(artifactPath string) string {
	return artifactPath + SidecarSuffix
}

// ComputeSHA256 hashes a file's on-disk bytes
func ComputeSHA256(path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Record computes the artifact's checksum and size and persists the sidecar
// with owner-only permissions. The remaining fields of meta are recorded as
// given; Timestamp defaults to now (UTC) when unset.
func Record(artifactPath string, meta Sidecar) (*Sidecar, error) {
	sum, err := ComputeSHA256(artifactPath)
	if err != nil {
		return nil, err
	}
	size, err := fs.FileSize(artifactPath)
	if err != nil {
		return nil, err
	}

	meta.Checksums = Checksums{SHA256: sum}
	meta.SizeBytes = size
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	} else {
		meta.Timestamp = meta.Timestamp.UTC()
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	data = append(data, '\n')

	if err := fs.WriteFile(SidecarPath(artifactPath), data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write sidecar: %w", err)
	}
	// WriteFile honors perm only at creation; enforce on overwrite too
	if err := fs.Chmod(SidecarPath(artifactPath), 0600); err != nil {
		return nil, fmt.Errorf("failed to secure sidecar: %w", err)
	}

	return &meta, nil
}

// Load reads the sidecar for an artifact
func Load(artifactPath string) (*Sidecar, error) {
	data, err := fs.ReadFile(SidecarPath(artifactPath))
	if err != nil {
		return nil, err
	}

	var meta Sidecar
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar %s: %w", SidecarPath(artifactPath), err)
	}
	return &meta, nil
}

// Exists reports whether an artifact has a sidecar
func Exists(artifactPath string) bool {
	ok, err := fs.Exists(SidecarPath(artifactPath))
	return err == nil && ok
}
