// Package crypto composes the external age and gpg tools as streaming
// encrypt/decrypt stages. No cryptographic primitives are implemented here;
// the tools read plaintext on stdin and emit ciphertext on stdout (and the
// inverse), so arbitrarily large artifacts never materialize in memory.
package crypto

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"tunneldump/internal/cleanup"
	"tunneldump/internal/errors"
)

// Type identifies the encryption applied to an artifact
type Type string

const (
	TypeNone Type = "none"
	TypeAge  Type = "age"
	TypeGPG  Type = "gpg"
)

// ParseType parses an encryption type string
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TypeNone, nil
	case "age":
		return TypeAge, nil
	case "gpg", "pgp":
		return TypeGPG, nil
	default:
		return TypeNone, fmt.Errorf("unsupported encryption type %q (supported: none, age, gpg)", s)
	}
}

// DetectTypeFromPath classifies an artifact path by its encryption suffix
func DetectTypeFromPath(path string) Type {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".age"):
		return TypeAge
	case strings.HasSuffix(lower, ".gpg") || strings.HasSuffix(lower, ".pgp"):
		return TypeGPG
	default:
		return TypeNone
	}
}

// Extension returns the artifact filename suffix for a type
func (t Type) Extension() string {
	switch t {
	case TypeAge:
		return ".age"
	case TypeGPG:
		return ".gpg"
	default:
		return ""
	}
}

// Config carries the key material references for both directions
type Config struct {
	Type            Type
	AgeRecipient    string // age public key, for encryption
	AgeIdentityFile string // age identity file, for decryption
	GPGRecipient    string // gpg key id or email, for encryption
}

// Encrypt streams src through the configured tool into dst.
// TypeNone copies the stream unchanged.
func Encrypt(ctx context.Context, dst io.Writer, src io.Reader, cfg Config) error {
	switch cfg.Type {
	case TypeNone:
		_, err := io.Copy(dst, src)
		return err
	case TypeAge:
		if cfg.AgeRecipient == "" {
			return fmt.Errorf("age encryption requires a recipient")
		}
		return runFilter(ctx, dst, src, "age", "--encrypt", "--recipient", cfg.AgeRecipient)
	case TypeGPG:
		if cfg.GPGRecipient == "" {
			return fmt.Errorf("gpg encryption requires a recipient")
		}
		return runFilter(ctx, dst, src, "gpg",
			"--batch", "--yes", "--quiet",
			"--trust-model", "always",
			"--encrypt", "--recipient", cfg.GPGRecipient,
			"--output", "-")
	default:
		return fmt.Errorf("unsupported encryption type %q", cfg.Type)
	}
}

// Decrypt streams ciphertext src through the configured tool into dst
func Decrypt(ctx context.Context, dst io.Writer, src io.Reader, cfg Config) error {
	switch cfg.Type {
	case TypeNone:
		_, err := io.Copy(dst, src)
		return err
	case TypeAge:
		args := []string{"--decrypt"}
		if cfg.AgeIdentityFile != "" {
			args = append(args, "--identity", cfg.AgeIdentityFile)
		}
		return runFilter(ctx, dst, src, "age", args...)
	case TypeGPG:
		return runFilter(ctx, dst, src, "gpg", "--batch", "--quiet", "--decrypt")
	default:
		return fmt.Errorf("unsupported encryption type %q", cfg.Type)
	}
}

// runFilter executes tool as a stdin→stdout stream filter
func runFilter(ctx context.Context, dst io.Writer, src io.Reader, tool string, args ...string) error {
	if _, err := exec.LookPath(tool); err != nil {
		return errors.ToolMissing(tool, "artifact encryption")
	}

	cmd := cleanup.SafeCommand(ctx, tool, args...)
	cmd.Stdin = src
	cmd.Stdout = dst

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("%s failed: %w\n%s", tool, err, detail)
		}
		return fmt.Errorf("%s failed: %w", tool, err)
	}
	return nil
}
