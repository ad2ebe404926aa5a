// Package errors provides structured error types for tunneldump
// with error codes, categories, and remediation guidance
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier.
// Format: TUNNELDUMP-<CATEGORY><NUMBER>
// Categories: T=Tunnel, D=Dump, P=Pipeline, R=Restore, V=Verification
type ErrorCode string

const (
	// Tunnel errors
	ErrCodePortExhausted   ErrorCode = "TUNNELDUMP-T001"
	ErrCodeTunnelNotFound  ErrorCode = "TUNNELDUMP-T002"
	ErrCodeJumpUnreachable ErrorCode = "TUNNELDUMP-T003"

	// Dump errors
	ErrCodeDumpFailed  ErrorCode = "TUNNELDUMP-D001"
	ErrCodeEmptyDump   ErrorCode = "TUNNELDUMP-D002"
	ErrCodeToolMissing ErrorCode = "TUNNELDUMP-D003"

	// Pipeline errors
	ErrCodeCompressionFailed ErrorCode = "TUNNELDUMP-P001"
	ErrCodeEncryptionFailed  ErrorCode = "TUNNELDUMP-P002"
	ErrCodeDecryptionFailed  ErrorCode = "TUNNELDUMP-P003"
	ErrCodeArtifactWrite     ErrorCode = "TUNNELDUMP-P004"

	// Restore errors
	ErrCodeRestoreFailed ErrorCode = "TUNNELDUMP-R001"
	ErrCodeTargetCreate  ErrorCode = "TUNNELDUMP-R002"

	// Verification errors
	ErrCodeChecksumMismatch ErrorCode = "TUNNELDUMP-V001"
	ErrCodeUnreadable       ErrorCode = "TUNNELDUMP-V002"
)

// Category represents error categories
type Category string

const (
	CategoryTunnel       Category = "tunnel"
	CategoryDump         Category = "dump"
	CategoryPipeline     Category = "pipeline"
	CategoryRestore      Category = "restore"
	CategoryVerification Category = "verification"
)

// JobError is a structured error with code, category, and remediation
type JobError struct {
	Code        ErrorCode
	Category    Category
	Message     string
	Details     string
	Remediation string
	Cause       error
}

// Error implements the error interface
func (e *JobError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += fmt.Sprintf("\n\nDetails:\n  %s", e.Details)
	}
	if e.Remediation != "" {
		msg += fmt.Sprintf("\n\nTo fix:\n  %s", e.Remediation)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *JobError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is comparison by code
func (e *JobError) Is(target error) bool {
	if t, ok := target.(*JobError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetails adds details to an error
func (e *JobError) WithDetails(details string) *JobError {
	e.Details = details
	return e
}

// WithCause adds an underlying cause
func (e *JobError) WithCause(cause error) *JobError {
	e.Cause = cause
	return e
}

// PortExhausted indicates no free local port was found within the attempt budget
func PortExhausted(attempts int) *JobError {
	return &JobError{
		Code:     ErrCodePortExhausted,
		Category: CategoryTunnel,
		Message:  "No free local port found for tunnel",
		Details:  fmt.Sprintf("Tried %d candidate ports in the ephemeral range", attempts),
		Remediation: `Check for local port pressure:
  ss -tlnp | wc -l

Close stale tunnels or widen the ephemeral range and retry.`,
	}
}

// TunnelNotFound indicates a spawned forward process could not be located
func TunnelNotFound(localPort int, jumpHost string) *JobError {
	return &JobError{
		Code:     ErrCodeTunnelNotFound,
		Category: CategoryTunnel,
		Message:  "SSH tunnel process not found after startup",
		Details:  fmt.Sprintf("Local port: %d\nJump host: %s", localPort, jumpHost),
		Remediation: fmt.Sprintf(`The forward may have exited immediately.

To diagnose:
  1. Try the forward manually:
     ssh -N -L %d:<target>:<port> %s
  2. Check SSH connectivity:
     ssh %s true`, localPort, jumpHost, jumpHost),
	}
}

// JumpUnreachable indicates the ssh forward could not be established
func JumpUnreachable(jumpHost string, cause error) *JobError {
	return &JobError{
		Code:     ErrCodeJumpUnreachable,
		Category: CategoryTunnel,
		Message:  fmt.Sprintf("SSH forward via %s could not be established", jumpHost),
		Cause:    cause,
		Remediation: fmt.Sprintf(`To diagnose:
  1. Check SSH connectivity:
     ssh %s true
  2. BatchMode is enabled, so interactive prompts fail; use key-based auth`, jumpHost),
	}
}

// DumpFailed wraps a dump tool failure with its captured stderr
func DumpFailed(tool, database, stderr string, cause error) *JobError {
	return &JobError{
		Code:     ErrCodeDumpFailed,
		Category: CategoryDump,
		Message:  fmt.Sprintf("%s failed for database %s", tool, database),
		Details:  stderr,
		Cause:    cause,
		Remediation: fmt.Sprintf(`To diagnose:
  1. Run %s manually against the same endpoint
  2. Check credentials and privileges for the dump user
  3. Re-run with --debug for the full command line`, tool),
	}
}

// EmptyDump indicates a dump tool exited cleanly but produced no output
func EmptyDump(tool, database string) *JobError {
	return &JobError{
		Code:     ErrCodeEmptyDump,
		Category: CategoryDump,
		Message:  fmt.Sprintf("%s produced no output for database %s", tool, database),
		Details:  "A zero-length dump after a clean exit indicates a connection or privilege problem, not an empty database: a dump of an empty database still contains schema statements.",
		Remediation: `To diagnose:
  1. Verify the database name is correct
  2. Check that the dump user can read the target schema`,
	}
}

// ToolMissing indicates a required external tool is not installed
func ToolMissing(tool, purpose string) *JobError {
	return &JobError{
		Code:        ErrCodeToolMissing,
		Category:    CategoryDump,
		Message:     fmt.Sprintf("Required tool not found: %s", tool),
		Details:     fmt.Sprintf("Purpose: %s", purpose),
		Remediation: fmt.Sprintf("Install %s using your package manager (e.g. apt install %s).", tool, packageName(tool)),
	}
}

// ChecksumMismatch reports a verification failure with both digest values
func ChecksumMismatch(file, expected, actual string) *JobError {
	return &JobError{
		Code:     ErrCodeChecksumMismatch,
		Category: CategoryVerification,
		Message:  "Artifact integrity check failed - checksum mismatch",
		Details:  fmt.Sprintf("File: %s\nExpected: %s\nActual: %s", file, expected, actual),
		Remediation: `The artifact bytes differ from what was recorded at backup time.

To fix:
  1. Re-fetch the artifact if it was copied from elsewhere
  2. Create a fresh backup if no intact copy exists
  3. Check for disk errors: dmesg | grep -i error`,
	}
}

// Unreadable reports an artifact that cannot be read or decoded
func Unreadable(file string, cause error) *JobError {
	return &JobError{
		Code:     ErrCodeUnreadable,
		Category: CategoryVerification,
		Message:  "Artifact could not be read",
		Details:  fmt.Sprintf("File: %s", file),
		Cause:    cause,
		Remediation: `The artifact stream does not decode past its header.

To fix:
  1. Check that decryption keys match the artifact (--age-identity, gpg keyring)
  2. Create a fresh backup if the file is truncated or corrupt`,
	}
}

// RestoreFailed wraps a restore tool failure with its diagnostics
func RestoreFailed(tool, database, stderr string, cause error) *JobError {
	return &JobError{
		Code:     ErrCodeRestoreFailed,
		Category: CategoryRestore,
		Message:  fmt.Sprintf("%s failed restoring database %s", tool, database),
		Details:  stderr,
		Cause:    cause,
	}
}

func packageName(tool string) string {
	packages := map[string]string{
		"pg_dump":      "postgresql-client",
		"pg_restore":   "postgresql-client",
		"psql":         "postgresql-client",
		"mysqldump":    "mysql-client",
		"mysql":        "mysql-client",
		"mariadb-dump": "mariadb-client",
		"age":          "age",
		"gpg":          "gnupg",
	}
	if pkg, ok := packages[tool]; ok {
		return pkg
	}
	return tool
}

// GetCode returns the error code if available
func GetCode(err error) ErrorCode {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Code
	}
	return ""
}

// GetCategory returns the error category if available
func GetCategory(err error) Category {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Category
	}
	return ""
}
