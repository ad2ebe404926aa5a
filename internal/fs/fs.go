// Package fs wraps filesystem access behind afero so tests can swap in an
// in-memory filesystem, and provides the secure-permission helpers used for
// backup artifacts and sidecar files.
package fs

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"
)

var (
	mu      sync.RWMutex
	backend afero.Fs = afero.NewOsFs()
)

// SetFS replaces the active filesystem (tests only)
func SetFS(fs afero.Fs) {
	mu.Lock()
	defer mu.Unlock()
	backend = fs
}

// ResetFS restores the OS filesystem
func ResetFS() {
	SetFS(afero.NewOsFs())
}

// NewMemMapFs returns an in-memory filesystem for tests
func NewMemMapFs() afero.Fs {
	return afero.NewMemMapFs()
}

func active() afero.Fs {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func Open(name string) (afero.File, error) {
	return active().Open(name)
}

func Create(name string) (afero.File, error) {
	return active().Create(name)
}

func Remove(name string) error {
	return active().Remove(name)
}

func Rename(oldname, newname string) error {
	return active().Rename(oldname, newname)
}

func Stat(name string) (os.FileInfo, error) {
	return active().Stat(name)
}

func Chmod(name string, mode os.FileMode) error {
	return active().Chmod(name, mode)
}

func MkdirAll(path string, perm os.FileMode) error {
	return active().MkdirAll(path, perm)
}

func ReadFile(filename string) ([]byte, error) {
	return afero.ReadFile(active(), filename)
}

func WriteFile(filename string, data []byte, perm os.FileMode) error {
	return afero.WriteFile(active(), filename, data, perm)
}

func Exists(path string) (bool, error) {
	return afero.Exists(active(), path)
}

func ReadDir(dirname string) ([]os.FileInfo, error) {
	return afero.ReadDir(active(), dirname)
}

func FileSize(path string) (int64, error) {
	info, err := Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// SecureCreate creates a file with owner-only permissions (0600).
// Used for artifacts and sidecars containing database content.
func SecureCreate(path string) (afero.File, error) {
	f, err := active().OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	// MemMapFs ignores OpenFile perm; enforce explicitly so tests observe 0600
	if err := active().Chmod(path, 0600); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// SecureOpenAppend opens a file for appending with owner-only permissions,
// creating it if missing. Used for the audit trail.
func SecureOpenAppend(path string) (afero.File, error) {
	f, err := active().OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	if err := active().Chmod(path, 0600); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// SecureMkdirAll creates a directory tree with owner-only permissions
func SecureMkdirAll(path string) error {
	return active().MkdirAll(path, 0700)
}

// CopyWithContext copies src to dst, checking for context cancellation
// between chunks. Returns the byte count copied so far on cancellation.
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw < nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
}
