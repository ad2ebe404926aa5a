// Package pipeline wires the streaming stages of a job: dump → compress →
// encrypt → file for backup, and file → decrypt → decompress → filter →
// apply for restore. Stages run concurrently, connected by pipes, so a dump
// never materializes in memory; back-pressure propagates through blocking
// writes. The destination artifact exists with final bytes only if every
// stage succeeded.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"tunneldump/internal/cleanup"
	"tunneldump/internal/compression"
	"tunneldump/internal/crypto"
	"tunneldump/internal/dump"
	"tunneldump/internal/errors"
	"tunneldump/internal/fs"
	"tunneldump/internal/logger"
)

// partialSuffix marks an artifact still being written
const partialSuffix = ".partial"

// Format is the stage composition encoded in an artifact's name
type Format struct {
	Compression compression.Algorithm
	Encryption  crypto.Type
}

// ArtifactName builds the artifact filename for a database backup:
// <database>_<timestamp>.sql.zst[.age|.gpg]
func ArtifactName(database string, ts time.Time, enc crypto.Type) string {
	return fmt.Sprintf("%s_%s.sql.zst%s", database, ts.Format("20060102T150405"), enc.Extension())
}

// DetectFormat classifies an artifact path by its compound suffix,
// recognizing encrypted+compressed combinations such as .sql.zst.age.
func DetectFormat(path string) Format {
	f := Format{Encryption: crypto.DetectTypeFromPath(path)}

	inner := path
	if ext := f.Encryption.Extension(); ext != "" {
		inner = path[:len(path)-len(ext)]
	}
	f.Compression = compression.DetectAlgorithm(inner)
	return f
}

// Composer assembles and runs pipelines
type Composer struct {
	log     logger.Logger
	handler *cleanup.Handler
}

// NewComposer creates a pipeline composer. handler may be nil (tests);
// when set, in-flight partial artifacts are removed on interrupt.
func NewComposer(log logger.Logger, handler *cleanup.Handler) *Composer {
	return &Composer{log: log, handler: handler}
}

// Backup streams dumper's output through compression and optional
// encryption into destPath. The file appears at destPath only after every
// stage succeeded; any failure removes the partial file.
func (c *Composer) Backup(ctx context.Context, dumper dump.Dumper, destPath string, level int, enc crypto.Config) error {
	if enc.Type == "" {
		enc.Type = crypto.TypeNone
	}
	if err := fs.SecureMkdirAll(filepath.Dir(destPath)); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmpPath := destPath + partialSuffix

	cleanupName := "artifact-" + filepath.Base(destPath)
	if c.handler != nil {
		c.handler.Register(cleanupName, func(context.Context) error {
			_ = fs.Remove(tmpPath)
			return nil
		})
		defer c.handler.Unregister(cleanupName)
	}

	if err := c.writeArtifact(ctx, dumper, tmpPath, level, enc); err != nil {
		_ = fs.Remove(tmpPath)
		return err
	}

	if err := fs.Rename(tmpPath, destPath); err != nil {
		_ = fs.Remove(tmpPath)
		return (&errors.JobError{
			Code:     errors.ErrCodeArtifactWrite,
			Category: errors.CategoryPipeline,
			Message:  "Failed to finalize artifact",
		}).WithCause(err)
	}
	return nil
}

func (c *Composer) writeArtifact(ctx context.Context, dumper dump.Dumper, tmpPath string, level int, enc crypto.Config) error {
	out, err := fs.SecureCreate(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	defer out.Close()

	var sink io.Writer = out

	// With encryption the compressed stream detours through the external
	// tool; the pipe carries back-pressure from the file write all the way
	// up to the dump tool's stdout. When the tool dies mid-stream the read
	// side is closed with its error so upstream writes fail immediately
	// instead of blocking on a pipe nobody drains.
	var encDone chan error
	var pw *io.PipeWriter
	if enc.Type != crypto.TypeNone {
		var pr *io.PipeReader
		pr, pw = io.Pipe()
		encDone = make(chan error, 1)
		go func() {
			err := crypto.Encrypt(ctx, out, pr, enc)
			pr.CloseWithError(err)
			encDone <- err
		}()
		sink = pw
	}

	comp, err := compression.NewCompressor(sink, compression.AlgorithmZstd, level)
	if err != nil {
		if pw != nil {
			_ = pw.Close()
			<-encDone
		}
		return (&errors.JobError{
			Code:     errors.ErrCodeCompressionFailed,
			Category: errors.CategoryPipeline,
			Message:  "Failed to initialize compression",
		}).WithCause(err)
	}

	dumpErr := dumper.Dump(ctx, comp.Writer)
	compErr := comp.Close()

	var encErr error
	if pw != nil {
		_ = pw.Close()
		encErr = <-encDone
	}

	// An encryption failure is the root cause: the dump and compressor
	// errors that follow are just the closed pipe propagating upstream.
	if encErr != nil {
		return (&errors.JobError{
			Code:     errors.ErrCodeEncryptionFailed,
			Category: errors.CategoryPipeline,
			Message:  "Encryption failed",
		}).WithCause(encErr)
	}
	if dumpErr != nil {
		return dumpErr
	}
	if compErr != nil {
		return (&errors.JobError{
			Code:     errors.ErrCodeCompressionFailed,
			Category: errors.CategoryPipeline,
			Message:  "Compression failed",
		}).WithCause(compErr)
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("failed to sync artifact: %w", err)
	}
	return out.Close()
}

// ApplyFunc consumes the restored SQL stream
type ApplyFunc func(ctx context.Context, r io.Reader) error

// Restore streams srcPath through decryption and decompression, applies the
// optional engine filter, and hands the plaintext SQL stream to apply.
func (c *Composer) Restore(ctx context.Context, srcPath string, enc crypto.Config, filter func(io.Reader) io.Reader, apply ApplyFunc) error {
	stream, closeStream, err := c.OpenArtifact(ctx, srcPath, enc)
	if err != nil {
		return err
	}
	defer closeStream()

	if filter != nil {
		stream = filter(stream)
	}
	return apply(ctx, stream)
}

// OpenArtifact opens srcPath and returns the decrypted, decompressed SQL
// stream. The encryption stage is selected from the artifact's extension
// (overridable via enc.Type); compression is detected from the extension
// with a magic-byte fallback.
func (c *Composer) OpenArtifact(ctx context.Context, srcPath string, enc crypto.Config) (io.Reader, func(), error) {
	format := DetectFormat(srcPath)
	if enc.Type == "" || enc.Type == crypto.TypeNone {
		enc.Type = format.Encryption
	}

	file, err := fs.Open(srcPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open artifact: %w", err)
	}

	closers := []func(){func() { _ = file.Close() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var stream io.Reader = file
	if enc.Type != crypto.TypeNone {
		pr, pw := io.Pipe()
		go func() {
			err := crypto.Decrypt(ctx, pw, file, enc)
			pw.CloseWithError(err)
		}()
		stream = pr
		closers = append(closers, func() { _ = pr.Close() })
	}

	// After decryption the stream has no name; sniff the codec from its
	// magic bytes. This also covers artifacts with missing extensions.
	decomp, err := compression.NewSniffingDecompressor(stream)
	if err != nil {
		closeAll()
		return nil, nil, (&errors.JobError{
			Code:     errors.ErrCodeDecryptionFailed,
			Category: errors.CategoryPipeline,
			Message:  "Failed to open artifact stream",
		}).WithCause(err)
	}
	closers = append(closers, func() { _ = decomp.Close() })

	c.log.Debug("Opened artifact",
		"path", filepath.Base(srcPath),
		"encryption", string(enc.Type),
		"compression", string(decomp.Algorithm()))

	return decomp.Reader, closeAll, nil
}

// IsPartial reports whether a path names an in-flight artifact
func IsPartial(path string) bool {
	return strings.HasSuffix(path, partialSuffix)
}
