// Package compression provides the stream codecs used by the backup and
// restore pipelines. Artifacts are written as zstd; gzip is accepted on
// restore for artifacts produced by other tooling. Detection is
// extension-first with a magic-byte fallback.
package compression

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// Algorithm represents a compression algorithm
type Algorithm string

const (
	AlgorithmNone Algorithm = "none"
	AlgorithmGzip Algorithm = "gzip"
	AlgorithmZstd Algorithm = "zstd"
)

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xB5, 0x2F, 0xFD}
)

// DetectAlgorithm classifies a file path by its compression extension
func DetectAlgorithm(path string) Algorithm {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		return AlgorithmGzip
	case strings.HasSuffix(lower, ".zst") || strings.HasSuffix(lower, ".zstd"):
		return AlgorithmZstd
	default:
		return AlgorithmNone
	}
}

// DetectAlgorithmFromBytes classifies raw bytes by magic signature
func DetectAlgorithmFromBytes(data []byte) Algorithm {
	if len(data) >= 2 && data[0] == magicGzip[0] && data[1] == magicGzip[1] {
		return AlgorithmGzip
	}
	if len(data) >= 4 &&
		data[0] == magicZstd[0] && data[1] == magicZstd[1] &&
		data[2] == magicZstd[2] && data[3] == magicZstd[3] {
		return AlgorithmZstd
	}
	return AlgorithmNone
}

// DetectAlgorithmFromReader peeks the first 4 bytes for a magic signature.
// The returned reader replays the peeked bytes so no data is lost.
func DetectAlgorithmFromReader(r io.Reader) (Algorithm, io.Reader) {
	br := bufio.NewReaderSize(r, 4)
	peeked, err := br.Peek(4)
	if err != nil && len(peeked) < 2 {
		return AlgorithmNone, br
	}
	return DetectAlgorithmFromBytes(peeked), br
}

// Compressor wraps a compression writer with a unified Close that flushes
// the codec without closing the underlying writer.
type Compressor struct {
	Writer io.Writer
	algo   Algorithm
	closer io.Closer
}

// NewCompressor creates a compression writer over w. Level applies to zstd
// (clamped to its SpeedFastest..SpeedBestCompression range); gzip uses its
// default level.
func NewCompressor(w io.Writer, algo Algorithm, level int) (*Compressor, error) {
	switch algo {
	case AlgorithmZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return &Compressor{Writer: zw, algo: algo, closer: zw}, nil
	case AlgorithmGzip:
		gw := pgzip.NewWriter(w)
		return &Compressor{Writer: gw, algo: algo, closer: gw}, nil
	case AlgorithmNone:
		return &Compressor{Writer: w, algo: algo}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algo)
	}
}

// Algorithm returns the codec in use
func (c *Compressor) Algorithm() Algorithm {
	return c.algo
}

// Close flushes and closes the codec
func (c *Compressor) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Decompressor wraps a decompression reader with a unified Close
type Decompressor struct {
	Reader io.Reader
	algo   Algorithm
	close  func()
}

// NewDecompressor creates a decompression reader over r for the given
// algorithm. AlgorithmNone passes the stream through.
func NewDecompressor(r io.Reader, algo Algorithm) (*Decompressor, error) {
	switch algo {
	case AlgorithmZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return &Decompressor{Reader: zr, algo: algo, close: zr.Close}, nil
	case AlgorithmGzip:
		gr, err := pgzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return &Decompressor{Reader: gr, algo: algo, close: func() { _ = gr.Close() }}, nil
	case AlgorithmNone:
		return &Decompressor{Reader: r, algo: algo}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algo)
	}
}

// NewSniffingDecompressor detects the codec by magic bytes and returns a
// decompression reader. Unrecognized streams pass through unchanged.
func NewSniffingDecompressor(r io.Reader) (*Decompressor, error) {
	algo, replay := DetectAlgorithmFromReader(r)
	return NewDecompressor(replay, algo)
}

// Algorithm returns the detected or requested codec
func (d *Decompressor) Algorithm() Algorithm {
	return d.algo
}

// Close releases codec resources. It never closes the underlying reader.
func (d *Decompressor) Close() error {
	if d.close != nil {
		d.close()
	}
	return nil
}

// Extension returns the artifact filename suffix for an algorithm
func (a Algorithm) Extension() string {
	switch a {
	case AlgorithmGzip:
		return ".gz"
	case AlgorithmZstd:
		return ".zst"
	default:
		return ""
	}
}
