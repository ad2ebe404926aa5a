package compression

import (
	"bytes"
	"io"
	"math/rand"
	"testing"
)

func TestDetectAlgorithm(t *testing.T) {
	tests := []struct {
		path     string
		expected Algorithm
	}{
		{"appdb_20260115T120000.sql.zst", AlgorithmZstd},
		{"appdb.sql.zstd", AlgorithmZstd},
		{"appdb.sql.gz", AlgorithmGzip},
		{"/path/to/APPDB.SQL.ZST", AlgorithmZstd},
		{"appdb.sql", AlgorithmNone},
		{"", AlgorithmNone},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := DetectAlgorithm(tt.path); got != tt.expected {
				t.Errorf("DetectAlgorithm(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestDetectAlgorithmFromBytes(t *testing.T) {
	if got := DetectAlgorithmFromBytes([]byte{0x1f, 0x8b, 0x08}); got != AlgorithmGzip {
		t.Errorf("gzip magic = %q", got)
	}
	if got := DetectAlgorithmFromBytes([]byte{0x28, 0xB5, 0x2F, 0xFD, 0x00}); got != AlgorithmZstd {
		t.Errorf("zstd magic = %q", got)
	}
	if got := DetectAlgorithmFromBytes([]byte("-- dump")); got != AlgorithmNone {
		t.Errorf("plain text = %q", got)
	}
	if got := DetectAlgorithmFromBytes(nil); got != AlgorithmNone {
		t.Errorf("empty = %q", got)
	}
}

func roundTrip(t *testing.T, algo Algorithm, input []byte) []byte {
	t.Helper()

	var compressed bytes.Buffer
	c, err := NewCompressor(&compressed, algo, 3)
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}
	if _, err := c.Writer.Write(input); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	d, err := NewDecompressor(bytes.NewReader(compressed.Bytes()), algo)
	if err != nil {
		t.Fatalf("NewDecompressor: %v", err)
	}
	defer d.Close()

	out, err := io.ReadAll(d.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	random := make([]byte, 1<<16)
	rng.Read(random)

	inputs := map[string][]byte{
		"empty":  {},
		"sql":    []byte("CREATE TABLE users (id int);\nINSERT INTO users VALUES (1);\n"),
		"random": random,
	}

	for _, algo := range []Algorithm{AlgorithmZstd, AlgorithmGzip, AlgorithmNone} {
		for name, input := range inputs {
			t.Run(string(algo)+"/"+name, func(t *testing.T) {
				out := roundTrip(t, algo, input)
				if !bytes.Equal(out, input) {
					t.Errorf("round trip mismatch: got %d bytes, want %d", len(out), len(input))
				}
			})
		}
	}
}

func TestSniffingDecompressor(t *testing.T) {
	input := []byte("SELECT 1;\n")

	for _, algo := range []Algorithm{AlgorithmZstd, AlgorithmGzip} {
		var compressed bytes.Buffer
		c, err := NewCompressor(&compressed, algo, 3)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = c.Writer.Write(input)
		_ = c.Close()

		d, err := NewSniffingDecompressor(bytes.NewReader(compressed.Bytes()))
		if err != nil {
			t.Fatalf("sniff %s: %v", algo, err)
		}
		if d.Algorithm() != algo {
			t.Errorf("sniffed %q, want %q", d.Algorithm(), algo)
		}
		out, _ := io.ReadAll(d.Reader)
		_ = d.Close()
		if !bytes.Equal(out, input) {
			t.Errorf("%s: round trip mismatch", algo)
		}
	}

	// Plain text passes through
	d, err := NewSniffingDecompressor(bytes.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if d.Algorithm() != AlgorithmNone {
		t.Errorf("plain text sniffed as %q", d.Algorithm())
	}
	out, _ := io.ReadAll(d.Reader)
	if !bytes.Equal(out, input) {
		t.Error("passthrough mismatch")
	}
}

func TestExtension(t *testing.T) {
	if AlgorithmZstd.Extension() != ".zst" {
		t.Error("zstd extension")
	}
	if AlgorithmGzip.Extension() != ".gz" {
		t.Error("gzip extension")
	}
	if AlgorithmNone.Extension() != "" {
		t.Error("none extension")
	}
}
