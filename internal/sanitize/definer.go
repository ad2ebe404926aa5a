// Package sanitize provides the SQL stream filters applied around MySQL
// dumps and restores: DEFINER-clause handling for portable schema dumps, and
// the import rewrites that let MySQL-authored schema replay against
// MariaDB-compatible targets.
package sanitize

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// DefinerMode controls how DEFINER clauses in dumped schema are handled
type DefinerMode string

const (
	// DefinerStrip removes DEFINER clauses entirely
	DefinerStrip DefinerMode = "strip"
	// DefinerRewrite replaces the owner with CURRENT_USER
	DefinerRewrite DefinerMode = "rewrite"
	// DefinerPassthrough leaves the stream byte-identical
	DefinerPassthrough DefinerMode = "passthrough"
)

// ParseDefinerMode parses a mode string
func ParseDefinerMode(s string) (DefinerMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strip", "":
		return DefinerStrip, nil
	case "rewrite", "rewrite-to-current-user":
		return DefinerRewrite, nil
	case "passthrough":
		return DefinerPassthrough, nil
	default:
		return "", fmt.Errorf("unsupported definer mode %q (supported: strip, rewrite, passthrough)", s)
	}
}

// definerPattern matches DEFINER=`user`@`host`, DEFINER='user'@'host' and
// unquoted forms, as emitted on views, triggers, routines and events.
var definerPattern = regexp.MustCompile("DEFINER=(?:`[^`]*`|'[^']*'|[^@`'\\s]+)@(?:`[^`]*`|'[^']*'|[^\\s*,;(]+)")

// stripPattern additionally swallows the whitespace preceding the clause so
// stripping leaves single spacing at the removal site. Bytes elsewhere on
// the line, including string literals, stay untouched.
var stripPattern = regexp.MustCompile("\\s*" + definerPattern.String())

// ApplyDefiner rewrites one line of schema SQL according to mode
func ApplyDefiner(line string, mode DefinerMode) string {
	switch mode {
	case DefinerStrip:
		return stripPattern.ReplaceAllString(line, "")
	case DefinerRewrite:
		return definerPattern.ReplaceAllString(line, "DEFINER=CURRENT_USER")
	default:
		return line
	}
}

// NewDefinerFilter returns a reader producing r's content with DEFINER
// clauses handled per mode. Passthrough mode returns r unchanged so the
// output stays byte-identical.
func NewDefinerFilter(r io.Reader, mode DefinerMode) io.Reader {
	if mode == DefinerPassthrough {
		return r
	}
	return newLineFilter(r, func(line string) string {
		return ApplyDefiner(line, mode)
	})
}

// lineFilter applies a per-line transform to a stream. Lines are split on
// '\n'; the trailing fragment without a newline is transformed too.
type lineFilter struct {
	pr *io.PipeReader
}

func newLineFilter(r io.Reader, transform func(string) string) io.Reader {
	pr, pw := io.Pipe()

	go func() {
		br := bufio.NewReaderSize(r, 256*1024)
		for {
			line, err := br.ReadString('\n')
			if len(line) > 0 {
				if _, werr := io.WriteString(pw, transform(line)); werr != nil {
					pw.CloseWithError(werr)
					return
				}
			}
			if err != nil {
				if err == io.EOF {
					pw.Close()
				} else {
					pw.CloseWithError(err)
				}
				return
			}
		}
	}()

	return &lineFilter{pr: pr}
}

func (f *lineFilter) Read(p []byte) (int, error) {
	return f.pr.Read(p)
}
