package sanitize

import (
	"io"
	"strings"
)

// importPrologue disables referential and uniqueness checking for the
// duration of the import. mysqldump output restores tables in dependency
// order only for data, not for cross-referencing schema objects, and bulk
// loads run several times faster without per-row checks.
const importPrologue = "SET FOREIGN_KEY_CHECKS=0;\n" +
	"SET UNIQUE_CHECKS=0;\n" +
	"SET SQL_MODE='NO_AUTO_VALUE_ON_ZERO';\n"

// varcharRewrites maps VARCHAR declarations that exceed MariaDB's row-size
// limits under utf8mb4 to an unbounded text type. 16383 and 21844 are the
// per-column character maxima of utf8mb4 and utf8mb3 respectively; schema
// authored at those limits on MySQL fails to replay on MariaDB targets.
var varcharRewrites = map[string]string{
	"varchar(16383)": "longtext",
	"varchar(21844)": "longtext",
}

// ImportPrologue returns the statements prefixed to every MySQL import
func ImportPrologue() string {
	return importPrologue
}

// RewriteImportLine applies the cross-variant schema rewrites to one line
func RewriteImportLine(line string) string {
	lower := strings.ToLower(line)
	for from, to := range varcharRewrites {
		if idx := strings.Index(lower, from); idx >= 0 {
			line = line[:idx] + to + line[idx+len(from):]
			lower = strings.ToLower(line)
		}
	}
	return line
}

// NewImportFilter returns a reader producing the import prologue followed by
// r's content with the cross-variant schema rewrites applied.
func NewImportFilter(r io.Reader) io.Reader {
	filtered := newLineFilter(r, RewriteImportLine)
	return io.MultiReader(strings.NewReader(importPrologue), filtered)
}
