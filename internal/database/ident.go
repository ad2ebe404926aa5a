package database

import "strings"

// QuotePGIdentifier safely quotes a PostgreSQL identifier (table, database,
// role name) by wrapping in double-quotes and doubling internal ones.
func QuotePGIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteMySQLIdentifier safely quotes a MySQL/MariaDB identifier by wrapping
// in backticks and doubling internal ones.
func QuoteMySQLIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// EscapePGLiteral escapes a PostgreSQL string literal by doubling
// single-quotes. The result belongs inside single-quotes in a query.
func EscapePGLiteral(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
