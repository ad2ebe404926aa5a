// Package creds resolves database passwords from the environment and the
// engines' conventional credential files (~/.pgpass, ~/.my.cnf).
package creds

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"tunneldump/internal/fs"
)

// ErrNotConfigured is returned when no password source covers the host
var ErrNotConfigured = fmt.Errorf("no credentials configured")

// Resolver looks up passwords for database hosts
type Resolver struct {
	homeDir string
}

// NewResolver creates a resolver reading the current user's credential files
func NewResolver() *Resolver {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return &Resolver{homeDir: home}
}

// NewResolverWithHome creates a resolver rooted at an explicit home
// directory (tests).
func NewResolverWithHome(home string) *Resolver {
	return &Resolver{homeDir: home}
}

// GetPassword resolves the password for host/port/user on the given engine.
// Resolution order: TUNNELDUMP_DB_PASSWORD, then the engine's credential
// file. Returns ErrNotConfigured when nothing matches.
func (r *Resolver) GetPassword(engine, host string, port int, user string) (string, error) {
	if pw := os.Getenv("TUNNELDUMP_DB_PASSWORD"); pw != "" {
		return pw, nil
	}

	switch engine {
	case "postgres", "postgresql":
		if pw, ok := r.fromPgpass(host, port, user); ok {
			return pw, nil
		}
	case "mysql", "mariadb":
		if pw, ok := r.fromMyCnf(); ok {
			return pw, nil
		}
	}

	return "", ErrNotConfigured
}

// fromPgpass scans ~/.pgpass lines of the form
// hostname:port:database:username:password, honoring * wildcards.
func (r *Resolver) fromPgpass(host string, port int, user string) (string, bool) {
	if r.homeDir == "" {
		return "", false
	}
	data, err := fs.ReadFile(filepath.Join(r.homeDir, ".pgpass"))
	if err != nil {
		return "", false
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 5)
		if len(parts) != 5 {
			continue
		}
		if !pgpassMatch(parts[0], host) {
			continue
		}
		if parts[1] != "*" {
			p, err := strconv.Atoi(parts[1])
			if err != nil || p != port {
				continue
			}
		}
		if !pgpassMatch(parts[3], user) {
			continue
		}
		return parts[4], true
	}
	return "", false
}

func pgpassMatch(field, value string) bool {
	return field == "*" || field == value
}

// fromMyCnf reads the password from the [client] section of ~/.my.cnf
func (r *Resolver) fromMyCnf() (string, bool) {
	if r.homeDir == "" {
		return "", false
	}
	data, err := fs.ReadFile(filepath.Join(r.homeDir, ".my.cnf"))
	if err != nil {
		return "", false
	}

	inClient := false
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inClient = line == "[client]"
			continue
		}
		if !inClient {
			continue
		}
		if key, value, ok := strings.Cut(line, "="); ok {
			if strings.TrimSpace(key) == "password" {
				return strings.Trim(strings.TrimSpace(value), `"'`), true
			}
		}
	}
	return "", false
}
