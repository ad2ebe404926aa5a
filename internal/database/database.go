// Package database handles direct connections to PostgreSQL and MySQL-family
// servers for the control queries around a job: idempotent target creation
// before restore and server version probes for artifact metadata. The dump
// and restore byte streams themselves go through the external tools, not
// through these connections.
package database

import (
	"context"
	"database/sql"
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Engine identifies the database engine family
type Engine string

const (
	EnginePostgres Engine = "postgres"
	EngineMySQL    Engine = "mysql"
)

// ConnParams is the resolved endpoint a job connects to. When a tunnel is
// active, Host and Port point at the local forward, not the real server.
type ConnParams struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Open connects to the server for control queries. For PostgreSQL the
// maintenance database is used when p.Database is empty; for MySQL no
// default schema is selected so the target may not exist yet.
func Open(engine Engine, p ConnParams) (*sql.DB, error) {
	switch engine {
	case EnginePostgres:
		dbname := p.Database
		if dbname == "" {
			dbname = "postgres"
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=prefer",
			p.Host, p.Port, p.User, dbname)
		if p.Password != "" {
			dsn += fmt.Sprintf(" password=%s", p.Password)
		}
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres connection: %w", err)
		}
		return db, nil

	case EngineMySQL:
		cfg := gomysql.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", p.Host, p.Port)
		cfg.User = p.User
		cfg.Passwd = p.Password
		cfg.DBName = p.Database
		db, err := sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open mysql connection: %w", err)
		}
		return db, nil

	default:
		return nil, fmt.Errorf("unsupported engine %q", engine)
	}
}

// EnsureDatabase creates the named database if it does not exist. Safe to
// call when the database already exists.
func EnsureDatabase(ctx context.Context, db *sql.DB, engine Engine, name string) error {
	switch engine {
	case EnginePostgres:
		// CREATE DATABASE cannot run inside IF NOT EXISTS on PostgreSQL;
		// probe the catalog first.
		var exists int
		query := "SELECT 1 FROM pg_database WHERE datname='" + EscapePGLiteral(name) + "'"
		err := db.QueryRowContext(ctx, query).Scan(&exists)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to check database existence: %w", err)
		}
		if _, err := db.ExecContext(ctx, "CREATE DATABASE "+QuotePGIdentifier(name)); err != nil {
			return fmt.Errorf("failed to create database %s: %w", name, err)
		}
		return nil

	case EngineMySQL:
		stmt := "CREATE DATABASE IF NOT EXISTS " + QuoteMySQLIdentifier(name) +
			" CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create database %s: %w", name, err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported engine %q", engine)
	}
}

// ServerVersion returns the server's version string
func ServerVersion(ctx context.Context, db *sql.DB, engine Engine) (string, error) {
	var query string
	switch engine {
	case EnginePostgres:
		query = "SELECT version()"
	case EngineMySQL:
		query = "SELECT VERSION()"
	default:
		return "", fmt.Errorf("unsupported engine %q", engine)
	}

	var version string
	if err := db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return "", fmt.Errorf("failed to query server version: %w", err)
	}
	return version, nil
}
