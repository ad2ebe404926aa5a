// Package restore imports a plaintext SQL stream into a target database
// using the engine's native client. Imports are warning-tolerant: client
// stderr is surfaced as warnings and only a non-zero exit aborts the job.
package restore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"tunneldump/internal/cleanup"
	"tunneldump/internal/database"
	"tunneldump/internal/errors"
	"tunneldump/internal/logger"
	"tunneldump/internal/sanitize"
)

// stderrTail bounds how many client diagnostic lines are kept for the
// error message when an import fails
const stderrTail = 20

// Adapter imports SQL into one target database
type Adapter struct {
	engine database.Engine
	params database.ConnParams
	log    logger.Logger
}

func NewAdapter(engine database.Engine, params database.ConnParams, log logger.Logger) *Adapter {
	return &Adapter{engine: engine, params: params, log: log}
}

// EnsureTarget creates the target database if it does not exist. Safe to
// call repeatedly; an existing database is left untouched.
func (a *Adapter) EnsureTarget(ctx context.Context) error {
	admin := a.params
	admin.Database = "" // connect to the engine's maintenance database

	db, err := database.Open(a.engine, admin)
	if err != nil {
		return (&errors.JobError{
			Code:     errors.ErrCodeTargetCreate,
			Category: errors.CategoryRestore,
			Message:  "Cannot connect to create target database",
		}).WithCause(err)
	}
	defer db.Close()

	if version, verr := database.ServerVersion(ctx, db, a.engine); verr == nil {
		a.log.Info("Connected to target server", "version", version)
	}

	if err := database.EnsureDatabase(ctx, db, a.engine, a.params.Database); err != nil {
		return (&errors.JobError{
			Code:     errors.ErrCodeTargetCreate,
			Category: errors.CategoryRestore,
			Message:  fmt.Sprintf("Cannot ensure database %s exists", a.params.Database),
		}).WithCause(err)
	}
	return nil
}

// Filter returns the stream filter applied between decompression and
// import. MySQL imports get the session prologue and cross-variant schema
// rewrites; PostgreSQL streams pass through untouched.
func (a *Adapter) Filter() func(io.Reader) io.Reader {
	if a.engine == database.EngineMySQL {
		return sanitize.NewImportFilter
	}
	return nil
}

// Tool returns the client binary used for the import
func (a *Adapter) Tool() string {
	if a.engine == database.EngineMySQL {
		return "mysql"
	}
	return "psql"
}

// pgCustomMagic opens PostgreSQL custom-format archives (pg_dump -Fc)
var pgCustomMagic = []byte("PGDMP")

// Apply pipes the SQL stream into the engine's client. PostgreSQL streams
// are sniffed for the custom archive format, which goes through pg_restore
// instead of psql. It satisfies pipeline.ApplyFunc.
func (a *Adapter) Apply(ctx context.Context, r io.Reader) error {
	var argv []string
	var env []string

	switch a.engine {
	case database.EngineMySQL:
		argv = a.mysqlArgs()
		env = []string{"MYSQL_PWD=" + a.params.Password}
	default:
		br := bufio.NewReader(r)
		r = br
		env = []string{"PGPASSWORD=" + a.params.Password}
		if head, err := br.Peek(len(pgCustomMagic)); err == nil && bytes.Equal(head, pgCustomMagic) {
			argv = a.pgRestoreArgs()
		} else {
			argv = a.psqlArgs()
		}
	}

	if _, err := exec.LookPath(argv[0]); err != nil {
		return errors.ToolMissing(argv[0], "restoring "+string(a.engine)+" backups")
	}

	a.log.Debug("Starting import", "tool", argv[0], "database", a.params.Database)
	return a.runImport(ctx, argv, env, r)
}

func (a *Adapter) psqlArgs() []string {
	return []string{
		"psql",
		"--host=" + a.params.Host,
		"--port=" + strconv.Itoa(a.params.Port),
		"--username=" + a.params.User,
		"--dbname=" + a.params.Database,
		"--no-password",
		"--quiet",
		"-X", // skip psqlrc, it can change quoting and echo behavior
	}
}

// pgRestoreArgs restores custom-format archives. Ownership and grants from
// the source cluster rarely exist on the target, so both are dropped.
func (a *Adapter) pgRestoreArgs() []string {
	return []string{
		"pg_restore",
		"--host=" + a.params.Host,
		"--port=" + strconv.Itoa(a.params.Port),
		"--username=" + a.params.User,
		"--dbname=" + a.params.Database,
		"--no-password",
		"--no-owner",
		"--no-privileges",
	}
}

func (a *Adapter) mysqlArgs() []string {
	return []string{
		"mysql",
		"--host=" + a.params.Host,
		"--port=" + strconv.Itoa(a.params.Port),
		"--user=" + a.params.User,
		// Continue past statement errors; dumps from other variants and
		// versions routinely produce benign incompatibilities.
		"--force",
		a.params.Database,
	}
}

// runImport executes the client with the SQL stream on stdin. Stderr lines
// are logged as warnings as they arrive; the last few are kept for the
// error when the client exits non-zero.
func (a *Adapter) runImport(ctx context.Context, argv, env []string, stdin io.Reader) error {
	cmd := cleanup.SafeCommand(ctx, argv[0], argv[1:]...)
	cmd.Env = append(cmd.Env, env...)
	cmd.Stdin = stdin
	cmd.Stdout = io.Discard

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to attach stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return errors.RestoreFailed(argv[0], a.params.Database, "", err)
	}

	warnings := 0
	var tail []string
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			warnings++
			a.log.Warn("Import diagnostic", "tool", argv[0], "message", line)
			tail = append(tail, line)
			if len(tail) > stderrTail {
				tail = tail[1:]
			}
		}
	}()

	cmdDone := make(chan error, 1)
	go func() {
		<-stderrDone
		cmdDone <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		cleanup.KillCommandGroup(cmd)
		<-cmdDone
		return ctx.Err()
	case err := <-cmdDone:
		if err != nil {
			return errors.RestoreFailed(argv[0], a.params.Database, strings.Join(tail, "\n"), err)
		}
	}

	if warnings > 0 {
		a.log.Warn("Import completed with diagnostics", "count", warnings, "database", a.params.Database)
	} else {
		a.log.Debug("Import completed", "database", a.params.Database)
	}
	return nil
}
