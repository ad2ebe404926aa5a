// Package dump produces the raw SQL byte stream for a backup job.
//
// PostgreSQL dumps in one pg_dump pass: per-table data exclusion is a native
// flag. MySQL needs two mandatory passes because mysqldump cannot express
// "schema for all tables, data for a subset" in one invocation: pass 1 dumps
// schema for every table plus routines, triggers and events (through the
// DEFINER filter); pass 2 dumps row data only for non-excluded tables.
package dump

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"tunneldump/internal/cleanup"
	"tunneldump/internal/database"
	"tunneldump/internal/errors"
	"tunneldump/internal/fs"
	"tunneldump/internal/logger"
	"tunneldump/internal/sanitize"
)

// Job describes one backup request
type Job struct {
	Database         string
	ExcludeTableData []string
	Verbose          bool
}

// Dumper produces a SQL stream for one engine
type Dumper interface {
	// Dump writes the complete dump to w, failing on nonzero tool exit or
	// empty required output.
	Dump(ctx context.Context, w io.Writer) error

	// Tool names the external dump tool, for diagnostics and metadata
	Tool() string

	// ToolVersion reports the dump tool's version string
	ToolVersion(ctx context.Context) (string, error)
}

// NewDumper selects the engine-specific dumper
func NewDumper(engine database.Engine, params database.ConnParams, job Job, definerMode sanitize.DefinerMode, log logger.Logger) (Dumper, error) {
	switch engine {
	case database.EnginePostgres:
		return &postgresDumper{params: params, job: job, log: log}, nil
	case database.EngineMySQL:
		return &mysqlDumper{params: params, job: job, definerMode: definerMode, log: log}, nil
	default:
		return nil, fmt.Errorf("unsupported engine %q", engine)
	}
}

// postgresDumper dumps via a single pg_dump invocation
type postgresDumper struct {
	params database.ConnParams
	job    Job
	log    logger.Logger
}

func (d *postgresDumper) Tool() string { return "pg_dump" }

func (d *postgresDumper) ToolVersion(ctx context.Context) (string, error) {
	return toolVersion(ctx, "pg_dump")
}

func (d *postgresDumper) args() []string {
	args := []string{
		"-h", d.params.Host,
		"-p", fmt.Sprintf("%d", d.params.Port),
		"-U", d.params.User,
		"--no-password",
		"--format=plain",
	}
	for _, table := range d.job.ExcludeTableData {
		args = append(args, "--exclude-table-data="+table)
	}
	if d.job.Verbose {
		args = append(args, "--verbose")
	}
	args = append(args, d.job.Database)
	return args
}

func (d *postgresDumper) Dump(ctx context.Context, w io.Writer) error {
	if _, err := exec.LookPath("pg_dump"); err != nil {
		return errors.ToolMissing("pg_dump", "PostgreSQL backup")
	}

	env := []string{}
	if d.params.Password != "" {
		env = append(env, "PGPASSWORD="+d.params.Password)
	}

	d.log.Debug("Running pg_dump", "database", d.job.Database, "exclusions", len(d.job.ExcludeTableData))

	n, stderr, err := streamCommand(ctx, d.log, append([]string{"pg_dump"}, d.args()...), env, w, nil)
	if err != nil {
		return errors.DumpFailed("pg_dump", d.job.Database, stderr, err)
	}
	if n == 0 {
		// A clean exit with zero bytes means something went wrong upstream;
		// even an empty database dumps schema boilerplate.
		return errors.EmptyDump("pg_dump", d.job.Database)
	}

	d.log.Debug("pg_dump complete", "database", d.job.Database, "bytes", n)
	return nil
}

// mysqlDumper dumps via two sequential mysqldump passes
type mysqlDumper struct {
	params      database.ConnParams
	job         Job
	definerMode sanitize.DefinerMode
	log         logger.Logger
}

func (d *mysqlDumper) Tool() string { return "mysqldump" }

func (d *mysqlDumper) ToolVersion(ctx context.Context) (string, error) {
	return toolVersion(ctx, "mysqldump")
}

func (d *mysqlDumper) baseArgs() []string {
	return []string{
		"-h", d.params.Host,
		"-P", fmt.Sprintf("%d", d.params.Port),
		"-u", d.params.User,
		"--single-transaction",
		"--quick",
	}
}

// schemaArgs covers every table regardless of exclusions, plus stored
// programs. Exclusions only ever apply to row data.
func (d *mysqlDumper) schemaArgs() []string {
	args := append(d.baseArgs(),
		"--no-data",
		"--routines",
		"--triggers",
		"--events",
	)
	return append(args, d.job.Database)
}

// dataArgs dumps row data only, skipping excluded tables
func (d *mysqlDumper) dataArgs() []string {
	args := append(d.baseArgs(),
		"--no-create-info",
		"--skip-triggers",
	)
	for _, table := range d.job.ExcludeTableData {
		args = append(args, fmt.Sprintf("--ignore-table=%s.%s", d.job.Database, table))
	}
	return append(args, d.job.Database)
}

func (d *mysqlDumper) Dump(ctx context.Context, w io.Writer) error {
	if _, err := exec.LookPath("mysqldump"); err != nil {
		return errors.ToolMissing("mysqldump", "MySQL backup")
	}

	env := []string{}
	if d.params.Password != "" {
		env = append(env, "MYSQL_PWD="+d.params.Password)
	}

	// Pass 1: schema for all tables, DEFINER-sanitized
	d.log.Debug("Running mysqldump schema pass", "database", d.job.Database, "definer_mode", string(d.definerMode))

	filter := func(r io.Reader) io.Reader {
		return sanitize.NewDefinerFilter(r, d.definerMode)
	}
	n, stderr, err := streamCommand(ctx, d.log, append([]string{"mysqldump"}, d.schemaArgs()...), env, w, filter)
	if err != nil {
		return errors.DumpFailed("mysqldump", d.job.Database, stderr, err)
	}
	if n == 0 {
		return errors.EmptyDump("mysqldump", d.job.Database)
	}

	// Pass 2: data for non-excluded tables. An empty data pass is legal:
	// every table may be excluded or empty.
	d.log.Debug("Running mysqldump data pass", "database", d.job.Database, "excluded", len(d.job.ExcludeTableData))

	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	_, stderr, err = streamCommand(ctx, d.log, append([]string{"mysqldump"}, d.dataArgs()...), env, w, nil)
	if err != nil {
		return errors.DumpFailed("mysqldump", d.job.Database, stderr, err)
	}

	return nil
}

// streamCommand runs argv, streaming stdout (optionally through filter) into
// w while capturing stderr. Returns the filtered byte count written to w.
func streamCommand(ctx context.Context, log logger.Logger, argv []string, env []string, w io.Writer, filter func(io.Reader) io.Reader) (int64, string, error) {
	cmd := cleanup.SafeCommand(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return 0, "", fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return 0, "", fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	var src io.Reader = pipe
	if filter != nil {
		src = filter(pipe)
	}

	copyDone := make(chan struct {
		n   int64
		err error
	}, 1)
	go func() {
		n, err := fs.CopyWithContext(ctx, w, src)
		copyDone <- struct {
			n   int64
			err error
		}{n, err}
	}()

	// cmd.Wait closes the stdout pipe, so it must not run until the copy
	// goroutine has finished reading from it.
	var copied struct {
		n   int64
		err error
	}
	select {
	case copied = <-copyDone:
	case <-ctx.Done():
		log.Warn("Dump cancelled - killing process group", "tool", argv[0])
		cleanup.KillCommandGroup(cmd)
		// The copy goroutine may still hold w; wait for it so the caller
		// can close its writer without racing a late Write.
		<-copyDone
		_ = cmd.Wait()
		return 0, stderr.String(), ctx.Err()
	}

	cmdErr := cmd.Wait()
	if copied.err != nil {
		return copied.n, stderr.String(), copied.err
	}
	if cmdErr != nil {
		return copied.n, strings.TrimSpace(stderr.String()), cmdErr
	}

	return copied.n, strings.TrimSpace(stderr.String()), nil
}

func toolVersion(ctx context.Context, tool string) (string, error) {
	out, err := exec.CommandContext(ctx, tool, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to query %s version: %w", tool, err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}
