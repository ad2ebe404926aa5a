package dump

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"tunneldump/internal/database"
	"tunneldump/internal/logger"
	"tunneldump/internal/sanitize"
)

var testParams = database.ConnParams{
	Host: "127.0.0.1",
	Port: 5432,
	User: "app",
}

func TestPostgresArgsExcludeTableData(t *testing.T) {
	d := &postgresDumper{
		params: testParams,
		job: Job{
			Database:         "appdb",
			ExcludeTableData: []string{"sessions", "logs"},
		},
		log: logger.NewSilent(),
	}

	args := strings.Join(d.args(), " ")
	if !strings.Contains(args, "--exclude-table-data=sessions") {
		t.Errorf("missing sessions exclusion: %s", args)
	}
	if !strings.Contains(args, "--exclude-table-data=logs") {
		t.Errorf("missing logs exclusion: %s", args)
	}
	if !strings.HasSuffix(args, "appdb") {
		t.Errorf("database must be the final argument: %s", args)
	}
	if !strings.Contains(args, "--no-password") {
		t.Errorf("missing --no-password: %s", args)
	}
}

func TestMySQLSchemaPassCoversAllTables(t *testing.T) {
	d := &mysqlDumper{
		params: database.ConnParams{Host: "127.0.0.1", Port: 3306, User: "root"},
		job: Job{
			Database:         "appdb",
			ExcludeTableData: []string{"sessions", "logs"},
		},
		log: logger.NewSilent(),
	}

	schema := strings.Join(d.schemaArgs(), " ")
	// The schema pass must never honor exclusions
	if strings.Contains(schema, "ignore-table") {
		t.Errorf("schema pass must not exclude tables: %s", schema)
	}
	for _, flag := range []string{"--no-data", "--routines", "--triggers", "--events"} {
		if !strings.Contains(schema, flag) {
			t.Errorf("schema pass missing %s: %s", flag, schema)
		}
	}
}

func TestMySQLDataPassHonorsExclusions(t *testing.T) {
	d := &mysqlDumper{
		params: database.ConnParams{Host: "127.0.0.1", Port: 3306, User: "root"},
		job: Job{
			Database:         "appdb",
			ExcludeTableData: []string{"sessions", "logs"},
		},
		log: logger.NewSilent(),
	}

	data := strings.Join(d.dataArgs(), " ")
	if !strings.Contains(data, "--no-create-info") {
		t.Errorf("data pass missing --no-create-info: %s", data)
	}
	if !strings.Contains(data, "--ignore-table=appdb.sessions") {
		t.Errorf("data pass missing sessions exclusion: %s", data)
	}
	if !strings.Contains(data, "--ignore-table=appdb.logs") {
		t.Errorf("data pass missing logs exclusion: %s", data)
	}
}

func TestStreamCommandCapturesOutput(t *testing.T) {
	var out bytes.Buffer
	n, _, err := streamCommand(context.Background(), logger.NewSilent(),
		[]string{"sh", "-c", "printf 'CREATE TABLE t (id int);\n'"}, nil, &out, nil)
	if err != nil {
		t.Fatalf("streamCommand failed: %v", err)
	}
	if n == 0 || !strings.Contains(out.String(), "CREATE TABLE") {
		t.Errorf("output = %q, n = %d", out.String(), n)
	}
}

func TestStreamCommandNonzeroExit(t *testing.T) {
	var out bytes.Buffer
	_, stderr, err := streamCommand(context.Background(), logger.NewSilent(),
		[]string{"sh", "-c", "echo 'access denied' >&2; exit 1"}, nil, &out, nil)
	if err == nil {
		t.Fatal("expected error for nonzero exit")
	}
	if !strings.Contains(stderr, "access denied") {
		t.Errorf("stderr not captured: %q", stderr)
	}
}

func TestStreamCommandAppliesFilter(t *testing.T) {
	var out bytes.Buffer
	_, _, err := streamCommand(context.Background(), logger.NewSilent(),
		[]string{"sh", "-c", "printf 'CREATE DEFINER=`root`@`localhost` VIEW v AS SELECT 1;\n'"},
		nil, &out,
		func(r io.Reader) io.Reader {
			return sanitize.NewDefinerFilter(r, sanitize.DefinerStrip)
		})
	if err != nil {
		t.Fatalf("streamCommand failed: %v", err)
	}
	if strings.Contains(out.String(), "DEFINER=") {
		t.Errorf("filter not applied: %q", out.String())
	}
}

func TestStreamCommandCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, _, err := streamCommand(ctx, logger.NewSilent(),
			[]string{"sleep", "30"}, nil, &out, nil)
		done <- err
	}()

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// sealableWriter flags writes arriving after the caller sealed it
type sealableWriter struct {
	mu     sync.Mutex
	sealed bool
	late   bool
}

func (w *sealableWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sealed {
		w.late = true
	}
	return len(p), nil
}

func (w *sealableWriter) seal() {
	w.mu.Lock()
	w.sealed = true
	w.mu.Unlock()
}

func TestStreamCommandCancellationStopsWrites(t *testing.T) {
	// After a cancelled streamCommand returns, the writer must see no
	// further writes; the caller closes its compressor right after.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &sealableWriter{}
	done := make(chan error, 1)
	go func() {
		_, _, err := streamCommand(ctx, logger.NewSilent(),
			[]string{"sh", "-c", "while true; do echo data; done"}, nil, w, nil)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	w.seal()
	time.Sleep(100 * time.Millisecond)

	w.mu.Lock()
	late := w.late
	w.mu.Unlock()
	if late {
		t.Error("writer received a write after streamCommand returned")
	}
}

func TestNewDumperSelectsEngine(t *testing.T) {
	log := logger.NewSilent()

	d, err := NewDumper(database.EnginePostgres, testParams, Job{Database: "x"}, sanitize.DefinerStrip, log)
	if err != nil || d.Tool() != "pg_dump" {
		t.Errorf("postgres dumper = %v, %v", d, err)
	}

	d, err = NewDumper(database.EngineMySQL, testParams, Job{Database: "x"}, sanitize.DefinerStrip, log)
	if err != nil || d.Tool() != "mysqldump" {
		t.Errorf("mysql dumper = %v, %v", d, err)
	}

	if _, err := NewDumper(database.Engine("oracle"), testParams, Job{}, sanitize.DefinerStrip, log); err == nil {
		t.Error("unsupported engine should fail")
	}
}
