package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"jobengine/internal/sqlinline"
)

func TestExtractMarker(t *testing.T) {
	marker, body, err := extractMarker(sqlinline.QSelectJob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if marker != "f19c7450-9a04-4d77-9c1f-1efb73007048" {
		t.Fatalf("unexpected marker %q", marker)
	}
	if body == "" || body[0] == '-' {
		t.Fatalf("marker line leaked into body: %q", body)
	}

	if _, _, err := extractMarker("select 1"); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("expected ErrMissingMarker, got %v", err)
	}
	if _, _, err := extractMarker("   "); err == nil {
		t.Fatalf("expected error for empty query")
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)) {
		t.Fatalf("wrapped ErrNoRows not detected")
	}
	if IsNoRows(errors.New("other")) {
		t.Fatalf("unexpected match")
	}
}

type recordingExecutor struct {
	queries []string
}

func (e *recordingExecutor) Exec(_ context.Context, query string, _ ...any) (pgconn.CommandTag, error) {
	e.queries = append(e.queries, query)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (e *recordingExecutor) QueryRow(_ context.Context, query string, _ ...any) pgx.Row {
	e.queries = append(e.queries, query)
	return errorRow{err: pgx.ErrNoRows}
}

func (e *recordingExecutor) Query(_ context.Context, query string, _ ...any) (pgx.Rows, error) {
	e.queries = append(e.queries, query)
	return nil, errors.New("not supported")
}

func TestSQLRunnerStripsMarkerAndFlagsSlowStatements(t *testing.T) {
	var buf bytes.Buffer
	exec := &recordingExecutor{}
	runner := &SQLRunner{
		Pool:      exec,
		Logger:    zerolog.New(&buf).Level(zerolog.DebugLevel),
		SlowQuery: time.Nanosecond,
	}

	tag, err := runner.Exec(context.Background(), sqlinline.QTransitionJob, "id", "queued", "running", nil, "")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if tag.RowsAffected() != 1 {
		t.Fatalf("rows affected = %d", tag.RowsAffected())
	}
	if len(exec.queries) != 1 || strings.Contains(exec.queries[0], "--sql") {
		t.Fatalf("marker should be stripped before execution: %q", exec.queries)
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) || !strings.Contains(buf.String(), `"slow":true`) {
		t.Fatalf("expected slow statement warning, got %s", buf.String())
	}

	var id string
	if err := runner.QueryRow(context.Background(), sqlinline.QSelectJob, "id").Scan(&id); !IsNoRows(err) {
		t.Fatalf("expected no rows, got %v", err)
	}
	if !strings.Contains(buf.String(), `"found":false`) {
		t.Fatalf("expected query_row log, got %s", buf.String())
	}
}

func TestSQLRunnerRejectsUnmarkedStatements(t *testing.T) {
	exec := &recordingExecutor{}
	runner := &SQLRunner{Pool: exec, Logger: zerolog.Nop()}

	if _, err := runner.Exec(context.Background(), "delete from jobs"); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("expected ErrMissingMarker, got %v", err)
	}
	if _, err := runner.Query(context.Background(), "select 1"); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("expected ErrMissingMarker, got %v", err)
	}
	if err := runner.QueryRow(context.Background(), "select 1").Scan(); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("expected ErrMissingMarker, got %v", err)
	}
	if len(exec.queries) != 0 {
		t.Fatalf("unmarked statements reached the pool: %v", exec.queries)
	}
}
