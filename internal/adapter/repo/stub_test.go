package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type call struct {
	query string
	args  []any
}

// stubExecutor answers statements by query constant and records every call.
type stubExecutor struct {
	rows  map[string][]pgx.Row
	tags  map[string]pgconn.CommandTag
	lists map[string]pgx.Rows
	calls []call
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{
		rows:  make(map[string][]pgx.Row),
		tags:  make(map[string]pgconn.CommandTag),
		lists: make(map[string]pgx.Rows),
	}
}

func (s *stubExecutor) onRow(query string, row pgx.Row) {
	s.rows[query] = append(s.rows[query], row)
}

func (s *stubExecutor) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.calls = append(s.calls, call{query: query, args: args})
	tag, ok := s.tags[query]
	if !ok {
		return pgconn.CommandTag{}, fmt.Errorf("unexpected exec: %s", firstLine(query))
	}
	return tag, nil
}

func (s *stubExecutor) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	s.calls = append(s.calls, call{query: query, args: args})
	queue := s.rows[query]
	if len(queue) == 0 {
		return simpleRow{}
	}
	s.rows[query] = queue[1:]
	return queue[0]
}

func (s *stubExecutor) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	s.calls = append(s.calls, call{query: query, args: args})
	rows, ok := s.lists[query]
	if !ok {
		return nil, fmt.Errorf("unexpected query: %s", firstLine(query))
	}
	return rows, nil
}

func (s *stubExecutor) called(query string) int {
	n := 0
	for _, c := range s.calls {
		if c.query == query {
			n++
		}
	}
	return n
}

func firstLine(q string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(q), "\n")
	return line
}

type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

func valuesRow(values ...any) simpleRow {
	return simpleRow{scan: func(dest ...any) error { return assign(dest, values) }}
}

func assign(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, v := range values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *int64:
			*d = v.(int64)
		case *[]byte:
			if v == nil {
				*d = nil
			} else {
				*d = v.([]byte)
			}
		case *time.Time:
			*d = v.(time.Time)
		case **time.Time:
			if v == nil {
				*d = nil
			} else {
				t := v.(time.Time)
				*d = &t
			}
		default:
			return fmt.Errorf("scan: unsupported destination %T", dest[i])
		}
	}
	return nil
}

// sliceRows is a pgx.Rows over in-memory value tuples.
type sliceRows struct {
	data [][]any
	idx  int
}

func newSliceRows(data ...[]any) *sliceRows {
	return &sliceRows{data: data, idx: -1}
}

func (r *sliceRows) Close()                                       {}
func (r *sliceRows) Err() error                                   { return nil }
func (r *sliceRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *sliceRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *sliceRows) Conn() *pgx.Conn                              { return nil }
func (r *sliceRows) RawValues() [][]byte                          { return nil }

func (r *sliceRows) Next() bool {
	r.idx++
	return r.idx < len(r.data)
}

func (r *sliceRows) Scan(dest ...any) error {
	return assign(dest, r.data[r.idx])
}

func (r *sliceRows) Values() ([]any, error) {
	return r.data[r.idx], nil
}
