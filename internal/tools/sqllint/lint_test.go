package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLintSourceFlagsBadMarkers(t *testing.T) {
	src := "package q\n\n" +
		"const QGood = `--sql 9d9d8043-28bf-417a-a6ce-ce4be5e9a773\nselect 1;`\n" +
		"const QMissing = `select 2;`\n" +
		"const QDuplicate = `--sql 9d9d8043-28bf-417a-a6ce-ce4be5e9a773\nupdate jobs set state = 'failed';`\n" +
		"const badName = `--sql 7d4a10e0-69e4-4c07-bd5f-e1a245b171ef\ndelete from jobs;`\n" +
		"const label = \"not a query\"\n"

	l := newLinter()
	if err := l.lintSource("q.go", src); err != nil {
		t.Fatalf("lint: %v", err)
	}

	got := map[string]string{}
	for _, v := range l.violations {
		got[v.name] = v.message
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 violations, got %v", l.violations)
	}
	if !strings.Contains(got["QMissing"], "missing") {
		t.Fatalf("QMissing: %q", got["QMissing"])
	}
	if !strings.Contains(got["QDuplicate"], "QGood") {
		t.Fatalf("QDuplicate: %q", got["QDuplicate"])
	}
	if !strings.Contains(got["badName"], "Q<Name>") {
		t.Fatalf("badName: %q", got["badName"])
	}
}

func TestRepositoryQueriesAreMarked(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "sqlinline", "*.go"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 {
		t.Skip("no sqlinline sources found")
	}
	l := newLinter()
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			t.Fatalf("stat %s: %v", f, err)
		}
		if err := l.lintFile(f); err != nil {
			t.Fatalf("lint %s: %v", f, err)
		}
	}
	for _, v := range l.violations {
		t.Errorf("%s", v)
	}
}
