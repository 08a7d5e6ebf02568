package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"jobengine/internal/engine"
)

func TestSaveWritesUnderJobDirectory(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "https://cdn.test/static/")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	url, err := store.Save(context.Background(), "job-1", engine.Artifact{Name: "../../etc/out 1.png", Data: []byte("png")})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if url != "https://cdn.test/static/job-1/out%201.png" {
		t.Fatalf("url = %q", url)
	}
	got, err := os.ReadFile(filepath.Join(dir, "job-1", "out 1.png"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "png" {
		t.Fatalf("content = %q", got)
	}
}

func TestSanitizeKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "a/b.png", want: "a/b.png", ok: true},
		{in: "/a//b.png", want: "a/b.png", ok: true},
		{in: `a\b.png`, want: "a/b.png", ok: true},
		{in: "../x", ok: false},
		{in: "..", ok: false},
		{in: "  ", ok: false},
	}
	for _, tc := range cases {
		got, err := sanitizeKey(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("sanitizeKey(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("sanitizeKey(%q) = %q, want error", tc.in, got)
		}
	}
}

func TestWriteHonoursCancellation(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Write(ctx, "a.txt", []byte("x")); err == nil {
		t.Fatal("expected context error")
	}
}

func TestHandlerServesFilesNotDirectories(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(context.Background(), "job-2", engine.Artifact{Name: "a.txt", Data: []byte("hello")}); err != nil {
		t.Fatal(err)
	}
	h := http.StripPrefix("/static", store.Handler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/job-2/a.txt", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "hello") {
		t.Fatalf("file: status %d body %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/job-2/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("directory: status %d, want 404", rec.Code)
	}
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	if _, err := NewFileStore(" ", ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestReadReturnsSavedArtifact(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Save(ctx, "job-2", engine.Artifact{Name: "a.txt", Data: []byte("hello")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Read(ctx, "job-2/a.txt")
	if err != nil || string(got) != "hello" {
		t.Fatalf("Read() = %q, %v", got, err)
	}
	if _, err := store.Read(ctx, "../outside"); err == nil {
		t.Fatalf("Read() escaped the storage root")
	}
	if _, err := store.Read(ctx, "job-2/missing.txt"); err == nil {
		t.Fatalf("Read() of a missing key should fail")
	}
}
