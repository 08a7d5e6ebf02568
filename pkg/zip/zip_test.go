package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestArchiveDeduplicatesNames(t *testing.T) {
	var buf bytes.Buffer
	err := Archive(&buf, []File{
		{Name: "compose-1.png", Data: []byte("a")},
		{Name: "nested/compose-1.png", Data: []byte("b")},
		{Name: "", Data: []byte("c")},
	})
	if err != nil {
		t.Fatalf("Archive() error: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	want := map[string]string{"compose-1.png": "a", "compose-1-2.png": "b", "artifact": "c"}
	if len(zr.File) != len(want) {
		t.Fatalf("entries = %d, want %d", len(zr.File), len(want))
	}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		if want[f.Name] != string(data) {
			t.Fatalf("entry %s = %q, want %q", f.Name, data, want[f.Name])
		}
	}
}
