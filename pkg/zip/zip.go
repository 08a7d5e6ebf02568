// Package zip bundles job artifacts into a single download.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"
)

// File is one archive entry.
type File struct {
	Name string
	Data []byte
}

// Archive streams files into a zip written to w. Entry names are reduced to
// their base name and repeated names get a numeric suffix.
func Archive(w io.Writer, files []File) error {
	zw := zip.NewWriter(w)
	used := make(map[string]int, len(files))
	for _, f := range files {
		name := entryName(f.Name, used)
		entry, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := entry.Write(f.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	return zw.Close()
}

func entryName(raw string, used map[string]int) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = "artifact"
	}
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}
