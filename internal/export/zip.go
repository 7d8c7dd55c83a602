// Package export packages project files into downloadable archives.
package export

import (
	"archive/zip"
	"bytes"
	"fmt"

	"tomo/api/internal/store"
	"tomo/api/internal/util"
)

// Result is a finished archive ready to be written to a response.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ArchiveName picks the download filename from the first non-empty of
// slug, name and id, sanitized for filesystem use.
func ArchiveName(slug, name, id string) string {
	base := slug
	if base == "" {
		base = name
	}
	if base == "" {
		base = id
	}
	if base == "" {
		base = "project"
	}
	return util.SanitizeFilename(base) + ".zip"
}

// BuildZip packages project files into a zip archive. Entries with an
// empty path or empty content are skipped rather than failing the
// whole export.
func BuildZip(files []store.File, filename string) (Result, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	for _, f := range files {
		if f.Path == "" || f.Content == "" {
			continue
		}
		entry, err := w.Create(f.Path)
		if err != nil {
			return Result{}, fmt.Errorf("create zip entry %s: %w", f.Path, err)
		}
		if _, err := entry.Write([]byte(f.Content)); err != nil {
			return Result{}, fmt.Errorf("write zip entry %s: %w", f.Path, err)
		}
	}

	if err := w.Close(); err != nil {
		return Result{}, fmt.Errorf("finalize zip: %w", err)
	}

	return Result{
		Data:     buf.Bytes(),
		Filename: filename,
		MimeType: "application/zip",
	}, nil
}
