package export

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"tomo/api/internal/store"
)

func readEntries(t *testing.T, data []byte) map[string]string {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	entries := make(map[string]string)
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		entries[f.Name] = string(content)
	}
	return entries
}

func TestBuildZip(t *testing.T) {
	files := []store.File{
		{Path: "index.html", Content: "<h1>home</h1>"},
		{Path: "about.html", Content: "<h1>about</h1>"},
	}

	result, err := BuildZip(files, "my-site.zip")
	if err != nil {
		t.Fatalf("BuildZip failed: %v", err)
	}
	if result.Filename != "my-site.zip" {
		t.Errorf("filename = %q", result.Filename)
	}
	if result.MimeType != "application/zip" {
		t.Errorf("mime type = %q", result.MimeType)
	}

	entries := readEntries(t, result.Data)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries["index.html"] != "<h1>home</h1>" {
		t.Errorf("index.html = %q", entries["index.html"])
	}
	if entries["about.html"] != "<h1>about</h1>" {
		t.Errorf("about.html = %q", entries["about.html"])
	}
}

func TestBuildZipSkipsInvalidEntries(t *testing.T) {
	files := []store.File{
		{Path: "", Content: "orphan content"},
		{Path: "empty.html", Content: ""},
		{Path: "keep.html", Content: "<p>kept</p>"},
	}

	result, err := BuildZip(files, "out.zip")
	if err != nil {
		t.Fatalf("BuildZip failed: %v", err)
	}

	entries := readEntries(t, result.Data)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d: %v", len(entries), entries)
	}
	if entries["keep.html"] != "<p>kept</p>" {
		t.Errorf("keep.html = %q", entries["keep.html"])
	}
}

func TestBuildZipEmpty(t *testing.T) {
	result, err := BuildZip(nil, "empty.zip")
	if err != nil {
		t.Fatalf("BuildZip failed: %v", err)
	}
	if len(readEntries(t, result.Data)) != 0 {
		t.Error("expected empty archive")
	}
}

func TestArchiveName(t *testing.T) {
	tests := []struct {
		slug, name, id string
		want           string
	}{
		{"my-site", "My Site", "123-my-site", "my-site.zip"},
		{"", "My Site!", "123-my-site", "My_Site_.zip"},
		{"", "", "123-my-site", "123-my-site.zip"},
		{"", "", "", "project.zip"},
	}
	for _, tt := range tests {
		if got := ArchiveName(tt.slug, tt.name, tt.id); got != tt.want {
			t.Errorf("ArchiveName(%q, %q, %q) = %q, want %q", tt.slug, tt.name, tt.id, got, tt.want)
		}
	}
}
