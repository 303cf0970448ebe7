package storage

import (
	"os"
	"strings"
	"testing"
)

func TestFileStoreSaveAndRemove(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	path, err := fs.SaveTemp(strings.NewReader("line1\nline2\n"))
	if err != nil {
		t.Fatalf("save temp: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read temp: %v", err)
	}
	if string(data) != "line1\nline2\n" {
		t.Fatalf("temp content = %q", string(data))
	}
	if err := fs.Remove(path); err != nil {
		t.Fatalf("remove temp: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("temp file should be gone, stat err = %v", err)
	}
	// Removing twice is fine.
	if err := fs.Remove(path); err != nil {
		t.Fatalf("second remove should be a no-op, got %v", err)
	}
}

func TestFileStoreRequiresBasePath(t *testing.T) {
	if _, err := NewFileStore("  "); err == nil {
		t.Fatalf("expected error for empty base path")
	}
}
