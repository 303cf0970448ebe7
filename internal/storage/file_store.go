package storage

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// FileStore spools uploaded files to disk so the ingestion pipeline can read
// them from a stable path. Spooled files are transient; callers must Remove
// them on every exit path.
type FileStore struct {
	basePath string
}

// NewFileStore creates the spool directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("upload spool path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// SaveTemp writes the reader to a fresh temp file and returns its path.
func (f *FileStore) SaveTemp(r io.Reader) (string, error) {
	out, err := os.CreateTemp(f.basePath, "upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return out.Name(), nil
}

// Remove deletes a spooled file. A missing file is not an error.
func (f *FileStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
