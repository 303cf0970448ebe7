package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"icarus/internal/queue"
	"icarus/internal/store"
	"icarus/pkg/domain"
)

// IngestUpload spools an uploaded file to disk and runs the ingestion
// pipeline. The spooled file is removed on success and failure alike.
func (a *App) IngestUpload(owner domain.User, projectName, filename string, r io.Reader) (domain.Project, error) {
	path, err := a.spool.SaveTemp(r)
	if err != nil {
		return domain.Project{}, fmt.Errorf("spool upload: %w", err)
	}
	defer func() {
		if err := a.spool.Remove(path); err != nil {
			slog.Warn("temp upload cleanup failed", "path", path, "err", err)
		}
	}()
	return a.Ingest(owner, projectName, path, filename)
}

// Ingest turns a source file into a project with ordered segments. The
// project row and every segment commit in one store transaction; a parse or
// insert failure leaves nothing behind.
func (a *App) Ingest(owner domain.User, projectName, path, originalFilename string) (domain.Project, error) {
	projectName = strings.TrimSpace(projectName)
	if projectName == "" {
		return domain.Project{}, ErrProjectNameRequired
	}
	ext := strings.ToLower(filepath.Ext(originalFilename))
	if ext != ".json" && ext != ".txt" {
		return domain.Project{}, fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Project{}, fmt.Errorf("read upload: %w", err)
	}
	segments, format, err := parseSegments(ext, data)
	if err != nil {
		return domain.Project{}, fmt.Errorf("parse %s upload: %w", format, err)
	}

	project := domain.Project{
		ID:      store.NewID(),
		Name:    projectName,
		OwnerID: owner.ID,
		Meta: domain.ProjectMeta{
			OriginalFilename: filepath.Base(originalFilename),
			Format:           format,
			SegmentCount:     len(segments),
		},
		CreatedAt: time.Now().UTC(),
	}
	for i := range segments {
		segments[i].ID = store.NewID()
		segments[i].ProjectID = project.ID
		segments[i].Position = i
	}
	if err := a.store.CreateProjectWithSegments(project, segments); err != nil {
		return domain.Project{}, fmt.Errorf("persist project: %w", err)
	}

	// post-commit side channels; failures are logged, never surfaced
	a.publishEvent(queue.Event{
		Type:      queue.EventProjectCreated,
		ProjectID: project.ID,
		OwnerID:   project.OwnerID,
	})
	a.archiveUpload(project, data)
	return project, nil
}

func (a *App) archiveUpload(project domain.Project, data []byte) {
	if a.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	key := archiveKey(project.ID, project.Meta.OriginalFilename)
	contentType := "text/plain; charset=utf-8"
	if project.Meta.Format == "json" {
		contentType = "application/json"
	}
	if err := a.archive.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		slog.Warn("upload archive failed", "project_id", project.ID, "key", key, "err", err)
	}
}

func parseSegments(ext string, data []byte) ([]domain.Segment, string, error) {
	switch ext {
	case ".json":
		segments, err := parseJSONCatalog(data)
		return segments, "json", err
	case ".txt":
		return parseLines(data), "txt", nil
	default:
		return nil, strings.TrimPrefix(ext, "."), fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}
}

// parseJSONCatalog reads a flat JSON object where each key is a source text
// and its value the translation. The token stream keeps document order,
// which a map decode would not.
func parseJSONCatalog(data []byte) ([]domain.Segment, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected a flat JSON object, got %v", tok)
	}

	var segments []domain.Segment
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", keyTok)
		}
		valTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		translation, err := translationValue(valTok)
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", key, err)
		}
		segments = append(segments, domain.Segment{
			Source:      key,
			Translation: translation,
		})
	}
	if _, err := dec.Token(); err != nil { // closing brace
		return nil, err
	}
	return segments, nil
}

// translationValue stringifies a scalar JSON value; falsy values become the
// empty translation and nested structures are rejected.
func translationValue(tok json.Token) (string, error) {
	switch v := tok.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	case bool:
		if !v {
			return "", nil
		}
		return "true", nil
	case json.Number:
		if n, err := v.Float64(); err == nil && n == 0 {
			return "", nil
		}
		return v.String(), nil
	case json.Delim:
		return "", fmt.Errorf("nested values are not supported")
	default:
		return "", fmt.Errorf("unsupported value type %T", tok)
	}
}

// parseLines splits line-delimited text into segments with empty
// translations. Both \n and \r\n are handled; blank lines are dropped.
func parseLines(data []byte) []domain.Segment {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	var segments []domain.Segment
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		segments = append(segments, domain.Segment{Source: line})
	}
	return segments
}
