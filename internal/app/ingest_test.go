package app

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"icarus/internal/queue"
	"icarus/internal/store"
	"icarus/pkg/domain"
)

func ingestFixture(t *testing.T, a *App, owner domain.User, name, filename, content string) domain.Project {
	t.Helper()
	project, err := a.IngestUpload(owner, name, filename, strings.NewReader(content))
	if err != nil {
		t.Fatalf("ingest %s: %v", filename, err)
	}
	return project
}

func TestIngestJSONPreservesOrderAndFalsyValues(t *testing.T) {
	a, _ := newTestApp(t)
	owner, _, err := a.Register("ayse", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ingestFixture(t, a, owner, "strings", "catalog.json", `{"a":"x","b":""}`)

	projects, err := a.ListProjects(owner)
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("len(projects) = %d, want 1", len(projects))
	}
	segments, err := a.ListSegments(owner, projects[0].ID)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("len(segments) = %d, want 2", len(segments))
	}
	if segments[0].Source != "a" || segments[0].Translation != "x" {
		t.Fatalf("segment 0 = (%q,%q), want (a,x)", segments[0].Source, segments[0].Translation)
	}
	if segments[1].Source != "b" || segments[1].Translation != "" {
		t.Fatalf("segment 1 = (%q,%q), want (b,)", segments[1].Source, segments[1].Translation)
	}
	if projects[0].Meta.SegmentCount != 2 || projects[0].Meta.Format != "json" {
		t.Fatalf("project meta = %+v", projects[0].Meta)
	}
}

func TestIngestTextSplitsLinesAndDropsBlanks(t *testing.T) {
	a, _ := newTestApp(t)
	owner, _, err := a.Register("ayse", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	project := ingestFixture(t, a, owner, "lines", "doc.txt", "line1\n\nline2\r\n")
	segments, err := a.ListSegments(owner, project.ID)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("len(segments) = %d, want 2", len(segments))
	}
	if segments[0].Source != "line1" || segments[1].Source != "line2" {
		t.Fatalf("sources = %q,%q, want line1,line2", segments[0].Source, segments[1].Source)
	}
	if segments[0].Translation != "" || segments[1].Translation != "" {
		t.Fatalf("text segments should start with empty translations")
	}
}

func TestIngestRejectsUnknownExtension(t *testing.T) {
	a, _ := newTestApp(t)
	owner, _, err := a.Register("ayse", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = a.IngestUpload(owner, "bad", "slides.pdf", strings.NewReader("%PDF"))
	if !errors.Is(err, ErrUnsupportedFileType) {
		t.Fatalf("unknown extension error = %v, want ErrUnsupportedFileType", err)
	}
	// validation failure must not leave an empty project behind
	projects, err := a.ListProjects(owner)
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 0 {
		t.Fatalf("no project should exist after a rejected upload, got %d", len(projects))
	}
}

func TestIngestRequiresProjectName(t *testing.T) {
	a, _ := newTestApp(t)
	owner, _, err := a.Register("ayse", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = a.IngestUpload(owner, "   ", "a.txt", strings.NewReader("x\n"))
	if !errors.Is(err, ErrProjectNameRequired) {
		t.Fatalf("blank name error = %v, want ErrProjectNameRequired", err)
	}
}

func TestIngestBadJSONLeavesNothingBehind(t *testing.T) {
	a, _ := newTestApp(t)
	owner, _, err := a.Register("ayse", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := a.IngestUpload(owner, "bad", "broken.json", strings.NewReader(`{"a":`)); err == nil {
		t.Fatalf("malformed JSON should fail ingestion")
	}
	if _, err := a.IngestUpload(owner, "nested", "nested.json", strings.NewReader(`{"a":{"b":"c"}}`)); err == nil {
		t.Fatalf("nested JSON should fail ingestion")
	}
	projects, err := a.ListProjects(owner)
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 0 {
		t.Fatalf("failed ingests must not leave projects, got %d", len(projects))
	}
}

// failingStore simulates a mid-transaction insert failure.
type failingStore struct {
	*store.MemoryStore
}

func (f *failingStore) CreateProjectWithSegments(domain.Project, []domain.Segment) error {
	return errors.New("insert failed")
}

func TestIngestInsertFailureIsAtomic(t *testing.T) {
	mem := store.NewMemoryStore()
	a, err := New(Config{
		Store:      &failingStore{MemoryStore: mem},
		Sessions:   mem,
		SessionTTL: time.Hour,
		UploadDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	owner, _, err := a.Register("ayse", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := a.IngestUpload(owner, "doomed", "a.txt", strings.NewReader("x\n")); err == nil {
		t.Fatalf("ingest should surface the insert failure")
	}
	projects, err := a.ListProjects(owner)
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 0 {
		t.Fatalf("failed insert must not leave a project, got %d", len(projects))
	}
}

func TestIngestRemovesTempFileOnBothPaths(t *testing.T) {
	dir := t.TempDir()
	mem := store.NewMemoryStore()
	a, err := New(Config{
		Store:      mem,
		Sessions:   mem,
		SessionTTL: time.Hour,
		UploadDir:  dir,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	owner, _, err := a.Register("ayse", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := a.IngestUpload(owner, "ok", "a.txt", strings.NewReader("x\n")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	assertEmptyDir(t, dir)

	if _, err := a.IngestUpload(owner, "bad", "broken.json", strings.NewReader(`{`)); err == nil {
		t.Fatalf("malformed JSON should fail ingestion")
	}
	assertEmptyDir(t, dir)
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("spool dir should be empty, found %d entries", len(entries))
	}
}

// fakeArchive records object store calls.
type fakeArchive struct {
	mu      sync.Mutex
	puts    []string
	deletes []string
}

func (f *fakeArchive) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	_, _ = io.ReadAll(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, key)
	return nil
}

func (f *fakeArchive) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, key)
	return nil
}

func TestIngestArchivesRawUpload(t *testing.T) {
	mem := store.NewMemoryStore()
	archive := &fakeArchive{}
	a, err := New(Config{
		Store:      mem,
		Sessions:   mem,
		SessionTTL: time.Hour,
		UploadDir:  t.TempDir(),
		Archive:    archive,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	owner, _, err := a.Register("ayse", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	project := ingestFixture(t, a, owner, "strings", "catalog.json", `{"a":"x"}`)
	wantKey := "projects/" + project.ID + "/catalog.json"
	if len(archive.puts) != 1 || archive.puts[0] != wantKey {
		t.Fatalf("archive puts = %v, want [%s]", archive.puts, wantKey)
	}

	if err := a.DeleteProject(owner, project.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if len(archive.deletes) != 1 || archive.deletes[0] != wantKey {
		t.Fatalf("archive deletes = %v, want [%s]", archive.deletes, wantKey)
	}
}

func TestIngestPublishesLifecycleEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	pub, err := queue.NewPublisher(queue.PublisherConfig{Addr: mr.Addr(), Stream: "icarus:events"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	mem := store.NewMemoryStore()
	a, err := New(Config{
		Store:      mem,
		Sessions:   mem,
		SessionTTL: time.Hour,
		UploadDir:  t.TempDir(),
		Events:     pub,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	owner, _, err := a.Register("ayse", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	project := ingestFixture(t, a, owner, "strings", "a.txt", "x\n")
	if err := a.DeleteProject(owner, project.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	msgs, err := client.XRange(context.Background(), "icarus:events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(msgs))
	}
	if msgs[0].Values["type"] != queue.EventProjectCreated || msgs[1].Values["type"] != queue.EventProjectDeleted {
		t.Fatalf("event types = %v, %v", msgs[0].Values["type"], msgs[1].Values["type"])
	}
}
