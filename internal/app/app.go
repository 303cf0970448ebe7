package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"icarus/internal/queue"
	"icarus/internal/storage"
	"icarus/internal/store"
	"icarus/pkg/auth"
	"icarus/pkg/domain"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	SessionTTL    time.Duration
	SessionSecret string // non-empty selects the stateless JWT session strategy
	UploadDir     string
	Store         store.Store
	Sessions      store.SessionStore
	Events        *queue.Publisher
	Archive       storage.ObjectStore
}

// App wires storage, sessions, and the ingestion pipeline behind the HTTP
// layer. All ownership checks live here.
type App struct {
	store    store.Store
	sessions store.SessionStore
	spool    *storage.FileStore
	events   *queue.Publisher
	archive  storage.ObjectStore
}

// New constructs the application with database storage and session management.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(os.TempDir(), "icarus-uploads")
	}

	spool, err := storage.NewFileStore(cfg.UploadDir)
	if err != nil {
		return nil, err
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		switch {
		case cfg.SessionSecret != "":
			sessionStore, err = store.NewJWTSessionStore(cfg.SessionSecret, cfg.SessionTTL)
			if err != nil {
				return nil, fmt.Errorf("init jwt sessions: %w", err)
			}
		case cfg.RedisAddr != "":
			sessionStore = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
		default:
			return nil, fmt.Errorf("session store required (sessionSecret or redisAddr)")
		}
	}

	return &App{
		store:    dataStore,
		sessions: sessionStore,
		spool:    spool,
		events:   cfg.Events,
		archive:  cfg.Archive,
	}, nil
}

// Register creates a user and issues a session token.
func (a *App) Register(username, password string) (domain.User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.User{}, "", ErrCredentialsRequired
	}
	taken, err := a.store.HasUsername(username)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check username: %w", err)
	}
	if taken {
		return domain.User{}, "", ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           store.NewID(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.CreateUser(user); err != nil {
		// the unique index backstops the pre-check under concurrent registration
		if errors.Is(err, store.ErrDuplicateUsername) {
			return domain.User{}, "", ErrUsernameTaken
		}
		return domain.User{}, "", fmt.Errorf("create user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(username, password string) (domain.User, string, error) {
	username = strings.TrimSpace(username)
	user, ok, err := a.store.GetUserByUsername(username)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Logout removes a session token unconditionally.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// UserFromToken resolves a user from a session token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

// ListProjects returns the user's own projects in creation order.
func (a *App) ListProjects(user domain.User) ([]domain.Project, error) {
	return a.store.ListProjectsByOwner(user.ID)
}

// ListSegments returns a project's segments in insertion order, only to its
// owner.
func (a *App) ListSegments(user domain.User, projectID string) ([]domain.Segment, error) {
	if _, err := a.projectOwned(user, projectID); err != nil {
		return nil, err
	}
	return a.store.ListSegmentsByProject(projectID)
}

// SaveTranslation updates one segment's translation text. Ownership is
// re-derived segment -> project -> owner before the write; the segment id
// alone is never trusted.
func (a *App) SaveTranslation(user domain.User, segmentID, text string) error {
	seg, ok, err := a.store.GetSegment(segmentID)
	if err != nil {
		return fmt.Errorf("fetch segment: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if _, err := a.projectOwned(user, seg.ProjectID); err != nil {
		return err
	}
	return a.store.UpdateSegmentTranslation(segmentID, text)
}

// DeleteProject removes an owned project; segments go with it via cascade.
func (a *App) DeleteProject(user domain.User, projectID string) error {
	project, err := a.projectOwned(user, projectID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteProject(projectID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	a.publishEvent(queue.Event{
		Type:      queue.EventProjectDeleted,
		ProjectID: project.ID,
		OwnerID:   project.OwnerID,
	})
	a.deleteArchive(project)
	return nil
}

// projectOwned is the single ownership gate: it loads the project and
// verifies the caller owns it. Missing projects are reported as forbidden so
// ids cannot be probed.
func (a *App) projectOwned(user domain.User, projectID string) (domain.Project, error) {
	project, ok, err := a.store.GetProject(projectID)
	if err != nil {
		return domain.Project{}, fmt.Errorf("fetch project: %w", err)
	}
	if !ok || project.OwnerID != user.ID {
		return domain.Project{}, ErrForbidden
	}
	return project, nil
}

func (a *App) publishEvent(ev queue.Event) {
	if a.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.events.Publish(ctx, ev); err != nil {
		slog.Warn("event publish failed", "type", ev.Type, "project_id", ev.ProjectID, "err", err)
	}
}

func (a *App) deleteArchive(project domain.Project) {
	if a.archive == nil || project.Meta.OriginalFilename == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	key := archiveKey(project.ID, project.Meta.OriginalFilename)
	if err := a.archive.Delete(ctx, key); err != nil {
		slog.Warn("archive delete failed", "project_id", project.ID, "key", key, "err", err)
	}
}

func archiveKey(projectID, filename string) string {
	return "projects/" + projectID + "/" + filepath.Base(filename)
}
