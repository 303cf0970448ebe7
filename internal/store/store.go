package store

import (
	"errors"

	"icarus/pkg/domain"
)

// ErrDuplicateUsername is returned by CreateUser when the username is taken.
var ErrDuplicateUsername = errors.New("username already exists")

// Store defines persistence operations for users, projects, and segments.
type Store interface {
	// users
	CreateUser(domain.User) error
	HasUsername(username string) (bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// projects
	// CreateProjectWithSegments commits the project and all its segments
	// atomically; on error nothing is persisted.
	CreateProjectWithSegments(p domain.Project, segments []domain.Segment) error
	ListProjectsByOwner(ownerID string) ([]domain.Project, error)
	GetProject(id string) (domain.Project, bool, error)
	DeleteProject(id string) error

	// segments
	ListSegmentsByProject(projectID string) ([]domain.Segment, error)
	GetSegment(id string) (domain.Segment, bool, error)
	UpdateSegmentTranslation(id, text string) error
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
