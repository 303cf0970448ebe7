package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"icarus/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and ensures the schema exists. AutoMigrate is
// idempotent, so it is safe to run on every startup.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &ProjectModel{}, &SegmentModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// CreateUser inserts a new user. A duplicate username surfaces as
// ErrDuplicateUsername via the unique index.
func (s *GormStore) CreateUser(u domain.User) error {
	model := userToModel(u)
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateUsername
		}
		return err
	}
	return nil
}

// HasUsername checks if a username exists.
func (s *GormStore) HasUsername(username string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateProjectWithSegments commits the project row and every segment in one
// transaction. Segment positions are taken from the slice order.
func (s *GormStore) CreateProjectWithSegments(p domain.Project, segments []domain.Segment) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		projectModel, err := projectToModel(p)
		if err != nil {
			return err
		}
		if err := tx.Create(&projectModel).Error; err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		for i, seg := range segments {
			model := segmentToModel(seg)
			model.ProjectID = p.ID
			model.Position = i
			if err := tx.Create(&model).Error; err != nil {
				return fmt.Errorf("create segment %d: %w", i, err)
			}
		}
		return nil
	})
}

// ListProjectsByOwner returns projects owned by ownerID in creation order.
func (s *GormStore) ListProjectsByOwner(ownerID string) ([]domain.Project, error) {
	var models []ProjectModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Project, 0, len(models))
	for _, m := range models {
		res = append(res, projectFromModel(m))
	}
	return res, nil
}

// GetProject retrieves a project.
func (s *GormStore) GetProject(id string) (domain.Project, bool, error) {
	var model ProjectModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	return projectFromModel(model), true, nil
}

// DeleteProject removes a project; segments go with it via the cascade
// constraint. The explicit segment delete keeps behavior identical on
// databases migrated before the constraint existed.
func (s *GormStore) DeleteProject(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&SegmentModel{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ProjectModel{}, "id = ?", id).Error
	})
}

// ListSegmentsByProject returns segments in insertion order.
func (s *GormStore) ListSegmentsByProject(projectID string) ([]domain.Segment, error) {
	var models []SegmentModel
	if err := s.db.Where("project_id = ?", projectID).Order("position ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Segment, 0, len(models))
	for _, m := range models {
		res = append(res, segmentFromModel(m))
	}
	return res, nil
}

// GetSegment retrieves a segment by ID.
func (s *GormStore) GetSegment(id string) (domain.Segment, bool, error) {
	var model SegmentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Segment{}, false, nil
		}
		return domain.Segment{}, false, err
	}
	return segmentFromModel(model), true, nil
}

// UpdateSegmentTranslation sets the translation text of one segment.
func (s *GormStore) UpdateSegmentTranslation(id, text string) error {
	return s.db.Model(&SegmentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"translation_text": text,
			"updated_at":       time.Now().UTC(),
		}).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

func projectToModel(p domain.Project) (ProjectModel, error) {
	meta, err := json.Marshal(p.Meta)
	if err != nil {
		return ProjectModel{}, fmt.Errorf("encode project meta: %w", err)
	}
	return ProjectModel{
		ID:        p.ID,
		Name:      p.Name,
		OwnerID:   p.OwnerID,
		Meta:      meta,
		CreatedAt: p.CreatedAt,
	}, nil
}

func projectFromModel(m ProjectModel) domain.Project {
	p := domain.Project{
		ID:        m.ID,
		Name:      m.Name,
		OwnerID:   m.OwnerID,
		CreatedAt: m.CreatedAt,
	}
	if len(m.Meta) > 0 {
		// meta is informational; a decode failure should not hide the project
		_ = json.Unmarshal(m.Meta, &p.Meta)
	}
	return p
}

func segmentToModel(seg domain.Segment) SegmentModel {
	return SegmentModel{
		ID:              seg.ID,
		ProjectID:       seg.ProjectID,
		Position:        seg.Position,
		SourceText:      seg.Source,
		TranslationText: seg.Translation,
	}
}

func segmentFromModel(m SegmentModel) domain.Segment {
	return domain.Segment{
		ID:          m.ID,
		ProjectID:   m.ProjectID,
		Position:    m.Position,
		Source:      m.SourceText,
		Translation: m.TranslationText,
	}
}
