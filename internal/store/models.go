package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. Table names are pinned so the schema
// stays compatible with existing deployments.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Username     string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`

	Projects []ProjectModel `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE"`
}

func (UserModel) TableName() string { return "users" }

type ProjectModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	OwnerID   string `gorm:"not null;index"`
	Meta      datatypes.JSON
	CreatedAt time.Time `gorm:"not null"`

	Segments []SegmentModel `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

func (ProjectModel) TableName() string { return "projects" }

type SegmentModel struct {
	ID              string `gorm:"primaryKey"`
	ProjectID       string `gorm:"not null;index"`
	Position        int    `gorm:"not null"`
	SourceText      string `gorm:"not null"`
	TranslationText string
	UpdatedAt       time.Time
}

func (SegmentModel) TableName() string { return "segments" }
