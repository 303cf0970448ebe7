package domain

import "time"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ProjectMeta records where a project's segments came from.
type ProjectMeta struct {
	OriginalFilename string `json:"originalFilename,omitempty"`
	Format           string `json:"format,omitempty"`
	SegmentCount     int    `json:"segmentCount,omitempty"`
}

type Project struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	OwnerID   string      `json:"owner"`
	Meta      ProjectMeta `json:"meta,omitzero"`
	CreatedAt time.Time   `json:"createdAt"`
}

type Segment struct {
	ID          string `json:"id"`
	ProjectID   string `json:"-"`
	Position    int    `json:"-"`
	Source      string `json:"source"`
	Translation string `json:"translation"`
}
