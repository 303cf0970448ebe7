package store

import (
	"sync"

	"icarus/pkg/domain"
)

// MemoryStore keeps all state in-process. It backs the test suite and mirrors
// the transactional guarantees of the Postgres store.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User // key: user ID
	usernames map[string]string      // username -> user ID
	projects  map[string]domain.Project
	projOrder []string
	segments  map[string]domain.Segment
	segOrder  map[string][]string // project ID -> segment IDs in insertion order
	sess      map[string]string   // token -> user ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		usernames: make(map[string]string),
		projects:  make(map[string]domain.Project),
		segments:  make(map[string]domain.Segment),
		segOrder:  make(map[string][]string),
		sess:      make(map[string]string),
	}
}

// CreateUser registers a user, rejecting duplicate usernames.
func (m *MemoryStore) CreateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.usernames[u.Username]; taken {
		return ErrDuplicateUsername
	}
	m.users[u.ID] = u
	m.usernames[u.Username] = u.ID
	return nil
}

// HasUsername checks if a username exists.
func (m *MemoryStore) HasUsername(username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.usernames[username]
	return ok, nil
}

// GetUserByUsername looks up a user by username.
func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.usernames[username]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// CreateProjectWithSegments stores the project and all segments under one
// lock, so the write is all-or-nothing like the Postgres transaction.
func (m *MemoryStore) CreateProjectWithSegments(p domain.Project, segments []domain.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
	m.projOrder = append(m.projOrder, p.ID)
	ids := make([]string, 0, len(segments))
	for i, seg := range segments {
		seg.ProjectID = p.ID
		seg.Position = i
		m.segments[seg.ID] = seg
		ids = append(ids, seg.ID)
	}
	m.segOrder[p.ID] = ids
	return nil
}

// ListProjectsByOwner returns projects owned by ownerID in creation order.
func (m *MemoryStore) ListProjectsByOwner(ownerID string) ([]domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Project, 0, len(m.projOrder))
	for _, id := range m.projOrder {
		if p, ok := m.projects[id]; ok && p.OwnerID == ownerID {
			res = append(res, p)
		}
	}
	return res, nil
}

// GetProject retrieves a project by ID.
func (m *MemoryStore) GetProject(id string) (domain.Project, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	return p, ok, nil
}

// DeleteProject removes a project and cascades to its segments.
func (m *MemoryStore) DeleteProject(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	for _, segID := range m.segOrder[id] {
		delete(m.segments, segID)
	}
	delete(m.segOrder, id)
	filtered := m.projOrder[:0]
	for _, item := range m.projOrder {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.projOrder = filtered
	return nil
}

// ListSegmentsByProject returns segments in insertion order.
func (m *MemoryStore) ListSegmentsByProject(projectID string) ([]domain.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.segOrder[projectID]
	res := make([]domain.Segment, 0, len(ids))
	for _, id := range ids {
		if seg, ok := m.segments[id]; ok {
			res = append(res, seg)
		}
	}
	return res, nil
}

// GetSegment retrieves a segment by ID.
func (m *MemoryStore) GetSegment(id string) (domain.Segment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seg, ok := m.segments[id]
	return seg, ok, nil
}

// UpdateSegmentTranslation sets the translation text of one segment.
func (m *MemoryStore) UpdateSegmentTranslation(id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg, ok := m.segments[id]
	if !ok {
		return nil
	}
	seg.Translation = text
	m.segments[id] = seg
	return nil
}

// NewSession creates a session token bound to a user.
func (m *MemoryStore) NewSession(userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := NewID()
	m.sess[token] = userID
	return token, nil
}

// GetUserIDByToken resolves a session token.
func (m *MemoryStore) GetUserIDByToken(token string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uid, ok := m.sess[token]
	return uid, ok, nil
}

// DeleteSession removes a session token.
func (m *MemoryStore) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sess, token)
	return nil
}
