package view

import (
	"sync"
	"time"

	"P2PDesk/internal/models"
)

// Store holds the last-known server snapshot of one order plus the locally
// derived role. Writers from the push, poll, and action paths all land here;
// the latest full snapshot wins, there is no merging of fields from two
// server states.
type Store struct {
	now func() time.Time

	mu        sync.RWMutex
	order     *models.Order
	role      models.Role
	source    models.SnapshotSource
	updatedAt time.Time
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{now: now, role: models.RoleUnknown}
}

// Replace installs a complete snapshot and reports the previous status and
// whether it changed. Any server-reported status is accepted, including
// transitions the client-side table never initiates.
func (s *Store) Replace(o *models.Order, source models.SnapshotSource) (prev models.OrderStatus, changed bool) {
	if o == nil {
		return "", false
	}
	cp := *o
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order != nil {
		prev = s.order.Status
	}
	s.order = &cp
	s.source = source
	s.updatedAt = s.now().UTC()
	return prev, prev != cp.Status
}

// Snapshot returns a copy of the current order, or nil before the seed
// fetch lands.
func (s *Store) Snapshot() *models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.order == nil {
		return nil
	}
	cp := *s.order
	return &cp
}

func (s *Store) Status() models.OrderStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.order == nil {
		return ""
	}
	return s.order.Status
}

func (s *Store) Role() models.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *Store) SetRole(role models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
}

// Source reports which channel delivered the current snapshot.
func (s *Store) Source() models.SnapshotSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// UpdatedAt reports when the current snapshot was installed.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}
