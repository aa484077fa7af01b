package desk

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"P2PDesk/internal/models"
	"P2PDesk/internal/view"
)

// ErrNotWatched means no live session exists for the order id.
var ErrNotWatched = errors.New("order is not being watched")

// Registry owns every open order view. It enforces the one-session-per-order
// rule: opening an order that is already watched closes the prior session
// first, mirroring what a remount of the same view does. Two sessions on one
// order would mean duplicate push connections and duplicate poll loops, so
// the old one always dies before the new one dials.
type Registry struct {
	log  *slog.Logger
	cfg  view.Config
	deps view.Deps

	mu       sync.Mutex
	sessions map[string]*view.Session
}

func New(log *slog.Logger, cfg view.Config, deps view.Deps) *Registry {
	return &Registry{
		log:      log,
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]*view.Session),
	}
}

// Open starts watching an order. A prior session for the same id is closed
// and replaced.
func (r *Registry) Open(ctx context.Context, orderID string, kind models.OrderKind) (*view.Session, error) {
	r.mu.Lock()
	prior := r.sessions[orderID]
	delete(r.sessions, orderID)
	r.mu.Unlock()

	if prior != nil {
		r.log.Info("replacing existing view", slog.String("order_id", orderID))
		prior.Close()
	}

	s, err := view.Open(ctx, orderID, kind, r.cfg, r.deps)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	// A racing Open for the same id may have won while we were seeding;
	// the later session wins and the loser is torn down.
	if existing, ok := r.sessions[orderID]; ok {
		existing.Close()
	}
	r.sessions[orderID] = s
	r.mu.Unlock()
	return s, nil
}

// Get returns the live session for an order id.
func (r *Registry) Get(orderID string) (*view.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[orderID]
	if !ok {
		return nil, ErrNotWatched
	}
	return s, nil
}

// Close stops watching an order.
func (r *Registry) Close(orderID string) error {
	r.mu.Lock()
	s, ok := r.sessions[orderID]
	delete(r.sessions, orderID)
	r.mu.Unlock()
	if !ok {
		return ErrNotWatched
	}
	s.Close()
	return nil
}

// CloseAll tears down every session; called on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*view.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*view.Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Watched lists the order ids with live sessions.
func (r *Registry) Watched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
