package view

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"P2PDesk/internal/actions"
	"P2PDesk/internal/backend"
	"P2PDesk/internal/countdown"
	"P2PDesk/internal/journal"
	"P2PDesk/internal/logging"
	"P2PDesk/internal/models"
	"P2PDesk/internal/roles"
	"P2PDesk/internal/terms"
)

// PushConn is one live push subscription.
type PushConn interface {
	ReadOrder() (*models.Order, error)
	Close() error
}

// PushDialer opens push subscriptions against the gateway.
type PushDialer interface {
	Dial(ctx context.Context, orderID string, kind models.OrderKind, token string) (PushConn, error)
}

// Identities is the identity-cache surface a session needs.
type Identities interface {
	Current(ctx context.Context) (models.Identity, error)
	Refresh(ctx context.Context) (models.Identity, error)
	Token(ctx context.Context) (string, error)
}

// Config tunes one session's timing. Zero values take the production
// defaults; tests shrink them.
type Config struct {
	Window          time.Duration
	Tick            time.Duration
	PollInterval    time.Duration
	PollMaxInterval time.Duration
	PushRetry       time.Duration
}

func (c *Config) fillDefaults() {
	if c.Window <= 0 {
		c.Window = 900 * time.Second
	}
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.PollMaxInterval <= 0 {
		c.PollMaxInterval = 120 * time.Second
	}
	if c.PushRetry <= 0 {
		c.PushRetry = 3 * time.Second
	}
}

// Deps are the collaborators a session is built from.
type Deps struct {
	Log      *slog.Logger
	Backend  actions.Backend
	Push     PushDialer
	Identity Identities
	Journal  journal.Recorder
	Now      func() time.Time
}

// State is what the presentation layer reads for one order view.
type State struct {
	Order            *models.Order       `json:"order"`
	Role             models.Role         `json:"role"`
	RemainingSeconds int                 `json:"remaining_seconds"`
	Allowed          map[actions.Op]bool `json:"allowed"`
}

// Session owns the live view of one order: the snapshot store, exactly one
// push connection, exactly one poll loop, the countdown, and the action
// gate. It is created by a seed fetch and torn down as a unit; nothing in it
// outlives Close.
type Session struct {
	orderID string
	kind    models.OrderKind
	cfg     Config
	deps    Deps
	log     *slog.Logger

	store     *Store
	gate      *actions.Gate
	countdown *countdown.Countdown

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	idRefresh sync.Once
}

// Open seeds the store with an initial fetch and starts the push, poll, and
// countdown goroutines. A failed seed fetch means no session: the caller
// gets the classified error.
func Open(ctx context.Context, orderID string, kind models.OrderKind, cfg Config, deps Deps) (*Session, error) {
	cfg.fillDefaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}

	s := &Session{
		orderID:   orderID,
		kind:      kind,
		cfg:       cfg,
		deps:      deps,
		log:       deps.Log.With(slog.String("order_id", orderID), slog.String("kind", string(kind))),
		store:     NewStore(deps.Now),
		countdown: countdown.New(cfg.Window, deps.Now),
	}
	s.gate = actions.NewGate(deps.Log, orderID, deps.Backend, gateState{s}, deps.Identity, deps.Journal)

	seed, err := deps.Backend.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.apply(ctx, seed, models.SourceSeed)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(3)
	go s.pollLoop(runCtx)
	go s.pushLoop(runCtx)
	go s.countdownLoop(runCtx)

	s.log.Info("view opened", slog.String("status", string(s.store.Status())), slog.String("role", string(s.store.Role())))
	return s, nil
}

// Close tears the session down: both channels stop, the socket closes, all
// goroutines join. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.log.Info("view closed")
	})
}

func (s *Session) OrderID() string {
	return s.orderID
}

// State reads the current view for the presentation layer.
func (s *Session) State() State {
	st := State{Role: s.store.Role(), Allowed: s.gate.Allowed()}
	if snap := s.store.Snapshot(); snap != nil {
		st.Order = snap
		if snap.Status == models.StatusPending {
			st.RemainingSeconds = s.countdown.RemainingSeconds(snap.CreatedAt)
		}
	}
	return st
}

// Perform runs an operator action through the gate.
func (s *Session) Perform(ctx context.Context, op actions.Op) (*models.Order, error) {
	return s.gate.Perform(ctx, op)
}

// gateState is the session's view surface handed to the action gate. Apply
// routes the gate's snapshot installs through the session's ingest path, so
// action responses get the terms cross-check, journaling, and role
// re-resolution that push and poll frames get.
type gateState struct{ s *Session }

func (g gateState) Snapshot() *models.Order { return g.s.store.Snapshot() }
func (g gateState) Role() models.Role       { return g.s.store.Role() }
func (g gateState) SetRole(r models.Role)   { g.s.store.SetRole(r) }

func (g gateState) Apply(ctx context.Context, o *models.Order, source models.SnapshotSource) {
	g.s.apply(ctx, o, source)
}

// apply installs one full inbound snapshot: whole-value replace, journal the
// transition if the status moved, re-resolve the role. Snapshots for a
// different order id are dropped so a stray gateway frame cannot bleed into
// this view.
func (s *Session) apply(ctx context.Context, o *models.Order, source models.SnapshotSource) {
	if o == nil {
		return
	}
	if o.ID != s.orderID {
		s.log.Warn("dropped snapshot for foreign order", slog.String("got", o.ID))
		return
	}
	if err := terms.Verify(o); err != nil {
		s.log.Warn("terms cross-check failed", logging.Err(err))
	}

	prev, changed := s.store.Replace(o, source)
	if changed {
		s.log.Info("status changed",
			slog.String("from", string(prev)),
			slog.String("to", string(o.Status)),
			slog.String("source", string(source)))
		err := s.deps.Journal.Transition(ctx, models.Transition{
			OrderID:    s.orderID,
			Source:     source,
			PrevStatus: prev,
			Status:     o.Status,
			ObservedAt: s.deps.Now().UTC(),
		})
		if err != nil {
			s.log.Warn("journal transition failed", logging.Err(err))
		}
	}
	s.resolveRole(ctx, o)
}

// resolveRole recomputes the viewer's role for the snapshot. If resolution
// degrades to unknown the identity may simply be stale, so the session
// forces one identity refresh and tries again; one per session, a stale
// identity that survives a refresh is genuinely ambiguous.
func (s *Session) resolveRole(ctx context.Context, o *models.Order) {
	id, err := s.deps.Identity.Current(ctx)
	if err != nil {
		s.log.Warn("identity unavailable, role unchanged", logging.Err(err))
		return
	}
	if roles.Resolve(o, id, models.RoleUnknown) == models.RoleUnknown {
		s.idRefresh.Do(func() {
			fresh, err := s.deps.Identity.Refresh(ctx)
			if err != nil {
				s.log.Warn("identity refresh failed", logging.Err(err))
				return
			}
			id = fresh
		})
	}
	s.store.SetRole(roles.Resolve(o, id, roles.FallbackForKind(o.Kind)))
}

// pollLoop re-fetches the order while it is in a non-terminal status,
// backing off exponentially on consecutive failures and resetting to the
// base interval on success. It stops for good once a terminal status is in
// the store, whichever channel delivered it.
func (s *Session) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	retries := 0
	for {
		if status := s.store.Status(); status.Terminal() {
			s.log.Debug("poll stopped", slog.String("status", string(status)))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff(s.cfg.PollInterval, s.cfg.PollMaxInterval, retries)):
		}
		if s.store.Status().Terminal() {
			return
		}

		o, err := s.deps.Backend.GetOrder(ctx, s.orderID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			retries++
			s.log.Warn("poll failed", slog.Int("retries", retries), logging.Err(err))
			continue
		}
		retries = 0
		s.apply(ctx, o, models.SourcePoll)
	}
}

// pushLoop keeps at most one gateway subscription alive for the view. A
// connection needs a currently-valid credential up front; if the credential
// cannot be refreshed the push channel gives up and the view runs
// poll-only. Unclean closures reconnect after a fixed delay, clean closures
// end the loop.
func (s *Session) pushLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		token, err := s.deps.Identity.Token(ctx)
		if err != nil {
			s.log.Warn("push disabled, running poll-only", logging.Err(err))
			return
		}

		conn, err := s.deps.Push.Dial(ctx, s.orderID, s.kind, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("push connect failed", logging.Err(err))
			if !s.sleep(ctx, s.cfg.PushRetry) {
				return
			}
			continue
		}
		s.log.Info("push connected")

		// Unblock the blocking read when the session closes.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-done:
			}
		}()

		clean := s.readLoop(ctx, conn)
		close(done)
		_ = conn.Close()

		if clean || ctx.Err() != nil {
			return
		}
		if !s.sleep(ctx, s.cfg.PushRetry) {
			return
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn PushConn) (clean bool) {
	for {
		o, err := conn.ReadOrder()
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			if backend.IsCleanClose(err) {
				s.log.Info("push closed cleanly")
				return true
			}
			s.log.Warn("push read failed", logging.Err(err))
			return false
		}
		s.apply(ctx, o, models.SourcePush)
	}
}

// countdownLoop ticks once per second and fires the auto-cancel when the
// payment window runs out for the role allowed to trigger it. The fire is
// one-shot; after it, or once the order leaves pending for a terminal
// status, the loop ends.
func (s *Session) countdownLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := s.store.Snapshot()
		if snap == nil {
			continue
		}
		if snap.Status.Terminal() {
			return
		}
		if s.countdown.ShouldFire(snap, s.store.Role()) {
			s.log.Info("payment window expired, cancelling",
				slog.Int("window_seconds", int(s.cfg.Window/time.Second)))
			if _, err := s.gate.AutoCancel(ctx); err != nil {
				// A conflict here means the server already moved the
				// order on; the gate's resync covers it.
				s.log.Warn("auto-cancel rejected", logging.Err(err))
			}
			return
		}
	}
}

func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
