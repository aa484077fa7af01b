package actions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"P2PDesk/internal/backend"
	"P2PDesk/internal/journal"
	"P2PDesk/internal/logging"
	"P2PDesk/internal/models"
	"P2PDesk/internal/roles"

	"github.com/google/uuid"
)

// Op is one of the four mutating operations the desk exposes.
type Op string

const (
	OpMarkPaid Op = "mark-paid"
	OpConfirm  Op = "confirm"
	OpCancel   Op = "cancel"
	OpRefresh  Op = "refresh"
)

func (o Op) Valid() bool {
	switch o {
	case OpMarkPaid, OpConfirm, OpCancel, OpRefresh:
		return true
	}
	return false
}

var (
	// ErrInFlight means the same operation is already running for this
	// order; the second call is dropped, never queued.
	ErrInFlight = errors.New("action already in flight")
	// ErrNotAllowed means the current (role, status) row does not permit
	// the operation.
	ErrNotAllowed = errors.New("action not allowed for current role and status")
	// ErrNoOrder means the view has no snapshot yet.
	ErrNoOrder = errors.New("no order snapshot")
)

// Backend is the slice of the REST client the gate calls.
type Backend interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	MarkPaid(ctx context.Context, orderID, requestID string) (*models.Order, error)
	Confirm(ctx context.Context, orderID, requestID string) (*models.Order, error)
	Cancel(ctx context.Context, orderID, requestID string, auto bool) (*models.Order, error)
}

// State is the view surface the gate reads and writes. Apply installs a full
// inbound snapshot; implementations run the same ingest pipeline for action
// responses that push and poll frames get (terms cross-check, transition
// journaling, role re-resolution), so an action response that lands a
// terminal status still re-derives the role.
type State interface {
	Snapshot() *models.Order
	Role() models.Role
	SetRole(models.Role)
	Apply(ctx context.Context, o *models.Order, source models.SnapshotSource)
}

// Identities re-resolves the viewer after an authorization rejection.
type Identities interface {
	Refresh(ctx context.Context) (models.Identity, error)
}

// Allowed computes which operations the given (kind, status, role) triple
// permits. Refresh is always legal; the rest follow the settlement table:
// the paying side marks paid and may cancel inside the window, the escrow
// holder confirms release.
func Allowed(kind models.OrderKind, status models.OrderStatus, role models.Role) map[Op]bool {
	out := map[Op]bool{OpRefresh: true, OpMarkPaid: false, OpConfirm: false, OpCancel: false}
	switch kind {
	case models.KindDeposit:
		out[OpMarkPaid] = status == models.StatusPending && role == models.RoleBuyer
		out[OpConfirm] = status == models.StatusPaid && role == models.RoleMerchant
		out[OpCancel] = status == models.StatusPending && role == models.RoleBuyer
	case models.KindWithdraw:
		out[OpMarkPaid] = status == models.StatusPending && role == models.RoleMerchant
		out[OpConfirm] = status == models.StatusPaid && role == models.RoleSeller
		out[OpCancel] = status == models.StatusPending && role == models.RoleMerchant
	}
	return out
}

// Gate performs the mutating operations on one order. It guarantees at most
// one in-flight call per operation, hands successful responses to the view's
// ingest path, and classifies every failure before it reaches a caller. True
// idempotency stays the server's job; the gate only makes double-submission
// impossible from this desk.
type Gate struct {
	log      *slog.Logger
	orderID  string
	backend  Backend
	store    State
	identity Identities
	journal  journal.Recorder

	mu       sync.Mutex
	inflight map[Op]bool
}

func NewGate(log *slog.Logger, orderID string, b Backend, st State, ids Identities, rec journal.Recorder) *Gate {
	if rec == nil {
		rec = journal.Nop{}
	}
	return &Gate{
		log:      log.With(slog.String("order_id", orderID)),
		orderID:  orderID,
		backend:  b,
		store:    st,
		identity: ids,
		journal:  rec,
		inflight: make(map[Op]bool),
	}
}

// Allowed reports the legality map for the store's current snapshot.
func (g *Gate) Allowed() map[Op]bool {
	snap := g.store.Snapshot()
	if snap == nil {
		return map[Op]bool{OpRefresh: true, OpMarkPaid: false, OpConfirm: false, OpCancel: false}
	}
	return Allowed(snap.Kind, snap.Status, g.store.Role())
}

// Perform runs an operator-initiated operation.
func (g *Gate) Perform(ctx context.Context, op Op) (*models.Order, error) {
	return g.perform(ctx, op, false)
}

// AutoCancel is the countdown's entry point: a cancel flagged as automatic.
func (g *Gate) AutoCancel(ctx context.Context) (*models.Order, error) {
	return g.perform(ctx, OpCancel, true)
}

func (g *Gate) perform(ctx context.Context, op Op, auto bool) (*models.Order, error) {
	if !op.Valid() {
		return nil, ErrNotAllowed
	}
	if !g.acquire(op) {
		return nil, ErrInFlight
	}
	defer g.release(op)

	if op == OpRefresh {
		return g.refresh(ctx)
	}

	snap := g.store.Snapshot()
	if snap == nil {
		return nil, ErrNoOrder
	}
	if !Allowed(snap.Kind, snap.Status, g.store.Role())[op] {
		return nil, ErrNotAllowed
	}

	requestID := uuid.NewString()
	var (
		updated *models.Order
		err     error
	)
	switch op {
	case OpMarkPaid:
		updated, err = g.backend.MarkPaid(ctx, g.orderID, requestID)
	case OpConfirm:
		updated, err = g.backend.Confirm(ctx, g.orderID, requestID)
	case OpCancel:
		updated, err = g.backend.Cancel(ctx, g.orderID, requestID, auto)
	}

	if err != nil {
		g.fail(ctx, op, auto, requestID, err)
		return nil, err
	}

	g.store.Apply(ctx, updated, models.SourceAction)
	g.recordAction(ctx, op, auto, requestID, "ok", "")
	g.log.Info("action succeeded", slog.String("op", string(op)), slog.String("status", string(updated.Status)), slog.Bool("auto", auto))
	return updated, nil
}

// refresh re-fetches the snapshot on demand. It is always legal and carries
// no request id: reads need no dedup trail.
func (g *Gate) refresh(ctx context.Context) (*models.Order, error) {
	updated, err := g.backend.GetOrder(ctx, g.orderID)
	if err != nil {
		return nil, err
	}
	g.store.Apply(ctx, updated, models.SourceAction)
	return updated, nil
}

// fail journals the rejected attempt and runs the per-class recovery:
// conflicts force an immediate re-fetch, authorization failures re-resolve
// the role so the stale action disappears from the allowed map.
func (g *Gate) fail(ctx context.Context, op Op, auto bool, requestID string, err error) {
	kind := backend.KindOf(err)
	g.recordAction(ctx, op, auto, requestID, string(kind), err.Error())
	g.log.Warn("action rejected", slog.String("op", string(op)), slog.String("kind", string(kind)), logging.Err(err))

	switch kind {
	case backend.KindConflict:
		if _, rerr := g.refresh(ctx); rerr != nil {
			g.log.Warn("conflict resync failed", logging.Err(rerr))
		}
	case backend.KindAuthorization:
		g.reresolveRole(ctx)
	}
}

func (g *Gate) reresolveRole(ctx context.Context) {
	id, err := g.identity.Refresh(ctx)
	if err != nil {
		g.log.Warn("identity refresh failed", logging.Err(err))
		return
	}
	snap := g.store.Snapshot()
	if snap == nil {
		return
	}
	role := roles.Resolve(snap, id, roles.FallbackForKind(snap.Kind))
	g.store.SetRole(role)
	g.log.Info("role re-resolved", slog.String("role", string(role)))
}

func (g *Gate) acquire(op Op) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight[op] {
		return false
	}
	g.inflight[op] = true
	return true
}

func (g *Gate) release(op Op) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, op)
}

func (g *Gate) recordAction(ctx context.Context, op Op, auto bool, requestID, outcome, detail string) {
	err := g.journal.Action(ctx, models.ActionRecord{
		RequestID:  requestID,
		OrderID:    g.orderID,
		Action:     string(op),
		Auto:       auto,
		Outcome:    outcome,
		Detail:     detail,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		g.log.Warn("journal action failed", logging.Err(err))
	}
}
