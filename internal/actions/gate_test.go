package actions

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"P2PDesk/internal/backend"
	"P2PDesk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeState struct {
	mu         sync.Mutex
	order      *models.Order
	role       models.Role
	lastSource models.SnapshotSource
}

var _ State = (*fakeState)(nil)

func (f *fakeState) Snapshot() *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.order == nil {
		return nil
	}
	cp := *f.order
	return &cp
}

func (f *fakeState) Role() models.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.role
}

func (f *fakeState) SetRole(role models.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.role = role
}

func (f *fakeState) Apply(_ context.Context, o *models.Order, source models.SnapshotSource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.order = &cp
	f.lastSource = source
}

func (f *fakeState) seed(o *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.order = &cp
}

type gateBackend struct {
	mu        sync.Mutex
	order     models.Order
	markCalls int32
	getCalls  int32

	markPaidErr error
	confirmErr  error
	block       chan struct{} // MarkPaid waits on this when set
	started     chan struct{} // closed when the first MarkPaid begins
}

var _ Backend = (*gateBackend)(nil)

func (g *gateBackend) current() *models.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := g.order
	return &cp
}

func (g *gateBackend) setStatus(status models.OrderStatus) *models.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.order.Status = status
	cp := g.order
	return &cp
}

func (g *gateBackend) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	atomic.AddInt32(&g.getCalls, 1)
	return g.current(), nil
}

func (g *gateBackend) MarkPaid(ctx context.Context, orderID, requestID string) (*models.Order, error) {
	if atomic.AddInt32(&g.markCalls, 1) == 1 && g.started != nil {
		close(g.started)
	}
	if g.block != nil {
		<-g.block
	}
	if g.markPaidErr != nil {
		return nil, g.markPaidErr
	}
	return g.setStatus(models.StatusPaid), nil
}

func (g *gateBackend) Confirm(ctx context.Context, orderID, requestID string) (*models.Order, error) {
	if g.confirmErr != nil {
		return nil, g.confirmErr
	}
	return g.setStatus(models.StatusCompleted), nil
}

func (g *gateBackend) Cancel(ctx context.Context, orderID, requestID string, auto bool) (*models.Order, error) {
	return g.setStatus(models.StatusCancelled), nil
}

type gateIdentities struct {
	id        models.Identity
	refreshes int32
}

func (g *gateIdentities) Refresh(ctx context.Context) (models.Identity, error) {
	atomic.AddInt32(&g.refreshes, 1)
	return g.id, nil
}

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pendingDeposit() models.Order {
	return models.Order{
		ID:        "ord-1",
		Kind:      models.KindDeposit,
		Status:    models.StatusPending,
		Buyer:     models.Party{ID: "b-1", Email: "buyer@example.com"},
		Seller:    models.Party{ID: "s-1", Email: "seller@example.com"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestAllowedTable(t *testing.T) {
	tests := []struct {
		name   string
		kind   models.OrderKind
		status models.OrderStatus
		role   models.Role
		want   map[Op]bool
	}{
		{
			name: "deposit pending buyer", kind: models.KindDeposit, status: models.StatusPending, role: models.RoleBuyer,
			want: map[Op]bool{OpMarkPaid: true, OpConfirm: false, OpCancel: true, OpRefresh: true},
		},
		{
			name: "deposit paid merchant", kind: models.KindDeposit, status: models.StatusPaid, role: models.RoleMerchant,
			want: map[Op]bool{OpMarkPaid: false, OpConfirm: true, OpCancel: false, OpRefresh: true},
		},
		{
			name: "deposit pending merchant", kind: models.KindDeposit, status: models.StatusPending, role: models.RoleMerchant,
			want: map[Op]bool{OpMarkPaid: false, OpConfirm: false, OpCancel: false, OpRefresh: true},
		},
		{
			name: "withdraw pending merchant", kind: models.KindWithdraw, status: models.StatusPending, role: models.RoleMerchant,
			want: map[Op]bool{OpMarkPaid: true, OpConfirm: false, OpCancel: true, OpRefresh: true},
		},
		{
			name: "withdraw paid seller", kind: models.KindWithdraw, status: models.StatusPaid, role: models.RoleSeller,
			want: map[Op]bool{OpMarkPaid: false, OpConfirm: true, OpCancel: false, OpRefresh: true},
		},
		{
			name: "withdraw paid merchant cannot cancel", kind: models.KindWithdraw, status: models.StatusPaid, role: models.RoleMerchant,
			want: map[Op]bool{OpMarkPaid: false, OpConfirm: false, OpCancel: false, OpRefresh: true},
		},
		{
			name: "cancelled offers nothing", kind: models.KindDeposit, status: models.StatusCancelled, role: models.RoleBuyer,
			want: map[Op]bool{OpMarkPaid: false, OpConfirm: false, OpCancel: false, OpRefresh: true},
		},
		{
			name: "unknown role is read-only", kind: models.KindDeposit, status: models.StatusPending, role: models.RoleUnknown,
			want: map[Op]bool{OpMarkPaid: false, OpConfirm: false, OpCancel: false, OpRefresh: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Allowed(tt.kind, tt.status, tt.role))
		})
	}
}

// Two rapid mark-paid calls produce exactly one network request; the second
// is rejected with ErrInFlight, not queued.
func TestPerformDeduplicatesInFlight(t *testing.T) {
	fb := &gateBackend{
		order:   pendingDeposit(),
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	st := &fakeState{role: models.RoleBuyer}
	st.seed(fb.current())
	g := NewGate(discardLog(), "ord-1", fb, st, &gateIdentities{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := g.Perform(context.Background(), OpMarkPaid)
		done <- err
	}()

	<-fb.started
	_, err := g.Perform(context.Background(), OpMarkPaid)
	assert.ErrorIs(t, err, ErrInFlight)

	close(fb.block)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fb.markCalls))

	// The operation is available again once the first call resolves.
	assert.Equal(t, models.StatusPaid, st.Snapshot().Status)
}

// Happy path for a deposit: buyer marks paid, merchant's view confirms, the
// order completes and nothing further is offered.
func TestDepositSettlementFlow(t *testing.T) {
	fb := &gateBackend{order: pendingDeposit()}

	buyerView := &fakeState{role: models.RoleBuyer}
	buyerView.seed(fb.current())
	buyerGate := NewGate(discardLog(), "ord-1", fb, buyerView, &gateIdentities{}, nil)

	updated, err := buyerGate.Perform(context.Background(), OpMarkPaid)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, updated.Status)
	assert.Equal(t, models.StatusPaid, buyerView.Snapshot().Status)

	merchantView := &fakeState{role: models.RoleMerchant}
	merchantView.seed(fb.current())
	merchantGate := NewGate(discardLog(), "ord-1", fb, merchantView, &gateIdentities{}, nil)

	updated, err = merchantGate.Perform(context.Background(), OpConfirm)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, updated.Status)

	allowed := merchantGate.Allowed()
	assert.False(t, allowed[OpConfirm])
	assert.False(t, allowed[OpMarkPaid])
	assert.False(t, allowed[OpCancel])
}

// Stale action rejection: the server already cancelled the order, mark-paid
// comes back as a conflict, and the forced re-fetch resynchronizes the view
// so mark-paid is no longer offered.
func TestConflictForcesResync(t *testing.T) {
	fb := &gateBackend{
		order:       pendingDeposit(),
		markPaidErr: &backend.Error{Kind: backend.KindConflict, Status: 409, Message: "order already cancelled"},
	}
	fb.order.Status = models.StatusCancelled // authoritative server state
	st := &fakeState{role: models.RoleBuyer}
	stale := pendingDeposit()
	st.seed(&stale)
	g := NewGate(discardLog(), "ord-1", fb, st, &gateIdentities{}, nil)

	_, err := g.Perform(context.Background(), OpMarkPaid)
	require.Error(t, err)
	assert.Equal(t, backend.KindConflict, backend.KindOf(err))

	assert.Equal(t, models.StatusCancelled, st.Snapshot().Status)
	assert.False(t, g.Allowed()[OpMarkPaid])
	assert.Equal(t, int32(1), atomic.LoadInt32(&fb.getCalls))
}

// An authorization rejection re-resolves the role so the stale action
// disappears instead of erroring again.
func TestAuthorizationReresolvesRole(t *testing.T) {
	fb := &gateBackend{
		order:      pendingDeposit(),
		confirmErr: &backend.Error{Kind: backend.KindAuthorization, Status: 403, Message: "role mismatch"},
	}
	fb.order.Status = models.StatusPaid
	st := &fakeState{role: models.RoleMerchant} // stale local belief
	st.seed(fb.current())
	ids := &gateIdentities{id: models.Identity{ID: "x-9", Email: "other@example.com"}}
	g := NewGate(discardLog(), "ord-1", fb, st, ids, nil)

	_, err := g.Perform(context.Background(), OpConfirm)
	require.Error(t, err)
	assert.Equal(t, backend.KindAuthorization, backend.KindOf(err))

	assert.Equal(t, int32(1), atomic.LoadInt32(&ids.refreshes))
	assert.Equal(t, models.RoleBuyer, st.Role()) // deposit fallback after re-resolve
	assert.False(t, g.Allowed()[OpConfirm])
}

func TestPerformGuards(t *testing.T) {
	fb := &gateBackend{order: pendingDeposit()}
	st := &fakeState{role: models.RoleSeller}
	st.seed(fb.current())
	g := NewGate(discardLog(), "ord-1", fb, st, &gateIdentities{}, nil)

	_, err := g.Perform(context.Background(), OpMarkPaid)
	assert.ErrorIs(t, err, ErrNotAllowed)

	_, err = g.Perform(context.Background(), Op("settle"))
	assert.ErrorIs(t, err, ErrNotAllowed)

	empty := NewGate(discardLog(), "ord-1", fb, &fakeState{role: models.RoleBuyer}, &gateIdentities{}, nil)
	_, err = empty.Perform(context.Background(), OpMarkPaid)
	assert.ErrorIs(t, err, ErrNoOrder)
}

func TestRefreshAlwaysAllowed(t *testing.T) {
	fb := &gateBackend{order: pendingDeposit()}
	st := &fakeState{role: models.RoleUnknown}
	g := NewGate(discardLog(), "ord-1", fb, st, &gateIdentities{}, nil)

	updated, err := g.Perform(context.Background(), OpRefresh)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, updated.Status)
	assert.Equal(t, models.StatusPending, st.Snapshot().Status)
	assert.Equal(t, models.SourceAction, st.lastSource)
}
