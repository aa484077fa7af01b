package journal

import (
	"context"

	"P2PDesk/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Recorder receives the desk's audit trail: every observed status transition
// and every attempted action. Recording failures are reported to the caller
// for logging; they never block the trading path.
type Recorder interface {
	Transition(ctx context.Context, t models.Transition) error
	Action(ctx context.Context, a models.ActionRecord) error
}

// Nop discards all records; used when no database is configured.
type Nop struct{}

func (Nop) Transition(context.Context, models.Transition) error { return nil }
func (Nop) Action(context.Context, models.ActionRecord) error   { return nil }

// PG appends records to Postgres.
type PG struct {
	Pool *pgxpool.Pool
}

func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{Pool: pool}
}

func (p *PG) Transition(ctx context.Context, t models.Transition) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO order_transitions (order_id, source, prev_status, status, observed_at)
		VALUES ($1,$2,$3,$4,$5)
	`,
		t.OrderID,
		t.Source,
		t.PrevStatus,
		t.Status,
		t.ObservedAt,
	)
	return err
}

func (p *PG) Action(ctx context.Context, a models.ActionRecord) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO order_actions (request_id, order_id, action, auto, outcome, detail, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (request_id) DO NOTHING
	`,
		a.RequestID,
		a.OrderID,
		a.Action,
		a.Auto,
		a.Outcome,
		a.Detail,
		a.RecordedAt,
	)
	return err
}
