package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderKind string

const (
	KindDeposit  OrderKind = "deposit"
	KindWithdraw OrderKind = "withdraw"
)

func (k OrderKind) Valid() bool {
	return k == KindDeposit || k == KindWithdraw
}

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPaid      OrderStatus = "paid"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected for the order.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Role string

const (
	RoleUnknown  Role = "unknown"
	RoleBuyer    Role = "buyer"
	RoleSeller   Role = "seller"
	RoleMerchant Role = "merchant"
)

// Party is one side of an order. Depending on the order kind the server may
// fill only the id, only the email, or both.
type Party struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Settlement holds the bank details of whichever party receives the transfer
// for the order's direction.
type Settlement struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
}

// Order is the full server-reported state of one escrow trade. Snapshots are
// always complete: consumers replace the whole value, never patch fields.
type Order struct {
	ID         string      `json:"id"`
	Kind       OrderKind   `json:"kind"`
	Status     OrderStatus `json:"status"`
	Buyer      Party       `json:"buyer"`
	Seller     Party       `json:"seller"`
	MerchantID string      `json:"merchant_id"`

	// Commercial terms, inherited from the originating offer and immutable
	// for the life of the order.
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	MinAmount decimal.Decimal `json:"min_amount"`
	MaxAmount decimal.Decimal `json:"max_amount"`

	Settlement Settlement `json:"settlement"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identity is the locally known viewer: the operator of this desk.
type Identity struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	IsMerchant bool   `json:"is_merchant"`
}

// SnapshotSource labels which channel delivered a snapshot.
type SnapshotSource string

const (
	SourceSeed   SnapshotSource = "seed"
	SourcePush   SnapshotSource = "push"
	SourcePoll   SnapshotSource = "poll"
	SourceAction SnapshotSource = "action"
)

// Transition is a journaled change of an order's observed status.
type Transition struct {
	OrderID    string
	Source     SnapshotSource
	PrevStatus OrderStatus
	Status     OrderStatus
	ObservedAt time.Time
}

// ActionRecord is a journaled outcome of one attempted order action.
type ActionRecord struct {
	RequestID  string
	OrderID    string
	Action     string
	Auto       bool
	Outcome    string
	Detail     string
	RecordedAt time.Time
}
