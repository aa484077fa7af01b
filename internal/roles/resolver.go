package roles

import (
	"strings"

	"P2PDesk/internal/models"
)

// Resolve determines the viewer's relationship to an order. The server
// encodes "who is who" inconsistently between order kinds (sometimes a party
// id, sometimes only an email string), so resolution walks a strict priority
// list and tolerates partial data. It never fails: an unresolved role
// degrades to the caller-supplied fallback, or unknown, which the rest of the
// desk treats as read-only.
//
// Priority, first match wins:
//  1. the order's merchant party id equals the viewer's id
//  2. the viewer's own identity is flagged as a merchant
//  3. the order's seller email equals the viewer's email (case-insensitive)
//  4. the order's buyer email equals the viewer's email (case-insensitive)
//  5. fallback, or unknown when no fallback is given
func Resolve(o *models.Order, id models.Identity, fallback models.Role) models.Role {
	if fallback == "" {
		fallback = models.RoleUnknown
	}
	if o == nil {
		return fallback
	}
	if o.MerchantID != "" && o.MerchantID == id.ID {
		return models.RoleMerchant
	}
	if id.IsMerchant {
		return models.RoleMerchant
	}
	if emailsEqual(o.Seller.Email, id.Email) {
		return models.RoleSeller
	}
	if emailsEqual(o.Buyer.Email, id.Email) {
		return models.RoleBuyer
	}
	return fallback
}

// FallbackForKind seeds the resolver fallback from the order direction: on a
// withdraw the viewer is most plausibly the paying-out side's counterparty
// (seller), on a deposit the buyer.
func FallbackForKind(kind models.OrderKind) models.Role {
	switch kind {
	case models.KindWithdraw:
		return models.RoleSeller
	case models.KindDeposit:
		return models.RoleBuyer
	}
	return models.RoleUnknown
}

// AutoCancelRole is the single role permitted to trigger cancellation when
// the payment window expires: the merchant on withdraw orders, the buyer on
// deposit orders.
func AutoCancelRole(kind models.OrderKind) models.Role {
	switch kind {
	case models.KindWithdraw:
		return models.RoleMerchant
	case models.KindDeposit:
		return models.RoleBuyer
	}
	return models.RoleUnknown
}

func emailsEqual(a, b string) bool {
	return a != "" && b != "" && strings.EqualFold(a, b)
}
