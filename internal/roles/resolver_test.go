package roles

import (
	"testing"

	"P2PDesk/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestResolvePriority(t *testing.T) {
	me := models.Identity{ID: "u-1", Email: "me@example.com"}

	tests := []struct {
		name     string
		order    *models.Order
		identity models.Identity
		fallback models.Role
		want     models.Role
	}{
		{
			name:     "merchant id beats everything",
			order:    &models.Order{MerchantID: "u-1", Seller: models.Party{Email: "me@example.com"}},
			identity: me,
			want:     models.RoleMerchant,
		},
		{
			name:     "merchant flag beats email match",
			order:    &models.Order{Buyer: models.Party{Email: "me@example.com"}},
			identity: models.Identity{ID: "u-1", Email: "me@example.com", IsMerchant: true},
			want:     models.RoleMerchant,
		},
		{
			name:     "seller email beats buyer email",
			order:    &models.Order{Seller: models.Party{Email: "ME@example.com"}, Buyer: models.Party{Email: "me@example.com"}},
			identity: me,
			want:     models.RoleSeller,
		},
		{
			name:     "buyer email case-insensitive",
			order:    &models.Order{Buyer: models.Party{Email: "Me@Example.COM"}},
			identity: me,
			want:     models.RoleBuyer,
		},
		{
			name:     "foreign merchant id does not match",
			order:    &models.Order{MerchantID: "u-2"},
			identity: me,
			fallback: models.RoleBuyer,
			want:     models.RoleBuyer,
		},
		{
			name:     "empty emails never match empty identity email",
			order:    &models.Order{Seller: models.Party{Email: ""}},
			identity: models.Identity{ID: "u-1", Email: ""},
			want:     models.RoleUnknown,
		},
		{
			name:     "no fallback degrades to unknown",
			order:    &models.Order{},
			identity: me,
			want:     models.RoleUnknown,
		},
		{
			name:     "nil order returns fallback",
			order:    nil,
			identity: me,
			fallback: models.RoleSeller,
			want:     models.RoleSeller,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.order, tt.identity, tt.fallback)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Resolution must be a pure function of its inputs: repeated calls in any
// order return the same role.
func TestResolveDeterminism(t *testing.T) {
	order := &models.Order{
		Kind:   models.KindDeposit,
		Buyer:  models.Party{Email: "buyer@example.com"},
		Seller: models.Party{Email: "seller@example.com"},
	}
	id := models.Identity{ID: "u-9", Email: "buyer@example.com"}

	first := Resolve(order, id, FallbackForKind(order.Kind))
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Resolve(order, id, FallbackForKind(order.Kind)))
	}
	assert.Equal(t, models.RoleBuyer, first)
}

func TestFallbackForKind(t *testing.T) {
	assert.Equal(t, models.RoleSeller, FallbackForKind(models.KindWithdraw))
	assert.Equal(t, models.RoleBuyer, FallbackForKind(models.KindDeposit))
	assert.Equal(t, models.RoleUnknown, FallbackForKind(models.OrderKind("swap")))
}

func TestAutoCancelRole(t *testing.T) {
	assert.Equal(t, models.RoleMerchant, AutoCancelRole(models.KindWithdraw))
	assert.Equal(t, models.RoleBuyer, AutoCancelRole(models.KindDeposit))
	assert.Equal(t, models.RoleUnknown, AutoCancelRole(models.OrderKind("")))
}
