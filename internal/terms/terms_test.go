package terms

import (
	"testing"

	"P2PDesk/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTotal(t *testing.T) {
	tests := []struct {
		amount string
		price  string
		want   string
	}{
		{"100", "0.98", "98"},
		{"12.5", "1", "12.5"},
		{"0.003", "41000", "123"},
	}

	for _, tt := range tests {
		got := Total(dec(tt.amount), dec(tt.price))
		assert.True(t, got.Equal(dec(tt.want)), "Total(%s, %s) = %s, want %s", tt.amount, tt.price, got, tt.want)
	}
}

func TestWithinBounds(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		min    string
		max    string
		want   bool
	}{
		{"inside", "50", "10", "100", true},
		{"at min", "10", "10", "100", true},
		{"at max", "100", "10", "100", true},
		{"below min", "5", "10", "100", false},
		{"above max", "101", "10", "100", false},
		{"unconstrained", "999999", "0", "0", true},
		{"only min", "5", "10", "0", false},
		{"only max", "5", "0", "4", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WithinBounds(dec(tt.amount), dec(tt.min), dec(tt.max))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerify(t *testing.T) {
	ok := &models.Order{
		Amount:    dec("100"),
		Price:     dec("0.98"),
		Total:     dec("98"),
		MinAmount: dec("10"),
		MaxAmount: dec("500"),
	}
	assert.NoError(t, Verify(ok))

	badTotal := *ok
	badTotal.Total = dec("99")
	assert.Error(t, Verify(&badTotal))

	outOfBounds := *ok
	outOfBounds.Amount = dec("600")
	outOfBounds.Total = dec("588")
	assert.Error(t, Verify(&outOfBounds))

	zeroPrice := *ok
	zeroPrice.Price = decimal.Zero
	assert.Error(t, Verify(&zeroPrice))
}

func TestVerifyToleratesRounding(t *testing.T) {
	o := &models.Order{
		Amount: dec("1"),
		Price:  dec("3"),
		Total:  dec("3.00000002"), // 2e-8 off, past tolerance
	}
	assert.Error(t, Verify(o))

	o.Total = dec("3.000000005") // 5e-9 off, inside tolerance
	assert.NoError(t, Verify(o))
}
