package money_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
	"github.com/vladislavdragonenkov/storefront-oms/internal/money"
)

func TestParse(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
	}{
		{"10", 1000},
		{"10.5", 1050},
		{"10.50", 1050},
		{"0.01", 1},
		{" 5.00 ", 500},
		{"-2.50", -250},
	}
	for _, tc := range cases {
		got, err := money.Parse(tc.raw)
		require.NoError(t, err, tc.raw)
		require.Equal(t, tc.want, got, tc.raw)
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, raw := range []string{"", "abc", "1.001", "99999999999999999999999"} {
		_, err := money.Parse(raw)
		require.ErrorIs(t, err, money.ErrInvalidAmount, raw)
		require.True(t, domain.IsValidation(err), raw)
	}
}

func TestFormatAndToDecimal(t *testing.T) {
	require.Equal(t, "20.00", money.Format(2000))
	require.Equal(t, "0.05", money.Format(5))
	require.Equal(t, "-5.00", money.Format(-500))
	require.True(t, money.ToDecimal(1550).Equal(decimal.RequireFromString("15.5")))
}
