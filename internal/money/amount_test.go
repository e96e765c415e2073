package money_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostedpay/internal/money"
)

func TestToMinorUnits(t *testing.T) {
	cases := []struct {
		in   float64
		want int64
	}{
		{19.99, 1999},
		{100.00, 10000},
		{0, 0},
		{0.01, 1},
		{118.00, 11800},
		{1234.56, 123456},
		// classic float repr trap: 0.1+0.2 != 0.3 exactly
		{0.1 + 0.2, 30},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, money.ToMinorUnits(tc.in), "amount %v", tc.in)
	}
}

func TestRound2(t *testing.T) {
	require.Equal(t, 19.99, money.Round2(19.985001))
	require.Equal(t, 0.3, money.Round2(0.1+0.2))
}
