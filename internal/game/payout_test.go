package game

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	tests := []struct {
		correct  int64
		accuracy float64
		want     int64
	}{
		{correct: 0, accuracy: 1, want: 0},
		{correct: 50, accuracy: 1, want: 500},
		{correct: 50, accuracy: 0.5, want: 1000},
		{correct: 7, accuracy: 0.3, want: 233},
	}
	for _, tc := range tests {
		got, err := Score(tc.correct, tc.accuracy)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "correct=%d accuracy=%v", tc.correct, tc.accuracy)
	}
}

func TestScoreRejectsBadMetrics(t *testing.T) {
	bad := []struct {
		correct  int64
		accuracy float64
	}{
		{correct: -1, accuracy: 1},
		{correct: 10, accuracy: 0},
		{correct: 10, accuracy: -0.2},
		{correct: 10, accuracy: 1.01},
		{correct: 10, accuracy: math.NaN()},
		{correct: math.MaxInt64, accuracy: 1e-300},
	}
	for _, tc := range bad {
		_, err := Score(tc.correct, tc.accuracy)
		require.ErrorIs(t, err, ErrInvalidMetrics, "correct=%d accuracy=%v", tc.correct, tc.accuracy)
		require.Equal(t, CodeInvalidMetrics, CodeOf(err))
	}
}

func TestZScore(t *testing.T) {
	require.Zero(t, ZScore(400, nil))
	require.Zero(t, ZScore(100, []int64{100, 100, 100}))
	// single observation: stdev is 1
	require.InDelta(t, 20.0, ZScore(120, []int64{100}), 1e-9)
	// median 200, sample stdev 100
	require.InDelta(t, 1.0, ZScore(300, []int64{100, 200, 300}), 1e-9)
	require.InDelta(t, -1.5, ZScore(50, []int64{100, 200, 300}), 1e-9)
}

func TestMedianAndStdev(t *testing.T) {
	require.Equal(t, 2.0, median([]int64{3, 1, 2}))
	require.Equal(t, 2.5, median([]int64{4, 1, 3, 2}))
	require.Equal(t, 1.0, stdev([]int64{42}))
	require.Equal(t, 0.0, stdev([]int64{5, 5, 5, 5}))
	require.InDelta(t, math.Sqrt(2.5), stdev([]int64{1, 2, 3, 4, 5}), 1e-12)
}

func TestMultiplierTiers(t *testing.T) {
	tests := []struct {
		z    float64
		want string
	}{
		{z: 9, want: "3"},
		{z: 3.0, want: "3"},
		{z: 2.99, want: "2.5"},
		{z: 2.5, want: "2.5"},
		{z: 2.0, want: "2"},
		{z: 1.5, want: "1.75"},
		{z: 1.0, want: "1.5"},
		{z: 0.5, want: "1.25"},
		{z: 0.0, want: "1"},
		{z: -0.01, want: "-1"},
		{z: -0.5, want: "-1"},
		{z: -1.0, want: "-1.5"},
		{z: -1.5, want: "-2"},
		{z: -2.0, want: "-2.5"},
		{z: -2.5, want: "-3"},
		{z: -2.51, want: "-4"},
		{z: -40, want: "-4"},
	}
	for _, tc := range tests {
		got := Multiplier(tc.z)
		require.True(t, got.Equal(decimal.RequireFromString(tc.want)), "z=%v got=%s want=%s", tc.z, got, tc.want)
	}
}

func TestBalanceDelta(t *testing.T) {
	tests := []struct {
		name       string
		wager      int64
		multiplier string
		balance    int64
		want       int64
	}{
		{name: "even", wager: 400, multiplier: "1.0", balance: 600, want: 400},
		{name: "fractional win floors", wager: 333, multiplier: "1.75", balance: 0, want: 582},
		{name: "loss with surcharge", wager: 200, multiplier: "-1.5", balance: 1000, want: -320},
		{name: "loss capped at balance", wager: 100, multiplier: "-4.0", balance: 50, want: -50},
		{name: "loss with empty balance", wager: 100, multiplier: "-1.0", balance: 0, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := BalanceDelta(tc.wager, decimal.RequireFromString(tc.multiplier), tc.balance)
			require.Equal(t, tc.want, got)
			require.GreaterOrEqual(t, ApplyDelta(tc.balance, got), int64(0))
		})
	}
}

func TestPriceNeutralPopulation(t *testing.T) {
	out, err := Price(DefaultRules(), 400, 600, 40, 1, nil)
	require.NoError(t, err)
	require.Zero(t, out.ZScore)
	require.True(t, out.Multiplier.Equal(decimal.NewFromInt(1)))
	require.Equal(t, int64(400), out.Delta)

	out, err = Price(DefaultRules(), 400, 600, 10, 1, []int64{100, 100, 100})
	require.NoError(t, err)
	require.Equal(t, int64(100), out.Score)
	require.Zero(t, out.ZScore)
	require.Equal(t, int64(400), out.Delta)
}

func TestPriceWipesOutBalance(t *testing.T) {
	out, err := Price(DefaultRules(), 100, 50, 0, 1, []int64{1000, 1000, 1000, 1001})
	require.NoError(t, err)
	require.True(t, out.Multiplier.Equal(decimal.RequireFromString("-4")))
	require.Equal(t, int64(-50), out.Delta)
	require.Zero(t, ApplyDelta(50, out.Delta))
}

func TestPriceRecoveryAtZero(t *testing.T) {
	rules := DefaultRules()
	out, err := Price(rules, 100, 0, 0, 1, []int64{1000, 2000})
	require.NoError(t, err)
	require.True(t, out.Recovery)
	require.Equal(t, rules.RecoveryGrant, out.Delta)

	_, err = Price(rules, 100, 0, 5, 0, nil)
	require.True(t, errors.Is(err, ErrInvalidMetrics))
}
