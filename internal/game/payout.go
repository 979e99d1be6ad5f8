package game

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// lossSurcharge is the extra fraction of the wager taken on every losing tier.
var lossSurcharge = decimal.RequireFromString("0.1")

type tier struct {
	MinZ       float64
	Multiplier decimal.Decimal
}

// payoutTiers is ordered from the highest threshold down; the first tier whose
// MinZ is <= z wins. floorMultiplier applies below the last tier.
var payoutTiers = []tier{
	{MinZ: 3.0, Multiplier: decimal.RequireFromString("3.0")},
	{MinZ: 2.5, Multiplier: decimal.RequireFromString("2.5")},
	{MinZ: 2.0, Multiplier: decimal.RequireFromString("2.0")},
	{MinZ: 1.5, Multiplier: decimal.RequireFromString("1.75")},
	{MinZ: 1.0, Multiplier: decimal.RequireFromString("1.5")},
	{MinZ: 0.5, Multiplier: decimal.RequireFromString("1.25")},
	{MinZ: 0.0, Multiplier: decimal.RequireFromString("1.0")},
	{MinZ: -0.5, Multiplier: decimal.RequireFromString("-1.0")},
	{MinZ: -1.0, Multiplier: decimal.RequireFromString("-1.5")},
	{MinZ: -1.5, Multiplier: decimal.RequireFromString("-2.0")},
	{MinZ: -2.0, Multiplier: decimal.RequireFromString("-2.5")},
	{MinZ: -2.5, Multiplier: decimal.RequireFromString("-3.0")},
}

var floorMultiplier = decimal.RequireFromString("-4.0")

// Score converts typing performance into points: floor(correct*10/accuracy).
func Score(correctCount int64, accuracy float64) (int64, error) {
	if err := ValidateMetrics(correctCount, accuracy); err != nil {
		return 0, err
	}
	raw := math.Floor(float64(correctCount) * 10 / accuracy)
	if raw > float64(MaxScore) {
		return 0, ErrInvalidMetrics
	}
	return int64(raw), nil
}

// ZScore places score within the historical population. An empty population
// and a population with zero spread are both neutral (z = 0).
func ZScore(score int64, population []int64) float64 {
	if len(population) == 0 {
		return 0
	}
	sd := stdev(population)
	if sd == 0 {
		return 0
	}
	return (float64(score) - median(population)) / sd
}

// Multiplier maps z onto the payout tier table.
func Multiplier(z float64) decimal.Decimal {
	for _, t := range payoutTiers {
		if z >= t.MinZ {
			return t.Multiplier
		}
	}
	return floorMultiplier
}

// BalanceDelta is the signed balance change of a settled wager. Losses are
// the multiplied wager plus the surcharge, capped at balance so the player is
// never driven negative.
func BalanceDelta(wager int64, multiplier decimal.Decimal, balance int64) int64 {
	w := decimal.NewFromInt(wager)
	if multiplier.Sign() >= 0 {
		return w.Mul(multiplier).Floor().IntPart()
	}
	baseLoss := w.Mul(multiplier.Abs()).Floor().IntPart()
	extraLoss := w.Mul(lossSurcharge).Floor().IntPart()
	totalLoss := baseLoss + extraLoss
	if totalLoss > balance {
		totalLoss = balance
	}
	if totalLoss < 0 {
		totalLoss = 0
	}
	return -totalLoss
}

// ApplyDelta returns balance+delta clamped at zero.
func ApplyDelta(balance, delta int64) int64 {
	next := balance + delta
	if next < 0 {
		return 0
	}
	return next
}

// Outcome is the pure result of pricing one settlement.
type Outcome struct {
	Score      int64
	ZScore     float64
	Multiplier decimal.Decimal
	Delta      int64
	Recovery   bool
}

// Price computes the settlement outcome of an attempt given the player's
// current balance and the population of earlier scores. A player sitting at
// zero receives the recovery grant instead of a tiered payout.
func Price(rules Rules, wager int64, balance int64, correctCount int64, accuracy float64, population []int64) (Outcome, error) {
	score, err := Score(correctCount, accuracy)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Score: score}
	if balance == 0 {
		out.Recovery = true
		out.Multiplier = decimal.Zero
		out.Delta = rules.RecoveryGrant
		return out, nil
	}
	out.ZScore = ZScore(score, population)
	out.Multiplier = Multiplier(out.ZScore)
	out.Delta = BalanceDelta(wager, out.Multiplier, balance)
	return out, nil
}

func median(values []int64) float64 {
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return (float64(sorted[n/2-1]) + float64(sorted[n/2])) / 2
}

// stdev is the sample standard deviation; a single observation is defined
// as 1.
func stdev(values []int64) float64 {
	n := len(values)
	if n < 2 {
		return 1
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	mean := sum / float64(n)
	var sq float64
	for _, v := range values {
		d := float64(v) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(n-1))
}
