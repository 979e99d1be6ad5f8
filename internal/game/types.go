package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type WagerInput struct {
	PlayerID       string
	Amount         int64
	IdempotencyKey string
}

type WagerResult struct {
	AttemptID     string `json:"attempt_id"`
	Wager         int64  `json:"wager"`
	BeforeBalance int64  `json:"before_balance"`
	Balance       int64  `json:"balance"`
	Rank          int64  `json:"rank"`
	Replayed      bool   `json:"replayed,omitempty"`
}

type SettleInput struct {
	PlayerID     string
	AttemptID    string
	CorrectCount int64
	Accuracy     float64
}

type Settlement struct {
	AttemptID    string              `json:"attempt_id"`
	Score        int64               `json:"score"`
	ZScore       float64             `json:"z_score"`
	Multiplier   decimal.NullDecimal `json:"multiplier"`
	Delta        int64               `json:"delta"`
	AfterBalance int64               `json:"after_balance"`
	Rank         int64               `json:"rank"`
	RankChange   int64               `json:"rank_change"`
	NextRankGap  *int64              `json:"next_rank_gap"`
	Recovery     bool                `json:"recovery,omitempty"`
}

// RankMove is the effect of one incremental ledger update. Old is 0 when
// the player had no entry. Touched counts the other rows shifted.
type RankMove struct {
	Old     int64
	New     int64
	Touched int64
}

type RankView struct {
	PlayerID    string `json:"player_id"`
	Rank        int64  `json:"rank"`
	Balance     int64  `json:"balance"`
	Players     int64  `json:"players"`
	NextRankGap *int64 `json:"next_rank_gap"`
}

type LeaderboardRow struct {
	Rank     int64  `json:"rank"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Balance  int64  `json:"balance"`
}

type PracticeResult struct {
	Granted int64 `json:"granted"`
	Balance int64 `json:"balance"`
	Rank    int64 `json:"rank"`
}

type AttemptView struct {
	AttemptID     string      `json:"attempt_id"`
	Wager         int64       `json:"wager"`
	BeforeBalance int64       `json:"before_balance"`
	Settled       bool        `json:"settled"`
	Settlement    *Settlement `json:"settlement,omitempty"`
	CurrentRank   int64       `json:"current_rank"`
	NextRankGap   *int64      `json:"next_rank_gap"`
	CreatedAt     time.Time   `json:"created_at"`
	SettledAt     *time.Time  `json:"settled_at,omitempty"`
}

type ReconcileReport struct {
	Ranked   int64 `json:"ranked"`
	Repaired int64 `json:"repaired"`
	Removed  int64 `json:"removed"`
}

// LedgerHealth summarizes the rank table against the active player set.
type LedgerHealth struct {
	ActivePlayers   int64 `json:"active_players"`
	Entries         int64 `json:"entries"`
	DistinctRanks   int64 `json:"distinct_ranks"`
	MinRank         int64 `json:"min_rank"`
	MaxRank         int64 `json:"max_rank"`
	InactiveEntries int64 `json:"inactive_entries"`
	Dense           bool  `json:"dense"`
}
