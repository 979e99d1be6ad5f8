package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var playerNameRE = regexp.MustCompile(`^[a-zA-Z0-9_]{3,24}$`)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// ScoreSource supplies the historical score population used for z-scores.
type ScoreSource interface {
	FetchSettledScores(ctx context.Context, excludeAttemptID string) ([]int64, error)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Service struct {
	db     *pgxpool.Pool
	log    *slog.Logger
	rules  Rules
	scores ScoreSource
}

func NewService(db *pgxpool.Pool, logger *slog.Logger, rules Rules) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:     db,
		log:    logger,
		rules:  rules,
		scores: PGScoreSource{DB: db},
	}
}

// WithScoreSource replaces the population source.
func (s *Service) WithScoreSource(src ScoreSource) *Service {
	s.scores = src
	return s
}

func (s *Service) Rules() Rules {
	return s.rules
}

// PGScoreSource reads settled scores from typebet.attempts.
type PGScoreSource struct {
	DB querier
}

func (p PGScoreSource) FetchSettledScores(ctx context.Context, excludeAttemptID string) ([]int64, error) {
	rows, err := p.DB.Query(ctx, `
		SELECT score
		FROM typebet.attempts
		WHERE settled_at IS NOT NULL
		  AND id <> $1
	`, excludeAttemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var score int64
		if err := rows.Scan(&score); err != nil {
			return nil, err
		}
		out = append(out, score)
	}
	return out, rows.Err()
}

// EnsurePlayer creates the player on first sight with the starter balance
// and makes sure an active player holds a rank entry.
func (s *Service) EnsurePlayer(ctx context.Context, playerID, email, name string) error {
	name = strings.TrimSpace(name)
	if !playerNameRE.MatchString(name) {
		name = sanitizePlayerName(nameFromEmail(email))
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, `
		INSERT INTO typebet.players (id, email, name, balance)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, playerID, email, name, s.rules.StarterBalance)
	if err != nil {
		return err
	}
	created := cmd.RowsAffected() == 1

	if _, _, err := lockPlayerTx(ctx, tx, playerID); err != nil {
		return err
	}
	move, err := updateRankTx(ctx, tx, playerID)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if created {
		s.log.Info("player created", "player_id", playerID, "rank", move.New)
	}
	return nil
}

// SetPlayerActive moves a player between the active and inactive states,
// inserting or removing its rank entry.
func (s *Service) SetPlayerActive(ctx context.Context, playerID string, active bool) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, wasActive, err := lockPlayerTx(ctx, tx, playerID)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE typebet.players
		SET is_active = $2, updated_at = now()
		WHERE id = $1
	`, playerID, active); err != nil {
		return err
	}

	var rank int64
	if active {
		rank, err = insertRankTx(ctx, tx, playerID)
	} else {
		rank, err = removeRankTx(ctx, tx, playerID)
	}
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if wasActive != active {
		s.log.Info("player activity changed", "player_id", playerID, "active", active, "rank", rank)
	}
	return nil
}

func (s *Service) PlaceWager(ctx context.Context, in WagerInput) (WagerResult, error) {
	var out WagerResult
	if err := s.rules.ValidateBet(in.Amount); err != nil {
		return out, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return out, err
	}
	defer tx.Rollback(ctx)

	balance, active, err := lockPlayerTx(ctx, tx, in.PlayerID)
	if err != nil {
		return out, err
	}
	if !active {
		return out, ErrPlayerInactive
	}

	if key != "" {
		prior, found, err := attemptByKeyTx(ctx, tx, key)
		if err != nil {
			return out, err
		}
		if found {
			if prior.PlayerID != in.PlayerID {
				return out, ErrDuplicateIdempotency
			}
			rank, err := currentRank(ctx, tx, in.PlayerID)
			if err != nil {
				return out, err
			}
			return WagerResult{
				AttemptID:     prior.ID,
				Wager:         prior.Wager,
				BeforeBalance: prior.BeforeBalance,
				Balance:       balance,
				Rank:          rank,
				Replayed:      true,
			}, nil
		}
	}

	if balance < in.Amount {
		return out, fmt.Errorf("%w: balance %d is below wager %d", ErrInsufficientFunds, balance, in.Amount)
	}

	out.AttemptID = uuid.NewString()
	out.Wager = in.Amount
	out.BeforeBalance = balance
	out.Balance = balance - in.Amount
	if _, err := tx.Exec(ctx, `
		INSERT INTO typebet.attempts (id, player_id, wager, before_balance, idempotency_key)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`, out.AttemptID, in.PlayerID, in.Amount, balance, key); err != nil {
		if isUniqueViolation(err) {
			return WagerResult{}, ErrDuplicateIdempotency
		}
		return WagerResult{}, err
	}
	if err := setBalanceTx(ctx, tx, in.PlayerID, out.Balance); err != nil {
		return WagerResult{}, err
	}
	move, err := updateRankTx(ctx, tx, in.PlayerID)
	if err != nil {
		return WagerResult{}, err
	}
	out.Rank = move.New

	if err := tx.Commit(ctx); err != nil {
		return WagerResult{}, err
	}
	s.log.Info("wager placed",
		"player_id", in.PlayerID,
		"attempt_id", out.AttemptID,
		"wager", in.Amount,
		"balance", out.Balance,
		"rank", out.Rank,
	)
	return out, nil
}

// SettleAttempt prices a pending attempt, applies the balance change and
// repositions the player in the rank ledger, all in one transaction. A
// second settlement returns the stored result alongside
// ErrAttemptAlreadySettled.
func (s *Service) SettleAttempt(ctx context.Context, in SettleInput) (Settlement, error) {
	var out Settlement
	if err := ValidateMetrics(in.CorrectCount, in.Accuracy); err != nil {
		return out, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return out, err
	}
	defer tx.Rollback(ctx)

	a, err := loadAttempt(ctx, tx, in.AttemptID, true)
	if err != nil {
		return out, err
	}
	if a.PlayerID != in.PlayerID {
		return out, ErrNotOwner
	}
	if a.SettledAt != nil {
		stored := a.settlement()
		gap, err := nextRankGap(ctx, tx, *a.AfterBalance)
		if err != nil {
			return out, err
		}
		stored.NextRankGap = gap
		return stored, ErrAttemptAlreadySettled
	}

	balance, active, err := lockPlayerTx(ctx, tx, in.PlayerID)
	if err != nil {
		return out, err
	}
	if !active {
		return out, ErrPlayerInactive
	}

	population, err := s.scores.FetchSettledScores(ctx, a.ID)
	if err != nil {
		return out, fmt.Errorf("fetch score population: %w", err)
	}
	outcome, err := Price(s.rules, a.Wager, balance, in.CorrectCount, in.Accuracy, population)
	if err != nil {
		return out, err
	}
	after := ApplyDelta(balance, outcome.Delta)

	if err := setBalanceTx(ctx, tx, in.PlayerID, after); err != nil {
		return out, err
	}
	move, err := updateRankTx(ctx, tx, in.PlayerID)
	if err != nil {
		return out, err
	}

	out = Settlement{
		AttemptID:    a.ID,
		Score:        outcome.Score,
		ZScore:       outcome.ZScore,
		Multiplier:   decimal.NullDecimal{Decimal: outcome.Multiplier, Valid: !outcome.Recovery},
		Delta:        after - balance,
		AfterBalance: after,
		Rank:         move.New,
		RankChange:   rankChange(move.Old, move.New),
		Recovery:     outcome.Recovery,
	}
	cmd, err := tx.Exec(ctx, `
		UPDATE typebet.attempts
		SET score = $2,
		    z_score = $3,
		    multiplier = $4,
		    delta = $5,
		    after_balance = $6,
		    rank_before = $7,
		    rank_after = $8,
		    recovery = $9,
		    settled_at = now()
		WHERE id = $1 AND settled_at IS NULL
	`, a.ID, out.Score, out.ZScore, out.Multiplier, out.Delta, out.AfterBalance, move.Old, move.New, out.Recovery)
	if err != nil {
		return Settlement{}, err
	}
	if cmd.RowsAffected() != 1 {
		return Settlement{}, fmt.Errorf("settle attempt %s: updated %d rows", a.ID, cmd.RowsAffected())
	}
	gap, err := nextRankGap(ctx, tx, after)
	if err != nil {
		return Settlement{}, err
	}
	out.NextRankGap = gap

	if err := tx.Commit(ctx); err != nil {
		return Settlement{}, err
	}
	s.log.Info("attempt settled",
		"player_id", in.PlayerID,
		"attempt_id", a.ID,
		"score", out.Score,
		"z_score", out.ZScore,
		"delta", out.Delta,
		"balance", out.AfterBalance,
		"rank", out.Rank,
		"rank_change", out.RankChange,
		"shifted", move.Touched,
		"recovery", out.Recovery,
	)
	return out, nil
}

// CompletePractice grants the recovery amount to a player sitting at zero.
// Any other balance is left unchanged.
func (s *Service) CompletePractice(ctx context.Context, playerID string) (PracticeResult, error) {
	var out PracticeResult
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return out, err
	}
	defer tx.Rollback(ctx)

	balance, active, err := lockPlayerTx(ctx, tx, playerID)
	if err != nil {
		return out, err
	}
	if !active {
		return out, ErrPlayerInactive
	}
	out.Balance = balance
	if balance == 0 {
		out.Granted = s.rules.RecoveryGrant
		out.Balance = s.rules.RecoveryGrant
		if err := setBalanceTx(ctx, tx, playerID, out.Balance); err != nil {
			return PracticeResult{}, err
		}
	}
	move, err := updateRankTx(ctx, tx, playerID)
	if err != nil {
		return PracticeResult{}, err
	}
	out.Rank = move.New
	if err := tx.Commit(ctx); err != nil {
		return PracticeResult{}, err
	}
	if out.Granted > 0 {
		s.log.Info("recovery granted", "player_id", playerID, "granted", out.Granted, "rank", out.Rank)
	}
	return out, nil
}

func (s *Service) GetRank(ctx context.Context, playerID string) (RankView, error) {
	out := RankView{PlayerID: playerID}
	err := s.db.QueryRow(ctx, `
		SELECT r.rank, p.balance, (SELECT COUNT(*) FROM typebet.rank_entries)
		FROM typebet.rank_entries r
		JOIN typebet.players p ON p.id = r.player_id
		WHERE r.player_id = $1
	`, playerID).Scan(&out.Rank, &out.Balance, &out.Players)
	if errors.Is(err, pgx.ErrNoRows) {
		var active bool
		if err := s.db.QueryRow(ctx, `SELECT is_active FROM typebet.players WHERE id = $1`, playerID).Scan(&active); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return out, ErrPlayerNotFound
			}
			return out, err
		}
		if !active {
			return out, ErrPlayerInactive
		}
		return out, fmt.Errorf("%w: active player %s has no rank entry", ErrLedgerInconsistent, playerID)
	}
	if err != nil {
		return out, err
	}
	out.NextRankGap, err = nextRankGap(ctx, s.db, out.Balance)
	return out, err
}

// Leaderboard pages through the rank ledger. limit is clamped to
// [1, MaxLeaderboardLimit]; a non-positive limit means the default.
func (s *Service) Leaderboard(ctx context.Context, limit, offset int) ([]LeaderboardRow, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.db.Query(ctx, `
		SELECT r.rank, p.id::text, p.name, p.balance
		FROM typebet.rank_entries r
		JOIN typebet.players p ON p.id = r.player_id
		ORDER BY r.rank
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]LeaderboardRow, 0, limit)
	for rows.Next() {
		var r LeaderboardRow
		if err := rows.Scan(&r.Rank, &r.PlayerID, &r.Name, &r.Balance); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AttemptResult returns one of the player's attempts with its stored
// outcome and the player's current standing.
func (s *Service) AttemptResult(ctx context.Context, playerID, attemptID string) (AttemptView, error) {
	var out AttemptView
	a, err := loadAttempt(ctx, s.db, attemptID, false)
	if err != nil {
		return out, err
	}
	if a.PlayerID != playerID {
		return out, ErrNotOwner
	}
	out = AttemptView{
		AttemptID:     a.ID,
		Wager:         a.Wager,
		BeforeBalance: a.BeforeBalance,
		Settled:       a.SettledAt != nil,
		CreatedAt:     a.CreatedAt,
		SettledAt:     a.SettledAt,
	}
	if out.Settled {
		st := a.settlement()
		out.Settlement = &st
	}

	var balance int64
	err = s.db.QueryRow(ctx, `
		SELECT COALESCE(r.rank, 0), p.balance
		FROM typebet.players p
		LEFT JOIN typebet.rank_entries r ON r.player_id = p.id
		WHERE p.id = $1
	`, playerID).Scan(&out.CurrentRank, &balance)
	if err != nil {
		return out, err
	}
	out.NextRankGap, err = nextRankGap(ctx, s.db, balance)
	return out, err
}

type attemptRow struct {
	ID            string
	PlayerID      string
	Wager         int64
	BeforeBalance int64
	Score         *int64
	ZScore        *float64
	Multiplier    decimal.NullDecimal
	Delta         *int64
	AfterBalance  *int64
	RankBefore    *int64
	RankAfter     *int64
	Recovery      bool
	SettledAt     *time.Time
	CreatedAt     time.Time
}

func (a attemptRow) settlement() Settlement {
	st := Settlement{
		AttemptID:  a.ID,
		Multiplier: a.Multiplier,
		Recovery:   a.Recovery,
	}
	if a.Score != nil {
		st.Score = *a.Score
	}
	if a.ZScore != nil {
		st.ZScore = *a.ZScore
	}
	if a.Delta != nil {
		st.Delta = *a.Delta
	}
	if a.AfterBalance != nil {
		st.AfterBalance = *a.AfterBalance
	}
	var before, after int64
	if a.RankBefore != nil {
		before = *a.RankBefore
	}
	if a.RankAfter != nil {
		after = *a.RankAfter
	}
	st.Rank = after
	st.RankChange = rankChange(before, after)
	return st
}

const attemptColumns = `
	id::text, player_id::text, wager, before_balance, score, z_score, multiplier,
	delta, after_balance, rank_before, rank_after, recovery, settled_at, created_at
`

func scanAttempt(row pgx.Row) (attemptRow, error) {
	var a attemptRow
	err := row.Scan(
		&a.ID, &a.PlayerID, &a.Wager, &a.BeforeBalance, &a.Score, &a.ZScore, &a.Multiplier,
		&a.Delta, &a.AfterBalance, &a.RankBefore, &a.RankAfter, &a.Recovery, &a.SettledAt, &a.CreatedAt,
	)
	return a, err
}

func loadAttempt(ctx context.Context, q querier, attemptID string, forUpdate bool) (attemptRow, error) {
	sql := `SELECT ` + attemptColumns + ` FROM typebet.attempts WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	a, err := scanAttempt(q.QueryRow(ctx, sql, attemptID))
	if errors.Is(err, pgx.ErrNoRows) {
		return a, ErrAttemptNotFound
	}
	return a, err
}

func attemptByKeyTx(ctx context.Context, tx pgx.Tx, key string) (attemptRow, bool, error) {
	a, err := scanAttempt(tx.QueryRow(ctx, `SELECT `+attemptColumns+` FROM typebet.attempts WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return a, false, nil
	}
	if err != nil {
		return a, false, err
	}
	return a, true, nil
}

func lockPlayerTx(ctx context.Context, tx pgx.Tx, playerID string) (balance int64, active bool, err error) {
	err = tx.QueryRow(ctx, `
		SELECT balance, is_active
		FROM typebet.players
		WHERE id = $1
		FOR UPDATE
	`, playerID).Scan(&balance, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, ErrPlayerNotFound
	}
	return balance, active, err
}

func setBalanceTx(ctx context.Context, tx pgx.Tx, playerID string, balance int64) error {
	if balance < 0 {
		return fmt.Errorf("refusing negative balance %d for player %s", balance, playerID)
	}
	_, err := tx.Exec(ctx, `
		UPDATE typebet.players
		SET balance = $2, updated_at = now()
		WHERE id = $1
	`, playerID, balance)
	return err
}

func currentRank(ctx context.Context, q querier, playerID string) (int64, error) {
	var rank int64
	err := q.QueryRow(ctx, `SELECT rank FROM typebet.rank_entries WHERE player_id = $1`, playerID).Scan(&rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return rank, err
}

// nextRankGap is the balance needed to reach the closest ranked player
// strictly above balance, or nil when nobody is richer.
func nextRankGap(ctx context.Context, q querier, balance int64) (*int64, error) {
	var above *int64
	err := q.QueryRow(ctx, `
		SELECT MIN(p.balance)
		FROM typebet.rank_entries r
		JOIN typebet.players p ON p.id = r.player_id
		WHERE p.balance > $1
	`, balance).Scan(&above)
	if err != nil || above == nil {
		return nil, err
	}
	gap := *above - balance
	return &gap, nil
}

// rankChange is positive when the player climbed. A player without a
// previous rank has no change.
func rankChange(old, new int64) int64 {
	if old == 0 || new == 0 {
		return 0
	}
	return old - new
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nameFromEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	at := strings.Index(email, "@")
	if at <= 0 {
		return "player"
	}
	return email[:at]
}

func sanitizePlayerName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
		if b.Len() >= 24 {
			break
		}
	}
	out := b.String()
	for len(out) < 3 {
		out += "_"
	}
	return out
}
