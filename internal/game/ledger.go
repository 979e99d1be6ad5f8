package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ledgerLockKey is the advisory lock guarding typebet.rank_entries. Every
// rank mutation takes it transaction-scoped, so incremental shifts and the
// full reconcile never interleave.
const ledgerLockKey int64 = 0x74796265_0002

// Shift moves every rank in [From, To] by Delta in one set-based update.
type Shift struct {
	From  int64
	To    int64
	Delta int64
}

// Rows is the number of rank rows the shift must touch.
func (s Shift) Rows() int64 {
	if s.Delta == 0 || s.To < s.From {
		return 0
	}
	return s.To - s.From + 1
}

// planInsert opens a slot at rank for a newcomer among count ranked players.
func planInsert(rank, count int64) Shift {
	return Shift{From: rank, To: count, Delta: 1}
}

// planRemove closes the gap left by removed among count ranked players
// (count includes the removed entry).
func planRemove(removed, count int64) Shift {
	return Shift{From: removed + 1, To: count, Delta: -1}
}

// planMove repositions one player from old to new. The mover's own row is
// never part of the range.
func planMove(old, new int64) Shift {
	switch {
	case new < old:
		return Shift{From: new, To: old - 1, Delta: 1}
	case new > old:
		return Shift{From: old + 1, To: new, Delta: -1}
	default:
		return Shift{}
	}
}

func lockLedgerTx(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return fmt.Errorf("rank ledger lock: %w", err)
	}
	return nil
}

func applyShiftTx(ctx context.Context, tx pgx.Tx, s Shift, excludePlayerID string) error {
	want := s.Rows()
	if want == 0 {
		return nil
	}
	cmd, err := tx.Exec(ctx, `
		UPDATE typebet.rank_entries
		SET rank = rank + $3, updated_at = now()
		WHERE rank BETWEEN $1 AND $2
		  AND player_id <> $4
	`, s.From, s.To, s.Delta, excludePlayerID)
	if err != nil {
		return err
	}
	if got := cmd.RowsAffected(); got != want {
		return fmt.Errorf("%w: shift [%d,%d] by %d touched %d rows, want %d", ErrLedgerInconsistent, s.From, s.To, s.Delta, got, want)
	}
	return nil
}

// rankAheadTx counts ranked players ordered before (balance, playerID) under
// the ledger order: balance descending, then player id ascending.
func rankAheadTx(ctx context.Context, tx pgx.Tx, playerID string, balance int64) (int64, error) {
	var ahead int64
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM typebet.rank_entries r
		JOIN typebet.players p ON p.id = r.player_id
		WHERE r.player_id <> $1
		  AND (p.balance > $2 OR (p.balance = $2 AND p.id < $1))
	`, playerID, balance).Scan(&ahead)
	return ahead, err
}

func rankCountTx(ctx context.Context, tx pgx.Tx) (int64, error) {
	var n int64
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM typebet.rank_entries`).Scan(&n)
	return n, err
}

// insertRankTx gives an active player its rank entry. The player row must
// already be locked by the caller. A player that is already ranked keeps
// its rank.
func insertRankTx(ctx context.Context, tx pgx.Tx, playerID string) (int64, error) {
	if err := lockLedgerTx(ctx, tx); err != nil {
		return 0, err
	}
	var existing int64
	err := tx.QueryRow(ctx, `SELECT rank FROM typebet.rank_entries WHERE player_id = $1`, playerID).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	var balance int64
	if err := tx.QueryRow(ctx, `SELECT balance FROM typebet.players WHERE id = $1`, playerID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrPlayerNotFound
		}
		return 0, err
	}
	count, err := rankCountTx(ctx, tx)
	if err != nil {
		return 0, err
	}
	ahead, err := rankAheadTx(ctx, tx, playerID, balance)
	if err != nil {
		return 0, err
	}
	rank := ahead + 1
	if err := applyShiftTx(ctx, tx, planInsert(rank, count), playerID); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO typebet.rank_entries (player_id, rank)
		VALUES ($1, $2)
	`, playerID, rank); err != nil {
		return 0, err
	}
	return rank, nil
}

// updateRankTx repairs the ledger after playerID's balance changed. An
// active player without an entry is inserted; an inactive one is ignored.
func updateRankTx(ctx context.Context, tx pgx.Tx, playerID string) (RankMove, error) {
	if err := lockLedgerTx(ctx, tx); err != nil {
		return RankMove{}, err
	}
	var old, balance int64
	err := tx.QueryRow(ctx, `
		SELECT r.rank, p.balance
		FROM typebet.rank_entries r
		JOIN typebet.players p ON p.id = r.player_id
		WHERE r.player_id = $1
	`, playerID).Scan(&old, &balance)
	if errors.Is(err, pgx.ErrNoRows) {
		var active bool
		if err := tx.QueryRow(ctx, `SELECT is_active FROM typebet.players WHERE id = $1`, playerID).Scan(&active); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return RankMove{}, ErrPlayerNotFound
			}
			return RankMove{}, err
		}
		if !active {
			return RankMove{}, nil
		}
		rank, err := insertRankTx(ctx, tx, playerID)
		if err != nil {
			return RankMove{}, err
		}
		return RankMove{Old: 0, New: rank}, nil
	}
	if err != nil {
		return RankMove{}, err
	}

	ahead, err := rankAheadTx(ctx, tx, playerID, balance)
	if err != nil {
		return RankMove{}, err
	}
	move := RankMove{Old: old, New: ahead + 1}
	if move.New == move.Old {
		return move, nil
	}
	shift := planMove(move.Old, move.New)
	if err := applyShiftTx(ctx, tx, shift, playerID); err != nil {
		return RankMove{}, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE typebet.rank_entries
		SET rank = $2, updated_at = now()
		WHERE player_id = $1
	`, playerID, move.New); err != nil {
		return RankMove{}, err
	}
	move.Touched = shift.Rows()
	return move, nil
}

// removeRankTx drops playerID from the ledger and closes the gap. It returns
// the removed rank, or 0 when the player was not ranked.
func removeRankTx(ctx context.Context, tx pgx.Tx, playerID string) (int64, error) {
	if err := lockLedgerTx(ctx, tx); err != nil {
		return 0, err
	}
	count, err := rankCountTx(ctx, tx)
	if err != nil {
		return 0, err
	}
	var removed int64
	err = tx.QueryRow(ctx, `
		DELETE FROM typebet.rank_entries
		WHERE player_id = $1
		RETURNING rank
	`, playerID).Scan(&removed)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if err := applyShiftTx(ctx, tx, planRemove(removed, count), playerID); err != nil {
		return 0, err
	}
	return removed, nil
}

// ReconcileRanks recomputes every rank from scratch. It holds the ledger lock
// for the whole transaction, so no incremental update runs concurrently.
func (s *Service) ReconcileRanks(ctx context.Context) (ReconcileReport, error) {
	var out ReconcileReport
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return out, err
	}
	defer tx.Rollback(ctx)

	if err := lockLedgerTx(ctx, tx); err != nil {
		return out, err
	}
	cmd, err := tx.Exec(ctx, `
		DELETE FROM typebet.rank_entries r
		USING typebet.players p
		WHERE p.id = r.player_id AND NOT p.is_active
	`)
	if err != nil {
		return out, err
	}
	out.Removed = cmd.RowsAffected()

	cmd, err = tx.Exec(ctx, `
		WITH ordered AS (
			SELECT id, ROW_NUMBER() OVER (ORDER BY balance DESC, id ASC) AS rn
			FROM typebet.players
			WHERE is_active
		)
		INSERT INTO typebet.rank_entries (player_id, rank)
		SELECT id, rn FROM ordered
		ON CONFLICT (player_id) DO UPDATE
		SET rank = EXCLUDED.rank, updated_at = now()
		WHERE typebet.rank_entries.rank IS DISTINCT FROM EXCLUDED.rank
	`)
	if err != nil {
		return out, err
	}
	out.Repaired = cmd.RowsAffected()

	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM typebet.rank_entries`).Scan(&out.Ranked); err != nil {
		return out, err
	}
	if err := tx.Commit(ctx); err != nil {
		return out, err
	}
	s.log.Info("rank reconcile complete", "ranked", out.Ranked, "repaired", out.Repaired, "removed", out.Removed)
	return out, nil
}

// CheckRanks verifies the dense-rank invariant without modifying anything.
func (s *Service) CheckRanks(ctx context.Context) (LedgerHealth, error) {
	var h LedgerHealth
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM typebet.players WHERE is_active),
			COUNT(r.player_id),
			COUNT(DISTINCT r.rank),
			COALESCE(MIN(r.rank), 0),
			COALESCE(MAX(r.rank), 0),
			COUNT(r.player_id) FILTER (WHERE NOT p.is_active)
		FROM typebet.rank_entries r
		JOIN typebet.players p ON p.id = r.player_id
	`).Scan(&h.ActivePlayers, &h.Entries, &h.DistinctRanks, &h.MinRank, &h.MaxRank, &h.InactiveEntries)
	if err != nil {
		return h, err
	}
	h.Dense = h.Entries == h.ActivePlayers &&
		h.DistinctRanks == h.Entries &&
		h.InactiveEntries == 0 &&
		(h.Entries == 0 || (h.MinRank == 1 && h.MaxRank == h.Entries))
	return h, nil
}
