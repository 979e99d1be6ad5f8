package game

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanMove(t *testing.T) {
	tests := []struct {
		old, new int64
		want     Shift
		rows     int64
	}{
		{old: 5, new: 5, want: Shift{}, rows: 0},
		{old: 5, new: 2, want: Shift{From: 2, To: 4, Delta: 1}, rows: 3},
		{old: 2, new: 5, want: Shift{From: 3, To: 5, Delta: -1}, rows: 3},
		{old: 2, new: 1, want: Shift{From: 1, To: 1, Delta: 1}, rows: 1},
		{old: 1, new: 2, want: Shift{From: 2, To: 2, Delta: -1}, rows: 1},
	}
	for _, tc := range tests {
		got := planMove(tc.old, tc.new)
		require.Equal(t, tc.want, got, "old=%d new=%d", tc.old, tc.new)
		require.Equal(t, tc.rows, got.Rows())
	}
}

func TestPlanInsertAndRemove(t *testing.T) {
	require.Equal(t, int64(0), planInsert(4, 3).Rows(), "appending at the bottom shifts nobody")
	require.Equal(t, int64(3), planInsert(1, 3).Rows())
	require.Equal(t, int64(0), planRemove(3, 3).Rows(), "removing the last rank shifts nobody")
	require.Equal(t, int64(2), planRemove(1, 3).Rows())
}

// memLedger mirrors the SQL ledger: entries keyed by player, shifts applied
// as range updates that skip the mover.
type memLedger struct {
	balance map[string]int64
	rank    map[string]int64
}

func newMemLedger() *memLedger {
	return &memLedger{balance: map[string]int64{}, rank: map[string]int64{}}
}

func (m *memLedger) ahead(id string, balance int64) int64 {
	var n int64
	for other := range m.rank {
		if other == id {
			continue
		}
		b := m.balance[other]
		if b > balance || (b == balance && other < id) {
			n++
		}
	}
	return n
}

func (m *memLedger) apply(s Shift, exclude string) int64 {
	var touched int64
	if s.Rows() == 0 {
		return 0
	}
	for id, r := range m.rank {
		if id != exclude && r >= s.From && r <= s.To {
			m.rank[id] = r + s.Delta
			touched++
		}
	}
	return touched
}

func (m *memLedger) insert(t *testing.T, id string, balance int64) {
	m.balance[id] = balance
	rank := m.ahead(id, balance) + 1
	s := planInsert(rank, int64(len(m.rank)))
	require.Equal(t, s.Rows(), m.apply(s, id))
	m.rank[id] = rank
}

func (m *memLedger) update(t *testing.T, id string, balance int64) RankMove {
	m.balance[id] = balance
	move := RankMove{Old: m.rank[id], New: m.ahead(id, balance) + 1}
	if move.Old == move.New {
		return move
	}
	s := planMove(move.Old, move.New)
	move.Touched = m.apply(s, id)
	require.Equal(t, s.Rows(), move.Touched)
	m.rank[id] = move.New
	return move
}

func (m *memLedger) remove(t *testing.T, id string) {
	removed := m.rank[id]
	count := int64(len(m.rank))
	delete(m.rank, id)
	s := planRemove(removed, count)
	require.Equal(t, s.Rows(), m.apply(s, id))
}

func (m *memLedger) requireDense(t *testing.T) {
	t.Helper()
	ranks := make([]int64, 0, len(m.rank))
	for _, r := range m.rank {
		ranks = append(ranks, r)
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i] < ranks[j] })
	for i, r := range ranks {
		require.Equal(t, int64(i+1), r, "ranks not dense: %v", ranks)
	}
}

func (m *memLedger) requireOrdered(t *testing.T) {
	t.Helper()
	ids := make([]string, 0, len(m.rank))
	for id := range m.rank {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		bi, bj := m.balance[ids[i]], m.balance[ids[j]]
		if bi != bj {
			return bi > bj
		}
		return ids[i] < ids[j]
	})
	for i, id := range ids {
		require.Equal(t, int64(i+1), m.rank[id], "player %s", id)
	}
}

func TestLedgerSwapTopTwo(t *testing.T) {
	m := newMemLedger()
	m.insert(t, "a", 1000)
	m.insert(t, "b", 500)
	require.Equal(t, int64(1), m.rank["a"])
	require.Equal(t, int64(2), m.rank["b"])

	move := m.update(t, "a", 400)
	require.Equal(t, RankMove{Old: 1, New: 2, Touched: 1}, move)
	require.Equal(t, int64(1), m.rank["b"])
	m.requireDense(t)
}

func TestLedgerTieBreakByID(t *testing.T) {
	m := newMemLedger()
	m.insert(t, "p2", 700)
	m.insert(t, "p1", 700)
	m.insert(t, "p3", 700)
	require.Equal(t, int64(1), m.rank["p1"])
	require.Equal(t, int64(2), m.rank["p2"])
	require.Equal(t, int64(3), m.rank["p3"])
}

func TestLedgerRandomWalkStaysDense(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := newMemLedger()
	for i := 0; i < 40; i++ {
		m.insert(t, fmt.Sprintf("p%02d", i), int64(rng.Intn(2000)))
	}
	m.requireDense(t)
	m.requireOrdered(t)

	inactive := map[string]bool{}
	for step := 0; step < 2000; step++ {
		id := fmt.Sprintf("p%02d", rng.Intn(40))
		switch {
		case inactive[id]:
			m.insert(t, id, m.balance[id])
			delete(inactive, id)
		case rng.Intn(20) == 0:
			m.remove(t, id)
			inactive[id] = true
		default:
			before := m.rank[id]
			move := m.update(t, id, int64(rng.Intn(2000)))
			require.Equal(t, before, move.Old)
			diff := move.Old - move.New
			if diff < 0 {
				diff = -diff
			}
			require.Equal(t, diff, move.Touched)
		}
		m.requireDense(t)
	}
	m.requireOrdered(t)
}
