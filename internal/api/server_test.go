package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"typebet/internal/accounts"
	"typebet/internal/config"
	"typebet/internal/game"

	"github.com/stretchr/testify/require"
)

const testPlayer = "0f8fad5b-d9cb-469f-a165-70867728950e"

type fakeAccounts struct{}

func (fakeAccounts) SignUp(_ context.Context, email, _ string) (accounts.Session, error) {
	return accounts.Session{AccessToken: "good", User: accounts.User{ID: testPlayer, Email: email}}, nil
}

func (fakeAccounts) Login(_ context.Context, email, password string) (accounts.Session, error) {
	if password != "pw" {
		return accounts.Session{}, fmt.Errorf("%w: status 400: bad credentials", accounts.ErrRejected)
	}
	return accounts.Session{AccessToken: "good", User: accounts.User{ID: testPlayer, Email: email}}, nil
}

func (fakeAccounts) VerifyAccessToken(_ context.Context, token string) (accounts.User, error) {
	if token != "good" {
		return accounts.User{}, accounts.ErrRejected
	}
	return accounts.User{ID: testPlayer, Email: "ada@example.com"}, nil
}

type fakeGame struct {
	ensured   []string
	wagers    []game.WagerInput
	active    map[string]bool
	settleErr error
	settled   game.Settlement
	leader    [2]int
}

func (f *fakeGame) EnsurePlayer(_ context.Context, playerID, _, _ string) error {
	f.ensured = append(f.ensured, playerID)
	return nil
}

func (f *fakeGame) SetPlayerActive(_ context.Context, playerID string, active bool) error {
	if f.active == nil {
		f.active = map[string]bool{}
	}
	f.active[playerID] = active
	return nil
}

func (f *fakeGame) PlaceWager(_ context.Context, in game.WagerInput) (game.WagerResult, error) {
	if err := game.DefaultRules().ValidateBet(in.Amount); err != nil {
		return game.WagerResult{}, err
	}
	f.wagers = append(f.wagers, in)
	return game.WagerResult{AttemptID: "a-1", Wager: in.Amount, BeforeBalance: 1000, Balance: 1000 - in.Amount}, nil
}

func (f *fakeGame) SettleAttempt(_ context.Context, in game.SettleInput) (game.Settlement, error) {
	return f.settled, f.settleErr
}

func (f *fakeGame) CompletePractice(context.Context, string) (game.PracticeResult, error) {
	return game.PracticeResult{Granted: 120, Balance: 120, Rank: 3}, nil
}

func (f *fakeGame) GetRank(_ context.Context, playerID string) (game.RankView, error) {
	return game.RankView{PlayerID: playerID, Rank: 4}, nil
}

func (f *fakeGame) Leaderboard(_ context.Context, limit, offset int) ([]game.LeaderboardRow, error) {
	f.leader = [2]int{limit, offset}
	return []game.LeaderboardRow{{Rank: 1, Name: "ada", Balance: 900}}, nil
}

func (f *fakeGame) AttemptResult(context.Context, string, string) (game.AttemptView, error) {
	return game.AttemptView{}, fmt.Errorf("wrapped: %w", game.ErrAttemptNotFound)
}

func newTestServer(g *fakeGame) *Server {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(config.APIConfig{InternalToken: "secret"}, logger, fakeAccounts{}, g)
}

func do(t *testing.T, s *Server, method, path, token, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(&fakeGame{})
	rec, body := do(t, s, http.MethodGet, "/v1/rank", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHENTICATED", body["code"])

	rec, _ = do(t, s, http.MethodGet, "/v1/rank", "bad", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = do(t, s, http.MethodGet, "/v1/rank", "good", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 4, body["rank"])
}

func TestLoginEnsuresPlayer(t *testing.T) {
	g := &fakeGame{}
	s := newTestServer(g)
	rec, _ := do(t, s, http.MethodPost, "/v1/auth/login", "", `{"email":"ada@example.com","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{testPlayer}, g.ensured)

	rec, body := do(t, s, http.MethodPost, "/v1/auth/login", "", `{"email":"ada@example.com","password":"nope"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHENTICATED", body["code"])
}

func TestPlaceWager(t *testing.T) {
	g := &fakeGame{}
	s := newTestServer(g)

	rec, body := do(t, s, http.MethodPost, "/v1/wagers", "good", `{"amount":400}`, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.EqualValues(t, 600, body["balance"])
	require.Equal(t, "k-1", g.wagers[0].IdempotencyKey)
	require.Equal(t, testPlayer, g.wagers[0].PlayerID)

	rec, body = do(t, s, http.MethodPost, "/v1/wagers", "good", `{"amount":50}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_BET", body["code"])

	rec, body = do(t, s, http.MethodPost, "/v1/wagers", "good", `{"amount":400,"extra":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_REQUEST", body["code"])
}

func TestSettleAttemptErrors(t *testing.T) {
	attempt := "/v1/attempts/7c9e6679-7425-40de-944b-e07fc1f90ae7/settle"
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "not owner", err: game.ErrNotOwner, status: http.StatusForbidden, code: "NOT_OWNER"},
		{name: "missing", err: game.ErrAttemptNotFound, status: http.StatusNotFound, code: "ATTEMPT_NOT_FOUND"},
		{name: "metrics", err: fmt.Errorf("%w: accuracy", game.ErrInvalidMetrics), status: http.StatusBadRequest, code: "INVALID_METRICS"},
		{name: "inactive", err: game.ErrPlayerInactive, status: http.StatusForbidden, code: "PLAYER_INACTIVE"},
		{name: "storage", err: fmt.Errorf("conn reset"), status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
		{name: "ledger", err: game.ErrLedgerInconsistent, status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(&fakeGame{settleErr: tc.err})
			rec, body := do(t, s, http.MethodPost, attempt, "good", `{"correct_count":10,"accuracy":0.9}`)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.code, body["code"])
		})
	}
}

func TestSettleAlreadySettledReturnsOriginal(t *testing.T) {
	g := &fakeGame{
		settleErr: game.ErrAttemptAlreadySettled,
		settled:   game.Settlement{AttemptID: "a-1", Score: 480, Delta: 400, AfterBalance: 1000},
	}
	s := newTestServer(g)
	rec, body := do(t, s, http.MethodPost, "/v1/attempts/7c9e6679-7425-40de-944b-e07fc1f90ae7/settle", "good", `{"correct_count":10,"accuracy":0.9}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "ATTEMPT_ALREADY_SETTLED", body["code"])
	result, ok := body["result"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 480, result["score"])
	require.EqualValues(t, 1000, result["after_balance"])
}

func TestMalformedAttemptID(t *testing.T) {
	s := newTestServer(&fakeGame{})
	rec, body := do(t, s, http.MethodGet, "/v1/attempts/not-a-uuid", "good", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_REQUEST", body["code"])

	rec, body = do(t, s, http.MethodGet, "/v1/attempts/7c9e6679-7425-40de-944b-e07fc1f90ae7", "good", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "ATTEMPT_NOT_FOUND", body["code"])
}

func TestLeaderboardQuery(t *testing.T) {
	g := &fakeGame{}
	s := newTestServer(g)
	rec, _ := do(t, s, http.MethodGet, "/v1/leaderboard?limit=25&offset=50", "good", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, [2]int{25, 50}, g.leader)

	rec, _ = do(t, s, http.MethodGet, "/v1/leaderboard?limit=ten", "good", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInternalActivation(t *testing.T) {
	g := &fakeGame{}
	s := newTestServer(g)
	path := "/v1/internal/players/" + testPlayer + "/deactivate"

	rec, _ := do(t, s, http.MethodPost, path, "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, s, http.MethodPost, path, "", "", "X-Internal-Token", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]bool{testPlayer: false}, g.active)
}

func TestStatusForCode(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, statusForCode(game.CodeInsufficientFunds))
	require.Equal(t, http.StatusNotFound, statusForCode(game.CodePlayerNotFound))
	require.Equal(t, http.StatusInternalServerError, statusForCode(game.CodeInternal))
}
