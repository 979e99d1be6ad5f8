package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"typebet/internal/accounts"
	"typebet/internal/config"
	"typebet/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const userContextKey contextKey = "user"

// Accounts is the part of the account service the API depends on.
type Accounts interface {
	SignUp(ctx context.Context, email, password string) (accounts.Session, error)
	Login(ctx context.Context, email, password string) (accounts.Session, error)
	VerifyAccessToken(ctx context.Context, accessToken string) (accounts.User, error)
}

// Game is the settlement engine and rank ledger as seen by handlers.
type Game interface {
	EnsurePlayer(ctx context.Context, playerID, email, name string) error
	SetPlayerActive(ctx context.Context, playerID string, active bool) error
	PlaceWager(ctx context.Context, in game.WagerInput) (game.WagerResult, error)
	SettleAttempt(ctx context.Context, in game.SettleInput) (game.Settlement, error)
	CompletePractice(ctx context.Context, playerID string) (game.PracticeResult, error)
	GetRank(ctx context.Context, playerID string) (game.RankView, error)
	Leaderboard(ctx context.Context, limit, offset int) ([]game.LeaderboardRow, error)
	AttemptResult(ctx context.Context, playerID, attemptID string) (game.AttemptView, error)
}

type UserContext struct {
	PlayerID string
	Email    string
	Token    string
}

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	accounts Accounts
	game     Game
	mux      *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, accountsClient Accounts, gameSvc Game) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		accounts: accountsClient,
		game:     gameSvc,
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/wagers", s.handlePlaceWager)
			r.Post("/attempts/{id}/settle", s.handleSettleAttempt)
			r.Get("/attempts/{id}", s.handleAttemptResult)
			r.Post("/practice/complete", s.handlePracticeComplete)
			r.Get("/rank", s.handleRank)
			r.Get("/leaderboard", s.handleLeaderboard)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.internalMiddleware)
			r.Post("/internal/players/{id}/activate", s.handleSetActive(true))
			r.Post("/internal/players/{id}/deactivate", s.handleSetActive(false))
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeCodedError(w, http.StatusUnauthorized, game.CodeUnauthenticated, "missing bearer token")
			return
		}
		user, err := s.accounts.VerifyAccessToken(r.Context(), token)
		if err != nil {
			if !errors.Is(err, accounts.ErrRejected) {
				s.log.Warn("token verification failed", "request_id", middleware.GetReqID(r.Context()), "err", err)
			}
			writeCodedError(w, http.StatusUnauthorized, game.CodeUnauthenticated, "invalid token")
			return
		}
		playerID, err := game.ParseID(user.ID)
		if err != nil {
			writeCodedError(w, http.StatusUnauthorized, game.CodeUnauthenticated, "invalid token subject")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			PlayerID: playerID,
			Email:    user.Email,
			Token:    token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// internalMiddleware guards account-lifecycle hooks with a shared token.
// An unset token disables the routes.
func (s *Server) internalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.cfg.InternalToken
		got := strings.TrimSpace(r.Header.Get("X-Internal-Token"))
		if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
			writeCodedError(w, http.StatusUnauthorized, game.CodeUnauthenticated, "invalid internal token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.PlayerID == "" {
		return UserContext{}, game.ErrUnauthenticated
	}
	return user, nil
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeCodedError(w, http.StatusBadRequest, game.CodeInvalidRequest, err.Error())
		return
	}
	session, err := s.accounts.SignUp(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		s.writeAccountsError(w, r, http.StatusBadRequest, err)
		return
	}
	if session.User.ID != "" {
		if err := s.ensurePlayer(r.Context(), session.User, in.Name); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeCodedError(w, http.StatusBadRequest, game.CodeInvalidRequest, err.Error())
		return
	}
	session, err := s.accounts.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		s.writeAccountsError(w, r, http.StatusUnauthorized, err)
		return
	}
	if err := s.ensurePlayer(r.Context(), session.User, ""); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) ensurePlayer(ctx context.Context, user accounts.User, name string) error {
	playerID, err := game.ParseID(user.ID)
	if err != nil {
		return err
	}
	return s.game.EnsurePlayer(ctx, playerID, user.Email, name)
}

func (s *Server) handlePlaceWager(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeCodedError(w, http.StatusBadRequest, game.CodeInvalidRequest, err.Error())
		return
	}
	out, err := s.game.PlaceWager(r.Context(), game.WagerInput{
		PlayerID:       user.PlayerID,
		Amount:         in.Amount,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	status := http.StatusCreated
	if out.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, out)
}

func (s *Server) handleSettleAttempt(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	attemptID, err := game.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in struct {
		CorrectCount int64   `json:"correct_count"`
		Accuracy     float64 `json:"accuracy"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeCodedError(w, http.StatusBadRequest, game.CodeInvalidRequest, err.Error())
		return
	}
	out, err := s.game.SettleAttempt(r.Context(), game.SettleInput{
		PlayerID:     user.PlayerID,
		AttemptID:    attemptID,
		CorrectCount: in.CorrectCount,
		Accuracy:     in.Accuracy,
	})
	if errors.Is(err, game.ErrAttemptAlreadySettled) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  err.Error(),
			"code":   game.CodeAttemptAlreadySettled,
			"result": out,
		})
		return
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAttemptResult(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	attemptID, err := game.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out, err := s.game.AttemptResult(r.Context(), user.PlayerID, attemptID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePracticeComplete(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out, err := s.game.CompletePractice(r.Context(), user.PlayerID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out, err := s.game.GetRank(r.Context(), user.PlayerID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out, err := s.game.Leaderboard(r.Context(), limit, offset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": out})
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, err := game.ParseID(chi.URLParam(r, "id"))
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		if err := s.game.SetPlayerActive(r.Context(), playerID, active); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"player_id": playerID, "active": active})
	}
}

func statusForCode(code game.Code) int {
	switch code {
	case game.CodeInvalidBet, game.CodeInvalidMetrics, game.CodeInsufficientFunds, game.CodeInvalidRequest:
		return http.StatusBadRequest
	case game.CodeUnauthenticated:
		return http.StatusUnauthorized
	case game.CodeNotOwner, game.CodePlayerInactive:
		return http.StatusForbidden
	case game.CodeAttemptNotFound, game.CodePlayerNotFound:
		return http.StatusNotFound
	case game.CodeAttemptAlreadySettled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := game.CodeOf(err)
	status := statusForCode(code)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"err", err,
		)
		writeCodedError(w, status, game.CodeInternal, "internal error")
		return
	}
	writeCodedError(w, status, code, err.Error())
}

func (s *Server) writeAccountsError(w http.ResponseWriter, r *http.Request, rejectedStatus int, err error) {
	if errors.Is(err, accounts.ErrRejected) {
		writeCodedError(w, rejectedStatus, game.CodeUnauthenticated, err.Error())
		return
	}
	s.log.Error("account service failed", "request_id", middleware.GetReqID(r.Context()), "err", err)
	writeCodedError(w, http.StatusBadGateway, game.CodeInternal, "account service unavailable")
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeCodedError(w http.ResponseWriter, status int, code game.Code, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message), "code": code})
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, game.ErrInvalidRequest
	}
	return n, nil
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
