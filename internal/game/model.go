package game

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultMinBet         = int64(100)
	DefaultMaxBet         = int64(700)
	DefaultStarterBalance = int64(1000)
	DefaultRecoveryGrant  = int64(120)

	// MaxScore bounds a computed score so tiny accuracies cannot overflow int64.
	MaxScore = int64(1) << 53
)

// Code is the error code reported at the service boundary.
type Code string

const (
	CodeInvalidBet            Code = "INVALID_BET"
	CodeInsufficientFunds     Code = "INSUFFICIENT_FUNDS"
	CodeAttemptNotFound       Code = "ATTEMPT_NOT_FOUND"
	CodeAttemptAlreadySettled Code = "ATTEMPT_ALREADY_SETTLED"
	CodeNotOwner              Code = "NOT_OWNER"
	CodeInvalidMetrics        Code = "INVALID_METRICS"
	CodeUnauthenticated       Code = "UNAUTHENTICATED"
	CodePlayerInactive        Code = "PLAYER_INACTIVE"
	CodePlayerNotFound        Code = "PLAYER_NOT_FOUND"
	CodeInvalidRequest        Code = "INVALID_REQUEST"
	CodeInternal              Code = "INTERNAL_ERROR"
)

// Error is a domain failure tagged with its boundary code. Sentinels below
// are compared with errors.Is; wrapped detail is added with fmt.Errorf("%w: ...").
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

var (
	ErrInvalidBet            = &Error{Code: CodeInvalidBet, Msg: "invalid bet amount"}
	ErrInsufficientFunds     = &Error{Code: CodeInsufficientFunds, Msg: "insufficient funds"}
	ErrAttemptNotFound       = &Error{Code: CodeAttemptNotFound, Msg: "attempt not found"}
	ErrAttemptAlreadySettled = &Error{Code: CodeAttemptAlreadySettled, Msg: "attempt already settled"}
	ErrNotOwner              = &Error{Code: CodeNotOwner, Msg: "attempt belongs to another player"}
	ErrInvalidMetrics        = &Error{Code: CodeInvalidMetrics, Msg: "invalid performance metrics"}
	ErrUnauthenticated       = &Error{Code: CodeUnauthenticated, Msg: "unauthenticated"}
	ErrPlayerInactive        = &Error{Code: CodePlayerInactive, Msg: "player is not active"}
	ErrPlayerNotFound        = &Error{Code: CodePlayerNotFound, Msg: "player not found"}
	ErrDuplicateIdempotency  = &Error{Code: CodeNotOwner, Msg: "idempotency key already used by another player"}
	ErrInvalidRequest        = &Error{Code: CodeInvalidRequest, Msg: "invalid request"}

	// ErrLedgerInconsistent aborts a transaction whose rank shift touched an
	// unexpected number of rows. It is never returned to callers wrapped in a
	// domain code, so it surfaces as INTERNAL_ERROR.
	ErrLedgerInconsistent = errors.New("rank ledger inconsistent")
)

// CodeOf extracts the boundary code of err. Anything that is not a domain
// error is an internal error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Rules are the tunable economy constants.
type Rules struct {
	MinBet         int64
	MaxBet         int64
	StarterBalance int64
	RecoveryGrant  int64
}

func DefaultRules() Rules {
	return Rules{
		MinBet:         DefaultMinBet,
		MaxBet:         DefaultMaxBet,
		StarterBalance: DefaultStarterBalance,
		RecoveryGrant:  DefaultRecoveryGrant,
	}
}

func (r Rules) ValidateBet(amount int64) error {
	if amount < r.MinBet || amount > r.MaxBet {
		return fmt.Errorf("%w: bet must be between %d and %d", ErrInvalidBet, r.MinBet, r.MaxBet)
	}
	return nil
}

// ValidateMetrics rejects metrics that cannot produce a finite score.
// accuracy of exactly 0 is rejected because scoring divides by it.
func ValidateMetrics(correctCount int64, accuracy float64) error {
	if correctCount < 0 {
		return fmt.Errorf("%w: correct count must be >= 0", ErrInvalidMetrics)
	}
	if !(accuracy > 0 && accuracy <= 1) {
		return fmt.Errorf("%w: accuracy must be in (0, 1]", ErrInvalidMetrics)
	}
	return nil
}

// ParseID normalizes a player or attempt id.
func ParseID(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: malformed id %q", ErrInvalidRequest, raw)
	}
	return id.String(), nil
}
