package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	cl "typebet/internal/cli"
	"typebet/internal/config"
	"typebet/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "tb",
		Short:        "TypeBet CLI: wager on your typing",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "TypeBet API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newBetCmd(&apiBase),
		newSettleCmd(&apiBase),
		newPracticeCmd(&apiBase),
		newRankCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newAttemptCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a TypeBet account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			name, err := promptOptional("Display name (optional)")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, email, password, name)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify email, then run `tb login`.")
				return nil
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				PlayerID:     session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to TypeBet",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				PlayerID:     session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newBetCmd(apiBase *string) *cobra.Command {
	var amount int64
	cmd := &cobra.Command{
		Use:   "bet",
		Short: "Place a wager and open a typing attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			if amount <= 0 {
				amount, err = promptInt64("Wager", 1)
				if err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).PlaceWager(ctx, sess.AccessToken, amount, uuid.NewString())
			if err != nil {
				return err
			}
			return renderWager(out)
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "wager amount")
	return cmd
}

func newSettleCmd(apiBase *string) *cobra.Command {
	var correct int64
	var accuracy float64
	var queueOnFailure bool
	cmd := &cobra.Command{
		Use:   "settle <attempt-id>",
		Short: "Submit typing results for a pending attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			attemptID := strings.TrimSpace(args[0])
			if !cmd.Flags().Changed("correct") {
				correct, err = promptInt64("Correct words", 0)
				if err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("accuracy") {
				accuracy, err = promptFloat("Accuracy (0-1]", 0, 1)
				if err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Settle(ctx, sess.AccessToken, attemptID, correct, accuracy)
			if err == nil {
				return renderSettlement(out, "settlement")
			}

			var apiErr *cl.APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
				printWarn("Attempt was already settled. Original result:")
				return renderConflict(apiErr)
			}
			if queueOnFailure && (!errors.As(err, &apiErr) || apiErr.Retryable()) {
				if qerr := syncq.Push(syncq.Command{
					Method:         http.MethodPost,
					Path:           cl.SettlePath(attemptID),
					Body:           cl.SettleBody(correct, accuracy),
					IdempotencyKey: attemptID,
				}); qerr != nil {
					return fmt.Errorf("settle failed (%v) and queueing failed: %w", err, qerr)
				}
				printWarn("API unreachable. Settlement queued, run `tb sync` later.")
				return nil
			}
			return err
		},
	}
	cmd.Flags().Int64Var(&correct, "correct", 0, "correctly typed words")
	cmd.Flags().Float64Var(&accuracy, "accuracy", 0, "typing accuracy in (0, 1]")
	cmd.Flags().BoolVar(&queueOnFailure, "queue", true, "queue the settlement when the API is unreachable")
	return cmd
}

func renderConflict(apiErr *cl.APIError) error {
	raw, err := decodeInto[map[string]any](apiErr.Raw)
	result, _ := raw["result"].(map[string]any)
	if err != nil || result == nil {
		printInfo(apiErr.Msg)
		return nil
	}
	return renderSettlement(result, "original result")
}

func newPracticeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "practice",
		Short: "Record a finished practice round",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).CompletePractice(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			return renderPractice(out)
		},
	}
}

func newRankCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rank",
		Short: "Show your current rank",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Rank(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			return renderRank(out)
		},
	}
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "List players by rank",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Leaderboard(ctx, sess.AccessToken, limit, offset)
			if err != nil {
				return err
			}
			return renderLeaderboard(out)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "rows per page (max 100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newAttemptCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "attempt <attempt-id>",
		Short: "Show the outcome of one attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Attempt(ctx, sess.AccessToken, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return renderAttempt(out)
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay locally queued settlements",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			res, err := syncq.Drain(cmd.Context(), func(ctx context.Context, c syncq.Command) (syncq.Outcome, error) {
				ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()
				_, err := client.Do(ctx, c.Method, c.Path, sess.AccessToken, c.Body, c.IdempotencyKey)
				if err == nil {
					return syncq.Done, nil
				}
				var apiErr *cl.APIError
				if !errors.As(err, &apiErr) || apiErr.Retryable() {
					return syncq.Keep, err
				}
				if apiErr.Status == http.StatusConflict {
					return syncq.Done, nil
				}
				return syncq.Done, fmt.Errorf("%s %s: %w", c.Method, c.Path, err)
			})
			printSuccess(fmt.Sprintf("Synced %d command(s).", res.Sent))
			if res.Kept > 0 {
				printWarn(fmt.Sprintf("%d command(s) still queued.", res.Kept))
			}
			for _, c := range res.Dropped {
				printError(fmt.Sprintf("Dropped rejected command %s %s.", c.Method, c.Path))
			}
			return err
		},
	}
}
