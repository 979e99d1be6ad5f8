package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"typebet/internal/game"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

type leaderboardPayload struct {
	Rows []game.LeaderboardRow `json:"rows"`
}

type settlementPayload struct {
	AttemptID    string  `json:"attempt_id"`
	Score        int64   `json:"score"`
	ZScore       float64 `json:"z_score"`
	Multiplier   *string `json:"multiplier"`
	Delta        int64   `json:"delta"`
	AfterBalance int64   `json:"after_balance"`
	Rank         int64   `json:"rank"`
	RankChange   int64   `json:"rank_change"`
	NextRankGap  *int64  `json:"next_rank_gap"`
	Recovery     bool    `json:"recovery"`
}

type attemptPayload struct {
	AttemptID     string             `json:"attempt_id"`
	Wager         int64              `json:"wager"`
	BeforeBalance int64              `json:"before_balance"`
	Settled       bool               `json:"settled"`
	Settlement    *settlementPayload `json:"settlement"`
	CurrentRank   int64              `json:"current_rank"`
	NextRankGap   *int64             `json:"next_rank_gap"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptPassword hides input on a terminal and falls back to a plain read
// when stdin is piped.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptFloat(label string, min, max float64) (float64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			printWarn("Enter a valid number.")
			continue
		}
		if v <= min || v > max {
			printWarn(fmt.Sprintf("Value must be in (%.2f, %.2f]", min, max))
			continue
		}
		return v, nil
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func renderWager(raw map[string]any) error {
	out, err := decodeInto[game.WagerResult](raw)
	if err != nil {
		return err
	}
	if out.Replayed {
		printWarn("Wager already placed with this key; nothing was debited again.")
	}
	accent.Println("\n== WAGER ==")
	fmt.Printf("Attempt:  %s\n", out.AttemptID)
	fmt.Printf("Wager:    %s\n", comma(out.Wager))
	fmt.Printf("Balance:  %s -> %s\n", comma(out.BeforeBalance), comma(out.Balance))
	fmt.Printf("Rank:     #%d\n\n", out.Rank)
	printInfo("Type, then run `tb settle " + out.AttemptID + "`.")
	return nil
}

func renderSettlement(raw any, title string) error {
	out, err := decodeInto[settlementPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== %s ==\n", strings.ToUpper(title))
	fmt.Printf("Score:       %s (z %+.2f)\n", comma(out.Score), out.ZScore)
	if out.Recovery {
		printSuccess("Recovery grant applied.")
	} else if out.Multiplier != nil {
		fmt.Printf("Multiplier:  x%s\n", *out.Multiplier)
	}
	fmt.Printf("Delta:       %s\n", colorizeDelta(out.Delta))
	fmt.Printf("Balance:     %s\n", comma(out.AfterBalance))
	fmt.Printf("Rank:        #%d %s\n", out.Rank, rankArrow(out.RankChange))
	renderGap(out.NextRankGap)
	fmt.Println()
	return nil
}

func renderAttempt(raw map[string]any) error {
	out, err := decodeInto[attemptPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== ATTEMPT ==")
	fmt.Printf("Attempt:     %s\n", out.AttemptID)
	fmt.Printf("Wager:       %s (balance before %s)\n", comma(out.Wager), comma(out.BeforeBalance))
	if !out.Settled || out.Settlement == nil {
		printWarn("Pending settlement.")
	} else {
		fmt.Printf("Score:       %s\n", comma(out.Settlement.Score))
		fmt.Printf("Delta:       %s\n", colorizeDelta(out.Settlement.Delta))
		fmt.Printf("Balance:     %s\n", comma(out.Settlement.AfterBalance))
	}
	fmt.Printf("Current:     #%d\n", out.CurrentRank)
	renderGap(out.NextRankGap)
	fmt.Println()
	return nil
}

func renderRank(raw map[string]any) error {
	out, err := decodeInto[game.RankView](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== RANK ==")
	fmt.Printf("Rank:     #%d of %d\n", out.Rank, out.Players)
	fmt.Printf("Balance:  %s\n", comma(out.Balance))
	renderGap(out.NextRankGap)
	fmt.Println()
	return nil
}

func renderPractice(raw map[string]any) error {
	out, err := decodeInto[game.PracticeResult](raw)
	if err != nil {
		return err
	}
	if out.Granted > 0 {
		printSuccess(fmt.Sprintf("Recovery grant: +%s", comma(out.Granted)))
	} else {
		printInfo("Practice complete. No grant, balance is above zero.")
	}
	fmt.Printf("Balance: %s  Rank: #%d\n", comma(out.Balance), out.Rank)
	return nil
}

func renderLeaderboard(raw map[string]any) error {
	out, err := decodeInto[leaderboardPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== LEADERBOARD ==")
	if len(out.Rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return nil
	}
	fmt.Printf("%-6s %-24s %12s\n", "RANK", "PLAYER", "BALANCE")
	for _, row := range out.Rows {
		fmt.Printf("%-6d %-24s %12s\n",
			row.Rank,
			truncate(row.Name, 24),
			comma(row.Balance),
		)
	}
	fmt.Println()
	return nil
}

func renderGap(gap *int64) {
	if gap == nil {
		printSuccess("You are at the top.")
		return
	}
	fmt.Printf("Next rank:   %s more\n", comma(*gap))
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizeDelta(v int64) string {
	text := comma(v)
	switch {
	case v > 0:
		return success.Sprint("+" + text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func rankArrow(change int64) string {
	switch {
	case change > 0:
		return success.Sprintf("(up %d)", change)
	case change < 0:
		return danger.Sprintf("(down %d)", -change)
	default:
		return ""
	}
}

func comma(v int64) string {
	if v < 0 {
		return "-" + comma(-v)
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
