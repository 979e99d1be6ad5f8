package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Command is a request that could not reach the API and waits for replay.
// Settlements are idempotent server-side, so replaying one twice is safe.
type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	QueuedAt       time.Time      `json:"queued_at"`
}

// Outcome classifies one replay attempt.
type Outcome int

const (
	// Done removes the command from the queue.
	Done Outcome = iota
	// Keep leaves the command queued for the next sync.
	Keep
)

type Result struct {
	Sent    int
	Kept    int
	Dropped []Command
}

func queuePath() (string, error) {
	dir := strings.TrimSpace(os.Getenv("TB_HOME"))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".tb")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return Save(commands)
}

// Drain replays every queued command in order through send. Keep leaves a
// command queued; Done with an error drops it as permanently rejected. All
// send errors are joined into the returned error. Cancellation stops the
// drain and keeps the rest.
func Drain(ctx context.Context, send func(context.Context, Command) (Outcome, error)) (Result, error) {
	var res Result
	commands, err := Load()
	if err != nil {
		return res, err
	}
	remaining := make([]Command, 0, len(commands))
	var errs []error
	for i, cmd := range commands {
		if ctx.Err() != nil {
			remaining = append(remaining, commands[i:]...)
			res.Kept += len(commands) - i
			errs = append(errs, ctx.Err())
			break
		}
		outcome, err := send(ctx, cmd)
		if err != nil {
			errs = append(errs, err)
		}
		if outcome == Keep {
			remaining = append(remaining, cmd)
			res.Kept++
			continue
		}
		if err != nil {
			res.Dropped = append(res.Dropped, cmd)
			continue
		}
		res.Sent++
	}
	if err := Save(remaining); err != nil {
		return res, err
	}
	return res, errors.Join(errs...)
}
