package syncq

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushAndLoad(t *testing.T) {
	t.Setenv("TB_HOME", t.TempDir())

	cmds, err := Load()
	require.NoError(t, err)
	require.Empty(t, cmds)

	require.NoError(t, Push(Command{Method: "POST", Path: "/v1/attempts/a/settle", IdempotencyKey: "k1"}))
	require.NoError(t, Push(Command{Method: "POST", Path: "/v1/attempts/b/settle", IdempotencyKey: "k2"}))

	cmds, err = Load()
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	require.Equal(t, "k1", cmds[0].IdempotencyKey)
	require.False(t, cmds[0].QueuedAt.IsZero())
}

func TestDrainKeepsRetryableAndDropsRejected(t *testing.T) {
	t.Setenv("TB_HOME", t.TempDir())
	for _, key := range []string{"ok", "offline", "rejected"} {
		require.NoError(t, Push(Command{Method: "POST", Path: "/x", IdempotencyKey: key}))
	}

	res, err := Drain(context.Background(), func(_ context.Context, c Command) (Outcome, error) {
		switch c.IdempotencyKey {
		case "offline":
			return Keep, errors.New("connection refused")
		case "rejected":
			return Done, errors.New("status 403")
		default:
			return Done, nil
		}
	})
	require.Error(t, err)
	require.Equal(t, 1, res.Sent)
	require.Equal(t, 1, res.Kept)
	require.Len(t, res.Dropped, 1)

	left, err := Load()
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "offline", left[0].IdempotencyKey)
}

func TestDrainStopsOnCancel(t *testing.T) {
	t.Setenv("TB_HOME", t.TempDir())
	require.NoError(t, Push(Command{IdempotencyKey: "a"}))
	require.NoError(t, Push(Command{IdempotencyKey: "b"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Drain(ctx, func(context.Context, Command) (Outcome, error) {
		t.Fatal("send must not run after cancel")
		return Done, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, res.Kept)

	left, err := Load()
	require.NoError(t, err)
	require.Len(t, left, 2)
}
