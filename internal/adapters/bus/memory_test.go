package bus_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/dkeye/commonroom/internal/adapters/bus"
	"github.com/dkeye/commonroom/internal/core"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub core.Subscription) core.Message {
	t.Helper()
	select {
	case m, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return m
	case <-time.After(time.Second):
		t.Fatal("did not receive message")
	}
	return core.Message{}
}

func requireSilent(t *testing.T, sub core.Subscription) {
	t.Helper()
	select {
	case m := <-sub.Messages():
		t.Fatalf("unexpected message on %s", m.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("it should deliver to wildcard subscribers only", func(t *testing.T) {
		b := bus.NewMemory()
		defer b.Close()

		lobby, err := b.Subscribe(ctx, "room/lobby/+")
		require.NoError(t, err)
		other, err := b.Subscribe(ctx, "room/other/+")
		require.NoError(t, err)

		require.NoError(t, b.Publish(ctx, "room/lobby/leave", []byte(`{"user":"1"}`)))

		m := receive(t, lobby)
		require.Equal(t, "room/lobby/leave", m.Topic)
		require.JSONEq(t, `{"user":"1"}`, string(m.Payload))
		requireSilent(t, other)
	})

	t.Run("it should close the channel on unsubscribe", func(t *testing.T) {
		b := bus.NewMemory()
		defer b.Close()

		sub, err := b.Subscribe(ctx, "a/b")
		require.NoError(t, err)
		require.NoError(t, sub.Unsubscribe())
		require.NoError(t, sub.Unsubscribe())

		_, ok := <-sub.Messages()
		require.False(t, ok)
		require.NoError(t, b.Publish(ctx, "a/b", nil))
	})

	t.Run("it should not block on a slow subscriber", func(t *testing.T) {
		b := bus.NewMemory()
		defer b.Close()

		sub, err := b.Subscribe(ctx, "x")
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			for i := 0; i < 500; i++ {
				_ = b.Publish(ctx, "x", []byte(strconv.Itoa(i)))
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("publish blocked on slow subscriber")
		}

		for i := 0; i < 500; i++ {
			require.Equal(t, strconv.Itoa(i), string(receive(t, sub).Payload))
		}
		requireSilent(t, sub)
	})

	t.Run("it should reject wildcards in publish topics", func(t *testing.T) {
		b := bus.NewMemory()
		defer b.Close()

		require.ErrorIs(t, b.Publish(ctx, "room/+/leave", nil), bus.ErrInvalidTopic)
	})

	t.Run("it should refuse work once closed", func(t *testing.T) {
		b := bus.NewMemory()
		sub, err := b.Subscribe(ctx, "x")
		require.NoError(t, err)
		require.NoError(t, b.Close())

		_, ok := <-sub.Messages()
		require.False(t, ok)
		require.ErrorIs(t, b.Publish(ctx, "x", nil), core.ErrBusClosed)
		_, err = b.Subscribe(ctx, "x")
		require.ErrorIs(t, err, core.ErrBusClosed)
	})

	t.Run("it should publish json helpers", func(t *testing.T) {
		b := bus.NewMemory()
		defer b.Close()

		sub, err := b.Subscribe(ctx, "j")
		require.NoError(t, err)
		require.NoError(t, core.PublishJSON(ctx, b, "j", nil))
		require.JSONEq(t, `{}`, string(receive(t, sub).Payload))
	})
}
