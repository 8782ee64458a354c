package app_test

import (
	"context"
	"testing"

	"github.com/dkeye/commonroom/internal/adapters/bus"
	"github.com/dkeye/commonroom/internal/app"
	"github.com/dkeye/commonroom/internal/app/session"
	"github.com/dkeye/commonroom/internal/core"
	"github.com/stretchr/testify/require"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

func newSession(t *testing.T, id core.ConnID) *session.Session {
	t.Helper()
	d, err := session.NewDispatcher(session.NewPresence())
	require.NoError(t, err)
	b := bus.NewMemory()
	t.Cleanup(func() { b.Close() })
	return session.New(context.Background(), id, nopConn{}, b, d, session.Options{})
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("it should cancel a stale entry bound under the same id", func(t *testing.T) {
		r := app.NewRegistry()
		first := newSession(t, "c1")
		second := newSession(t, "c1")

		var canceled bool
		r.Bind("c1", first, func() { canceled = true })
		r.Bind("c1", second, func() {})
		require.True(t, canceled)

		r.Unbind("c1", first)
		got, ok := r.Get("c1")
		require.True(t, ok)
		require.Same(t, second, got)

		r.Unbind("c1", second)
		require.Equal(t, 0, r.Len())
	})

	t.Run("it should count connections in stats", func(t *testing.T) {
		r := app.NewRegistry()
		r.Bind("c1", newSession(t, "c1"), nil)
		r.Bind("c2", newSession(t, "c2"), nil)

		st := r.Stats()
		require.Equal(t, 2, st.Connections)
		require.Equal(t, 0, st.Authenticated)
		require.Empty(t, st.Rooms)
	})

	t.Run("it should cancel everything on shutdown", func(t *testing.T) {
		r := app.NewRegistry()
		n := 0
		r.Bind("c1", newSession(t, "c1"), func() { n++ })
		r.Bind("c2", newSession(t, "c2"), func() { n++ })

		require.Equal(t, 2, r.CancelAll())
		require.Equal(t, 2, n)
		require.True(t, r.Cancel("c1"))
		require.False(t, r.Cancel("missing"))
	})
}

func TestPolicyByName(t *testing.T) {
	t.Parallel()

	require.Equal(t, app.KickMember, app.PolicyByName("kick").OnBackPressure("c1"))
	require.Equal(t, app.DropFrame, app.PolicyByName("").OnBackPressure("c1"))
}
