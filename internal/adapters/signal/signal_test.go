package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/commonroom/internal/adapters/bus"
	"github.com/dkeye/commonroom/internal/app"
	"github.com/dkeye/commonroom/internal/app/session"
	"github.com/dkeye/commonroom/internal/core"
	"github.com/dkeye/commonroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type noUsers struct{}

func (noUsers) Authenticate(context.Context, string, string) (*domain.Identity, error) {
	return nil, core.ErrInvalidCredentials
}
func (noUsers) BlockUser(context.Context, domain.UserID, domain.UserID) error   { return nil }
func (noUsers) UnblockUser(context.Context, domain.UserID, domain.UserID) error { return nil }

func startServer(t *testing.T) (*websocket.Conn, *app.Registry, core.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	b := bus.NewMemory()
	t.Cleanup(func() { b.Close() })
	disp, err := session.NewDispatcher(session.DefaultModules(noUsers{}, nil, false)...)
	require.NoError(t, err)
	reg := app.NewRegistry()
	ctl := NewSignalWSController(b, disp, reg, app.DropPolicy{}, Options{
		ReadLimit:  4096,
		PingPeriod: 50 * time.Millisecond,
		PongWait:   time.Second,
		SendBuffer: 16,
	}, session.Options{CloseGrace: time.Second})

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(c.Request.Context(), c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws, reg, b
}

func readType(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var env session.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env.Type
}

func TestHandleSignal(t *testing.T) {
	t.Parallel()

	t.Run("it should ask for authentication first", func(t *testing.T) {
		t.Parallel()
		ws, reg, _ := startServer(t)

		require.Equal(t, "authentication-required", readType(t, ws))
		require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 10*time.Millisecond)
	})

	t.Run("it should relay bus broadcasts and fail bad logins", func(t *testing.T) {
		t.Parallel()
		ws, _, b := startServer(t)
		require.Equal(t, "authentication-required", readType(t, ws))

		require.NoError(t, ws.WriteJSON(map[string]any{
			"type":    "authenticate",
			"payload": map[string]any{"email": "x@example.org", "token": "nope"},
		}))
		require.Equal(t, "authentication-failed", readType(t, ws))

		require.NoError(t, core.PublishJSON(context.Background(), b, core.TopicBroadcast, map[string]string{"message": "hi"}))
		require.Equal(t, "broadcast-message", readType(t, ws))
	})

	t.Run("it should unregister the session on disconnect", func(t *testing.T) {
		t.Parallel()
		ws, reg, _ := startServer(t)
		require.Equal(t, "authentication-required", readType(t, ws))

		require.NoError(t, ws.Close())
		require.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	})
}

func TestTrySendBackpressure(t *testing.T) {
	t.Parallel()

	c := &WsSignalConn{id: "c1", send: make(chan core.Frame, 1), policy: app.DropPolicy{}}
	require.NoError(t, c.TrySend(core.Frame("a")))
	require.ErrorIs(t, c.TrySend(core.Frame("b")), core.ErrBackpressure)
	require.Len(t, c.send, 1)
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	t.Run("it should allow everything when disabled", func(t *testing.T) {
		rl := NewRateLimiter(0, time.Second)
		for range 100 {
			require.True(t, rl.Allow("c1"))
		}
	})

	t.Run("it should block within the window and recover after", func(t *testing.T) {
		rl := NewRateLimiter(2, time.Second)
		base := time.Now()
		rl.now = func() time.Time { return base }

		require.True(t, rl.Allow("c1"))
		require.True(t, rl.Allow("c1"))
		require.False(t, rl.Allow("c1"))
		require.True(t, rl.Allow("c2"))

		rl.now = func() time.Time { return base.Add(2 * time.Second) }
		require.True(t, rl.Allow("c1"))

		rl.Forget("c1")
		rl.now = func() time.Time { return base }
		require.True(t, rl.Allow("c1"))
	})
}
