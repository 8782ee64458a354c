package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/commonroom/internal/adapters/bus"
	"github.com/dkeye/commonroom/internal/app"
	"github.com/dkeye/commonroom/internal/app/rendezvous"
	"github.com/dkeye/commonroom/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func testRouter(t *testing.T) (*gin.Engine, *rendezvous.Broker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	b := bus.NewMemory()
	broker := rendezvous.New(b)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = broker.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		b.Close()
	})
	<-broker.Ready()

	cfg := &config.Config{Mode: "test", Secret: "test-secret", StaticPath: t.TempDir()}
	return SetupRouter(ctx, cfg, Deps{Broker: broker, Registry: app.NewRegistry()}), broker
}

func TestRouter(t *testing.T) {
	t.Parallel()

	t.Run("it should report health", func(t *testing.T) {
		t.Parallel()
		r, _ := testRouter(t)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Status string    `json:"status"`
			Stats  app.Stats `json:"stats"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, "ok", body.Status)
		require.Equal(t, 0, body.Stats.Connections)
	})

	t.Run("it should list video sessions without secrets", func(t *testing.T) {
		t.Parallel()
		r, broker := testRouter(t)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, broker.EnterNamedSession(ctx, "r1", "a", "Standup"))

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/video-sessions", nil))
		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"sessions":[{"id":"r1","subject":"Standup","members":["a"]}]}`, w.Body.String())
	})

	t.Run("it should hand out a client token cookie", func(t *testing.T) {
		t.Parallel()
		r, _ := testRouter(t)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		cookies := w.Result().Cookies()
		require.NotEmpty(t, cookies)
		require.Equal(t, sessionName, cookies[0].Name)
	})
}
