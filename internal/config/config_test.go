package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/commonroom/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	t.Run("it should fall back to defaults", func(t *testing.T) {
		cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)

		require.Equal(t, 8080, cfg.Port)
		require.Equal(t, 54*time.Second, cfg.WS.PingPeriod)
		require.Equal(t, 60*time.Second, cfg.WS.PongWait)
		require.Equal(t, 2*time.Second, cfg.Session.CloseGrace)
		require.Equal(t, "memory", cfg.Bus.Driver)
		require.Equal(t, time.Hour, cfg.Jitsi.JWT.TTL)
		require.Empty(t, cfg.Jitsi.JWT.Secret)
	})

	t.Run("it should read nested keys from yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.test.yaml")
		yaml := `
port: 9000
ws:
  send_buffer: 8
  rate_limit: 20
bus:
  driver: nats
  url: nats://localhost:4222
jitsi:
  base_url: https://meet.example.org
  jwt:
    secret: s3cret
    ttl: 10m
`
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		require.Equal(t, 9000, cfg.Port)
		require.Equal(t, 8, cfg.WS.SendBuffer)
		require.Equal(t, 20, cfg.WS.RateLimit)
		require.Equal(t, "nats", cfg.Bus.Driver)
		require.Equal(t, "https://meet.example.org", cfg.Jitsi.BaseURL)
		require.Equal(t, 10*time.Minute, cfg.Jitsi.JWT.TTL)
		require.Equal(t, ":9000", cfg.Addr())
	})

	t.Run("it should let the environment override", func(t *testing.T) {
		t.Setenv("COMMONROOM_PORT", "7000")
		t.Setenv("COMMONROOM_SESSION_CLOSE_GRACE", "5s")

		cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		require.Equal(t, 7000, cfg.Port)
		require.Equal(t, 5*time.Second, cfg.Session.CloseGrace)
	})

	t.Run("it should reject a remote bus without url", func(t *testing.T) {
		t.Setenv("COMMONROOM_BUS_DRIVER", "redis")

		_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("it should read the room catalogue", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.test.yaml")
		yaml := `
rooms:
  - slug: lobby
    label: Lobby
    map_url: /maps/lobby.json
    tilesets:
      - name: interior
        url: /tiles/interior.png
  - slug: garden
    label: Garden
    map_url: /maps/garden.json
`
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		require.Len(t, cfg.Rooms, 2)
		require.Equal(t, domain.RoomName("lobby"), cfg.Rooms[0].Slug)
		require.Equal(t, "/maps/lobby.json", cfg.Rooms[0].MapURL)
		require.Equal(t, []domain.Tileset{{Name: "interior", URL: "/tiles/interior.png"}}, cfg.Rooms[0].Tilesets)
		require.Equal(t, "Garden", cfg.Rooms[1].Label)
	})

	t.Run("it should reject duplicate or invalid room slugs", func(t *testing.T) {
		for _, yaml := range []string{
			"rooms:\n  - slug: lobby\n  - slug: lobby\n",
			"rooms:\n  - slug: a/b\n",
		} {
			path := filepath.Join(t.TempDir(), "config.test.yaml")
			require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

			_, err := LoadFile(path)
			require.ErrorIs(t, err, ErrInvalidConfig)
		}
	})
}
