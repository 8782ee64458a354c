package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/commonroom/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	WS       WSConfig       `mapstructure:"ws"`
	Session  SessionConfig  `mapstructure:"session"`
	Bus      BusConfig      `mapstructure:"bus"`
	Database DatabaseConfig `mapstructure:"database"`
	Avatars  AvatarsConfig  `mapstructure:"avatars"`
	Jitsi    JitsiConfig    `mapstructure:"jitsi"`

	// Rooms is the catalogue sent to clients on get-rooms-config.
	Rooms []domain.RoomInfo `mapstructure:"rooms"`
}

type WSConfig struct {
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	// Backpressure is "drop" or "kick".
	Backpressure string `mapstructure:"backpressure"`
}

type SessionConfig struct {
	CloseGrace time.Duration `mapstructure:"close_grace"`
}

type BusConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type AvatarsConfig struct {
	Prefix string `mapstructure:"prefix"`
}

type JitsiConfig struct {
	Enabled bool      `mapstructure:"enabled"`
	BaseURL string    `mapstructure:"base_url"`
	JWT     JWTConfig `mapstructure:"jwt"`
}

// JWTConfig signs video tickets. An empty Secret disables signing.
type JWTConfig struct {
	ApplicationID string        `mapstructure:"application_id"`
	ClientID      string        `mapstructure:"client_id"`
	Secret        string        `mapstructure:"secret"`
	TTL           time.Duration `mapstructure:"ttl"`
}

var ErrInvalidConfig = errors.New("invalid config")

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "change-me")

	v.SetDefault("ws.read_limit", 32768)
	v.SetDefault("ws.ping_period", "54s")
	v.SetDefault("ws.pong_wait", "60s")
	v.SetDefault("ws.send_buffer", 64)
	v.SetDefault("ws.rate_limit", 0)
	v.SetDefault("ws.rate_interval", "1s")
	v.SetDefault("ws.backpressure", "drop")

	v.SetDefault("session.close_grace", "2s")

	v.SetDefault("bus.driver", "memory")
	v.SetDefault("bus.url", "")

	v.SetDefault("database.path", "commonroom.db")
	v.SetDefault("avatars.prefix", "/avatars")

	v.SetDefault("jitsi.enabled", true)
	v.SetDefault("jitsi.base_url", "")
	v.SetDefault("jitsi.jwt.application_id", "commonroom")
	v.SetDefault("jitsi.jwt.client_id", "jitsi")
	v.SetDefault("jitsi.jwt.secret", "")
	v.SetDefault("jitsi.jwt.ttl", "1h")
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults.
// COMMONROOM_* environment variables override both.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("COMMONROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Str("bus", cfg.Bus.Driver).
		Int("rooms", len(cfg.Rooms)).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Port)
	}
	if c.WS.PongWait <= c.WS.PingPeriod {
		return fmt.Errorf("%w: ws.pong_wait must exceed ws.ping_period", ErrInvalidConfig)
	}
	if c.WS.SendBuffer <= 0 {
		return fmt.Errorf("%w: ws.send_buffer must be positive", ErrInvalidConfig)
	}
	if c.WS.RateLimit < 0 {
		return fmt.Errorf("%w: ws.rate_limit must not be negative", ErrInvalidConfig)
	}
	if c.WS.Backpressure != "drop" && c.WS.Backpressure != "kick" {
		return fmt.Errorf("%w: ws.backpressure %q", ErrInvalidConfig, c.WS.Backpressure)
	}
	seen := make(map[domain.RoomName]bool, len(c.Rooms))
	for _, r := range c.Rooms {
		if err := domain.ValidateRoomName(string(r.Slug)); err != nil {
			return fmt.Errorf("%w: rooms slug %q: %v", ErrInvalidConfig, r.Slug, err)
		}
		if seen[r.Slug] {
			return fmt.Errorf("%w: duplicate room %q", ErrInvalidConfig, r.Slug)
		}
		seen[r.Slug] = true
	}
	if c.Bus.Driver != "" && c.Bus.Driver != "memory" && c.Bus.URL == "" {
		return fmt.Errorf("%w: bus.url required for driver %s", ErrInvalidConfig, c.Bus.Driver)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
