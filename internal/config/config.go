package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/matchcall/internal/domain"
)

type Config struct {
	Mode       string       `mapstructure:"mode" validate:"oneof=debug release test"`
	Port       int          `mapstructure:"port" validate:"gt=0,lt=65536"`
	StaticPath string       `mapstructure:"static_path"`
	Secret     string       `mapstructure:"secret" validate:"required"`
	Relay      RelayConfig  `mapstructure:"relay"`
	Caller     CallerConfig `mapstructure:"caller"`
}

type RelayConfig struct {
	ReadLimit    int64         `mapstructure:"read_limit" validate:"gt=0"`
	PingPeriod   time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	SendBuffer   int           `mapstructure:"send_buffer" validate:"gt=0"`
	RateLimit    int           `mapstructure:"rate_limit" validate:"gte=0"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	Broker       string        `mapstructure:"broker" validate:"oneof=memory redis"`
	RedisAddr    string        `mapstructure:"redis_addr" validate:"required_if=Broker redis"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls" validate:"required,min=1"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type ProfileConfig struct {
	DisplayName string `mapstructure:"display_name"`
	// Birthdate is YYYY-MM-DD.
	Birthdate string `mapstructure:"birthdate"`
	PhotoURL  string `mapstructure:"photo_url"`
}

type CallerConfig struct {
	RelayURL               string                   `mapstructure:"relay_url" validate:"required,url"`
	ICEServers             []ICEServer              `mapstructure:"ice_servers" validate:"dive"`
	ICEDisconnectedTimeout time.Duration            `mapstructure:"ice_disconnected_timeout"`
	ICEFailedTimeout       time.Duration            `mapstructure:"ice_failed_timeout"`
	Profiles               map[string]ProfileConfig `mapstructure:"profiles"`
}

// WebRTCICEServers converts the configured servers to pion's form.
func (c CallerConfig) WebRTCICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

// ProfileStore builds the static profile store the caller shows names from.
func (c CallerConfig) ProfileStore() (domain.StaticProfiles, error) {
	store := make(domain.StaticProfiles, len(c.Profiles))
	for id, p := range c.Profiles {
		uid, err := domain.NewUserID(id)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", id, err)
		}
		prof := domain.Profile{ID: uid, DisplayName: p.DisplayName, PhotoURL: p.PhotoURL}
		if p.Birthdate != "" {
			b, err := time.Parse(time.DateOnly, p.Birthdate)
			if err != nil {
				return nil, fmt.Errorf("profile %q birthdate: %w", id, err)
			}
			prof.Birthdate = &b
		}
		store[uid] = prof
	}
	return store, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "")
	v.SetDefault("secret", "matchcall-dev-secret")

	v.SetDefault("relay.read_limit", 32768)
	v.SetDefault("relay.ping_period", "54s")
	v.SetDefault("relay.send_buffer", 32)
	v.SetDefault("relay.rate_limit", 50)
	v.SetDefault("relay.rate_interval", "1s")
	v.SetDefault("relay.broker", "memory")
	v.SetDefault("relay.redis_addr", "")

	v.SetDefault("caller.relay_url", "ws://localhost:8080/api/ws/bus")
	v.SetDefault("caller.ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("caller.ice_disconnected_timeout", "5s")
	v.SetDefault("caller.ice_failed_timeout", "25s")
	v.SetDefault("caller.profiles", map[string]any{})
}

// Load reads config/config.<CONFIG_ENV>.yaml (CONFIG_ENV defaults to dev).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName if it exists, falling back to defaults when it
// does not. A file that exists but cannot be parsed is an error. MATCHCALL_
// environment variables override both, e.g. MATCHCALL_RELAY_BROKER=redis.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("MATCHCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var notFound viper.ConfigFileNotFoundError
	switch err := v.ReadInConfig(); {
	case err == nil:
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	case errors.Is(err, fs.ErrNotExist), errors.As(err, &notFound):
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	default:
		return nil, fmt.Errorf("read config %s: %w", fileName, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("broker", cfg.Relay.Broker).
		Msg("config ready")
	return &cfg, nil
}
