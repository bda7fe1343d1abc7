package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	Secret       string        `mapstructure:"secret"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	Backpressure string        `mapstructure:"backpressure"`
	RateLimit    RateLimit     `mapstructure:"rate_limit"`
	ICEServers   []ICEServer   `mapstructure:"ice_servers"`
	Push         Push          `mapstructure:"push"`
}

// RateLimit caps inbound messages per connection. Messages <= 0 disables it.
type RateLimit struct {
	Messages int           `mapstructure:"messages"`
	Interval time.Duration `mapstructure:"interval"`
}

// Push configures the Firebase Cloud Messaging sender. An empty
// CredentialsFile falls back to application default credentials.
type Push struct {
	Enabled         bool          `mapstructure:"enabled"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	ProjectID       string        `mapstructure:"project_id"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (CONFIG_ENV defaults to dev).
// A missing file is not an error; defaults and RELAY_* env vars apply.
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

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
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
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Int("ice_servers", len(cfg.ICEServers)).Bool("push", cfg.Push.Enabled).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "change-me")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("backpressure", "drop")
	v.SetDefault("rate_limit.messages", 200)
	v.SetDefault("rate_limit.interval", "1s")
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("push.enabled", false)
	v.SetDefault("push.credentials_file", "")
	v.SetDefault("push.project_id", "")
	v.SetDefault("push.timeout", "10s")
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.ReadLimit <= 0 {
		return errors.New("read_limit must be positive")
	}
	if c.SendBuffer <= 0 {
		return errors.New("send_buffer must be positive")
	}
	if c.WriteWait <= 0 {
		return errors.New("write_wait must be positive")
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping_period (%s) must be positive and below pong_wait (%s)", c.PingPeriod, c.PongWait)
	}
	switch c.Backpressure {
	case "drop", "kick":
	default:
		return fmt.Errorf("backpressure must be drop or kick, got %q", c.Backpressure)
	}
	if c.RateLimit.Messages > 0 && c.RateLimit.Interval <= 0 {
		return errors.New("rate_limit.interval must be positive when rate_limit.messages is set")
	}
	for i, s := range c.ICEServers {
		if err := s.validate(); err != nil {
			return fmt.Errorf("ice_servers[%d]: %w", i, err)
		}
	}
	if c.Push.Enabled {
		if c.Push.Timeout <= 0 {
			return errors.New("push.timeout must be positive when push is enabled")
		}
		if c.Push.CredentialsFile != "" {
			if _, err := os.Stat(c.Push.CredentialsFile); err != nil {
				return fmt.Errorf("push.credentials_file: %w", err)
			}
		}
	}
	return nil
}
