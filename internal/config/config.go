package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds every tunable of the sync service.
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Poll    PollConfig    `mapstructure:"poll"`
	Search  SearchConfig  `mapstructure:"search"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	AMQP    AMQPConfig    `mapstructure:"amqp"`
	OTel    OTelConfig    `mapstructure:"otel"`
	Service ServiceConfig `mapstructure:"service"`
	Log     LogConfig     `mapstructure:"log"`
	Debug   DebugConfig   `mapstructure:"debug"`
}

type BackendConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
}

type PollConfig struct {
	InboxInterval     time.Duration `mapstructure:"inbox_interval"`
	ThreadMinInterval time.Duration `mapstructure:"thread_min_interval"`
	ThreadMaxInterval time.Duration `mapstructure:"thread_max_interval"`
}

type SearchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

type HTTPConfig struct {
	Port        string `mapstructure:"port"`
	BridgeToken string `mapstructure:"bridge_token"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type OTelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from an optional file and CHATSYNC_* env vars.
// An empty path searches ./configs for config.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("CHATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", "http://localhost:3000")
	v.SetDefault("backend.timeout", 15*time.Second)
	v.SetDefault("backend.username", "")
	v.SetDefault("backend.password", "")
	v.SetDefault("poll.inbox_interval", 10*time.Second)
	v.SetDefault("poll.thread_min_interval", 5*time.Second)
	v.SetDefault("poll.thread_max_interval", 10*time.Second)
	v.SetDefault("search.debounce", 500*time.Millisecond)
	v.SetDefault("http.port", "8083")
	v.SetDefault("http.bridge_token", "")
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "chat_sync")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("service.name", "chat-sync")
	v.SetDefault("service.environment", "local")
	v.SetDefault("log.level", "info")
	v.SetDefault("debug.enabled", false)
}

func (c *Config) validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	if c.Poll.InboxInterval <= 0 {
		return errors.New("poll.inbox_interval must be positive")
	}
	if c.Poll.ThreadMinInterval <= 0 || c.Poll.ThreadMaxInterval < c.Poll.ThreadMinInterval {
		return errors.Errorf("invalid thread poll range %s..%s", c.Poll.ThreadMinInterval, c.Poll.ThreadMaxInterval)
	}
	return nil
}
