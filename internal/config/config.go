package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/soaringjerry/Malasakit/internal/logging"
	"github.com/soaringjerry/Malasakit/internal/utils"
)

// Config is the top-level configuration shared by the server and the respondent client.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Client   ClientConfig   `mapstructure:"client"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	StaticDir    string        `mapstructure:"static_dir"`
	StaticMaxAge time.Duration `mapstructure:"static_max_age"`
	CORSOrigins  string        `mapstructure:"cors_origins"`
	AdminToken   string        `mapstructure:"admin_token"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
	Commit       string        `mapstructure:"commit"`
	BuildTime    string        `mapstructure:"build_time"`
}

// DatabaseConfig holds server persistence settings.
type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	MigrationsDir string `mapstructure:"migrations_dir"`
	SeedPath      string `mapstructure:"seed_path"`
}

// AuthConfig holds respondent token settings.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// DefaultJWTSecret is used when auth.jwt_secret is unset. It is public, so
// anyone can mint respondent tokens for a server running with it.
const DefaultJWTSecret = "malasakit-dev-secret"

// InsecureSecret reports whether respondent tokens are signed with a secret
// that is empty or the public default.
func (a AuthConfig) InsecureSecret() bool {
	s := strings.TrimSpace(a.JWTSecret)
	return s == "" || s == DefaultJWTSecret
}

// LoggingConfig holds settings for the logger.
type LoggingConfig struct {
	Directory  string `mapstructure:"directory"`
	Level      string `mapstructure:"level"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// ClientConfig holds settings for the offline respondent client.
type ClientConfig struct {
	ServerURL        string        `mapstructure:"server_url"`
	StorePath        string        `mapstructure:"store_path"`
	Language         string        `mapstructure:"language"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	ResourceValidity time.Duration `mapstructure:"resource_validity"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.static_max_age", time.Hour)
	v.SetDefault("server.cors_origins", "*")
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 20)

	v.SetDefault("database.path", "data/malasakit.db")
	v.SetDefault("database.seed_path", "config/seed.yaml")

	v.SetDefault("auth.jwt_secret", DefaultJWTSecret)
	v.SetDefault("auth.token_ttl", 30*24*time.Hour)

	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 7)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.console", true)

	v.SetDefault("client.server_url", "http://127.0.0.1:8080")
	v.SetDefault("client.store_path", "data/respondent.db")
	v.SetDefault("client.language", "en")
	v.SetDefault("client.request_timeout", 5*time.Second)
	v.SetDefault("client.resource_validity", 12*time.Hour)
	v.SetDefault("client.refresh_interval", 12*time.Hour)
}

// Loader reads configuration from defaults, an optional YAML file and MALASAKIT_* env vars.
type Loader struct {
	v   *viper.Viper
	mu  sync.RWMutex
	cur *Config
}

// Load builds a Loader. configFile may be empty, in which case ./config/config.yaml
// is used when present.
func Load(configFile string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath("config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(utils.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return &Loader{v: v, cur: &cfg}, nil
}

// Current returns the most recently loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// Watch reloads the configuration whenever the backing file changes.
func (l *Loader) Watch(log *zap.Logger, onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Configuration file changed, reloading.", zap.String("file", e.Name))
		var cfg Config
		if err := l.v.Unmarshal(&cfg); err != nil {
			log.Error("Error reloading configuration", zap.Error(err))
			return
		}
		l.mu.Lock()
		l.cur = &cfg
		l.mu.Unlock()
		if onChange != nil {
			onChange(&cfg)
		}
	})
	l.v.WatchConfig()
}

// LoggerOptions converts the logging section for logging.New. name prefixes
// the log file names.
func (c LoggingConfig) LoggerOptions(name string) logging.Options {
	return logging.Options{
		Directory:  c.Directory,
		Name:       name,
		Level:      c.Level,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
		Console:    c.Console,
	}
}
