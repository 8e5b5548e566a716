// Package config loads the engine, logging, metrics and chat settings from an
// optional file, DRAGONET_* environment variables and command line flags.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cyberinferno/dragonet/logger"
	"github.com/cyberinferno/dragonet/session"
	"github.com/cyberinferno/dragonet/tcpclient"
	"github.com/cyberinferno/dragonet/tcpserver"
)

// EnvPrefix prefixes every environment override, e.g. DRAGONET_SERVER_ADDRESS.
const EnvPrefix = "DRAGONET"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Chat history backends.
const (
	HistoryMemory = "memory"
	HistoryRedis  = "redis"
)

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Client  ClientConfig  `mapstructure:"client"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Chat    ChatConfig    `mapstructure:"chat"`
}

// ServerConfig configures a tcpserver.Server.
type ServerConfig struct {
	Name           string `mapstructure:"name"`
	Address        string `mapstructure:"address"`
	Backlog        int    `mapstructure:"backlog"`
	ReadBufferSize int    `mapstructure:"read_buffer_size"`
	MaxFrameSize   int    `mapstructure:"max_frame_size"`
	EventCapacity  int    `mapstructure:"event_capacity"`
}

// ClientConfig configures a tcpclient.Client.
type ClientConfig struct {
	Name           string        `mapstructure:"name"`
	Address        string        `mapstructure:"address"`
	ReadBufferSize int           `mapstructure:"read_buffer_size"`
	MaxFrameSize   int           `mapstructure:"max_frame_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LogConfig selects the logger built by Logger.
type LogConfig struct {
	// Level is one of zerolog's level names.
	Level string `mapstructure:"level"`

	// Dir enables daily rotated log files in this directory.
	Dir string `mapstructure:"dir"`

	// Console switches stdout output to the human readable format.
	Console bool `mapstructure:"console"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
}

// ChatConfig holds the chat example settings.
type ChatConfig struct {
	// History selects the backlog store: "memory" or "redis".
	History     string        `mapstructure:"history"`
	HistorySize int           `mapstructure:"history_size"`
	HistoryTTL  time.Duration `mapstructure:"history_ttl"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	RedisKey    string        `mapstructure:"redis_key"`
	Username    string        `mapstructure:"username"`
}

// Default returns the built-in defaults.
func Default() Config {
	server := tcpserver.DefaultServerConfig("0.0.0.0:25565")
	client := tcpclient.DefaultClientConfig("127.0.0.1:25565")

	return Config{
		Server: ServerConfig{
			Name:           server.Name,
			Address:        server.Address,
			Backlog:        server.Backlog,
			ReadBufferSize: server.ReadBufferSize,
			MaxFrameSize:   server.MaxFrameSize,
			EventCapacity:  server.EventCapacity,
		},
		Client: ClientConfig{
			Name:           client.Name,
			Address:        client.Address,
			ReadBufferSize: client.ReadBufferSize,
			MaxFrameSize:   client.MaxFrameSize,
			ConnectTimeout: client.ConnectTimeout,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Address:   "127.0.0.1:9100",
			Namespace: "dragonet",
		},
		Chat: ChatConfig{
			History:     HistoryMemory,
			HistorySize: 50,
			HistoryTTL:  time.Hour,
			RedisAddr:   "127.0.0.1:6379",
			RedisKey:    "dragonet:chat:history",
			Username:    "anonymous",
		},
	}
}

// Loader collects the configuration sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a Loader with the defaults and environment overrides
// registered.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	defaults := map[string]any{
		"server.name":             d.Server.Name,
		"server.address":          d.Server.Address,
		"server.backlog":          d.Server.Backlog,
		"server.read_buffer_size": d.Server.ReadBufferSize,
		"server.max_frame_size":   d.Server.MaxFrameSize,
		"server.event_capacity":   d.Server.EventCapacity,
		"client.name":             d.Client.Name,
		"client.address":          d.Client.Address,
		"client.read_buffer_size": d.Client.ReadBufferSize,
		"client.max_frame_size":   d.Client.MaxFrameSize,
		"client.connect_timeout":  d.Client.ConnectTimeout,
		"log.level":               d.Log.Level,
		"log.dir":                 d.Log.Dir,
		"log.console":             d.Log.Console,
		"metrics.enabled":         d.Metrics.Enabled,
		"metrics.address":         d.Metrics.Address,
		"metrics.namespace":       d.Metrics.Namespace,
		"chat.history":            d.Chat.History,
		"chat.history_size":       d.Chat.HistorySize,
		"chat.history_ttl":        d.Chat.HistoryTTL,
		"chat.redis_addr":         d.Chat.RedisAddr,
		"chat.redis_key":          d.Chat.RedisKey,
		"chat.username":           d.Chat.Username,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	return &Loader{v: v}
}

// BindFlag makes a command line flag override key when the flag is set.
//
// Parameters:
//   - key: The dotted configuration key, e.g. "server.address"
//   - flag: The flag to bind; nil is ignored
//
// Returns:
//   - An error if viper rejects the binding
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return nil
	}

	if err := l.v.BindPFlag(key, flag); err != nil {
		return errors.Wrapf(err, "bind flag %s", flag.Name)
	}

	return nil
}

// Load reads the optional file at path, applies environment and flag
// overrides, and validates the result.
//
// Parameters:
//   - path: A YAML, TOML or JSON file; empty skips the file
//
// Returns:
//   - The validated configuration
//   - An error if the file cannot be read or a value is invalid
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		extension := "yaml"
		if s := strings.Split(path, "."); len(s) > 1 {
			extension = s[len(s)-1]
		}
		l.v.SetConfigType(extension)
		l.v.SetConfigFile(path)

		if err := l.v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var c Config
	if err := l.v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Load is a shorthand for NewLoader().Load(path).
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Validate checks values that would otherwise fail late. Missing addresses
// are left to the engines, which report them before entering their loops.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(ErrInvalid, "log.level: %v", err)
	}

	for key, size := range map[string]int{
		"server.read_buffer_size": c.Server.ReadBufferSize,
		"server.backlog":          c.Server.Backlog,
		"server.event_capacity":   c.Server.EventCapacity,
		"client.read_buffer_size": c.Client.ReadBufferSize,
	} {
		if size < 0 {
			return errors.Wrapf(ErrInvalid, "%s must not be negative", key)
		}
	}

	if c.Client.ConnectTimeout < 0 {
		return errors.Wrap(ErrInvalid, "client.connect_timeout must not be negative")
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return errors.Wrap(ErrInvalid, "metrics.address is required when metrics are enabled")
	}

	switch c.Chat.History {
	case HistoryMemory:
	case HistoryRedis:
		if c.Chat.RedisAddr == "" {
			return errors.Wrap(ErrInvalid, "chat.redis_addr is required for the redis history")
		}
	default:
		return errors.Wrapf(ErrInvalid, "chat.history %q is not one of memory, redis", c.Chat.History)
	}

	if c.Chat.HistorySize < 0 {
		return errors.Wrap(ErrInvalid, "chat.history_size must not be negative")
	}

	return nil
}

// Engine converts to the server engine settings.
func (c ServerConfig) Engine() tcpserver.Config {
	return tcpserver.Config{
		Name:           c.Name,
		Address:        c.Address,
		Backlog:        c.Backlog,
		ReadBufferSize: c.ReadBufferSize,
		MaxFrameSize:   maxFrame(c.MaxFrameSize),
		EventCapacity:  c.EventCapacity,
	}
}

// Engine converts to the client engine settings.
func (c ClientConfig) Engine() tcpclient.Config {
	return tcpclient.Config{
		Name:           c.Name,
		Address:        c.Address,
		ReadBufferSize: c.ReadBufferSize,
		MaxFrameSize:   maxFrame(c.MaxFrameSize),
		ConnectTimeout: c.ConnectTimeout,
	}
}

// maxFrame maps a configured 0 to the default; a negative value disables the
// limit.
func maxFrame(n int) int {
	if n == 0 {
		return session.DefaultMaxFrameSize
	}

	return n
}

// Logger builds the application logger.
//
// Parameters:
//   - serviceName: The service field and log file prefix
//
// Returns:
//   - The logger; Close it on exit to flush the log file
//   - An error if the level is unknown or the log directory is unusable
func (c LogConfig) Logger(serviceName string) (logger.Logger, error) {
	level, err := logger.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	if c.Dir != "" {
		return logger.NewZerologFileLogger(serviceName, c.Dir, level)
	}

	if c.Console {
		return logger.NewConsoleLogger(nil, serviceName, level), nil
	}

	return logger.NewZerologLogger(zerolog.New(os.Stdout), serviceName, level), nil
}
