package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/dragonet/session"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		c, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), *c)
	})

	t.Run("yaml file overrides defaults", func(t *testing.T) {
		path := writeFile(t, "dragonet.yaml", `
server:
  name: chat
  address: 127.0.0.1:7000
  max_frame_size: 4096
client:
  connect_timeout: 3s
log:
  level: debug
chat:
  history: redis
  history_size: 10
`)

		c, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "chat", c.Server.Name)
		assert.Equal(t, "127.0.0.1:7000", c.Server.Address)
		assert.Equal(t, 4096, c.Server.MaxFrameSize)
		assert.Equal(t, 1024, c.Server.Backlog)
		assert.Equal(t, 3*time.Second, c.Client.ConnectTimeout)
		assert.Equal(t, "debug", c.Log.Level)
		assert.Equal(t, HistoryRedis, c.Chat.History)
		assert.Equal(t, 10, c.Chat.HistorySize)
	})

	t.Run("json file", func(t *testing.T) {
		path := writeFile(t, "dragonet.json", `{"metrics": {"enabled": true, "address": ":9200"}}`)

		c, err := Load(path)
		require.NoError(t, err)
		assert.True(t, c.Metrics.Enabled)
		assert.Equal(t, ":9200", c.Metrics.Address)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		path := writeFile(t, "dragonet.yaml", "server:\n  address: 127.0.0.1:7000\n")
		t.Setenv("DRAGONET_SERVER_ADDRESS", "127.0.0.1:8000")
		t.Setenv("DRAGONET_CHAT_USERNAME", "env-user")

		c, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:8000", c.Server.Address)
		assert.Equal(t, "env-user", c.Chat.Username)
	})

	t.Run("flags override the environment", func(t *testing.T) {
		t.Setenv("DRAGONET_SERVER_ADDRESS", "127.0.0.1:8000")

		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.String("address", "", "listen address")
		require.NoError(t, flags.Parse([]string{"--address", "127.0.0.1:9000"}))

		l := NewLoader()
		require.NoError(t, l.BindFlag("server.address", flags.Lookup("address")))
		require.NoError(t, l.BindFlag("server.name", flags.Lookup("missing")))

		c, err := l.Load("")
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9000", c.Server.Address)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		path := writeFile(t, "dragonet.yaml", "chat:\n  history: disk\n")

		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown log level":          func(c *Config) { c.Log.Level = "loud" },
		"negative read buffer":       func(c *Config) { c.Server.ReadBufferSize = -1 },
		"negative connect timeout":   func(c *Config) { c.Client.ConnectTimeout = -time.Second },
		"metrics without address":    func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Address = "" },
		"redis history without addr": func(c *Config) { c.Chat.History = HistoryRedis; c.Chat.RedisAddr = "" },
		"negative history size":      func(c *Config) { c.Chat.HistorySize = -1 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}

	t.Run("defaults are valid", func(t *testing.T) {
		c := Default()
		assert.NoError(t, c.Validate())
	})
}

func TestEngineConversion(t *testing.T) {
	c := Default()
	c.Server.MaxFrameSize = 0
	c.Client.MaxFrameSize = -1

	server := c.Server.Engine()
	assert.Equal(t, c.Server.Address, server.Address)
	assert.Equal(t, session.DefaultMaxFrameSize, server.MaxFrameSize)

	client := c.Client.Engine()
	assert.Equal(t, c.Client.Address, client.Address)
	assert.Equal(t, -1, client.MaxFrameSize)
	assert.Equal(t, c.Client.ConnectTimeout, client.ConnectTimeout)
}

func TestLogConfig_Logger(t *testing.T) {
	log, err := LogConfig{Level: "warn"}.Logger("test")
	require.NoError(t, err)
	assert.NoError(t, log.Close())

	log, err = LogConfig{Level: "info", Dir: t.TempDir()}.Logger("test")
	require.NoError(t, err)
	assert.NoError(t, log.Close())

	_, err = LogConfig{Level: "loud"}.Logger("test")
	assert.Error(t, err)
}
