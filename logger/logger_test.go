package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		entry := map[string]any{}
		require.NoError(t, json.Unmarshal(line, &entry))
		out = append(out, entry)
	}

	return out
}

func TestZerologLogger(t *testing.T) {
	t.Run("writes service, message and fields", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewZerologLogger(zerolog.New(&buf), "engine", zerolog.DebugLevel)

		log.Info("accepted", Field{Key: "conn_id", Value: 3})

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "engine", entries[0]["service"])
		assert.Equal(t, "accepted", entries[0]["message"])
		assert.Equal(t, float64(3), entries[0]["conn_id"])
		assert.Equal(t, "info", entries[0]["level"])
	})

	t.Run("filters below level", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewZerologLogger(zerolog.New(&buf), "engine", zerolog.WarnLevel)

		log.Debug("hidden")
		log.Info("hidden")
		log.Warn("shown")
		log.Error("shown", Err(errors.New("boom")))

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 2)
		assert.Equal(t, "boom", entries[1]["error"])
	})

	t.Run("with carries fields and leaves parent unchanged", func(t *testing.T) {
		var buf bytes.Buffer
		parent := NewZerologLogger(zerolog.New(&buf), "engine", zerolog.InfoLevel)
		child := parent.With(Field{Key: "remote", Value: "127.0.0.1:1"})

		child.Info("child")
		parent.Info("parent")

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 2)
		assert.Equal(t, "127.0.0.1:1", entries[0]["remote"])
		assert.NotContains(t, entries[1], "remote")
		assert.NoError(t, child.Close())
	})
}

func TestNewNopLogger(t *testing.T) {
	log := NewNopLogger()
	log.Error("nothing")
	assert.NoError(t, log.Close())
	assert.NotNil(t, log.With(Field{Key: "k", Value: 1}))
}

func TestZerologLogger_GetLoggerInstance(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerologLogger(zerolog.New(&buf), "engine", zerolog.InfoLevel).With(Field{Key: "conn_id", Value: 4})

	zl, ok := log.GetLoggerInstance().(zerolog.Logger)
	require.True(t, ok)
	zl.Info().Msg("direct")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "engine", entries[0]["service"])
	assert.Equal(t, float64(4), entries[0]["conn_id"])
}

func TestNewConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "engine", zerolog.InfoLevel)
	log.Info("human readable", Field{Key: "conn_id", Value: 9})

	assert.Contains(t, buf.String(), "human readable")
	assert.Contains(t, buf.String(), "conn_id")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, lvl)

	lvl, err = ParseLevel(" DEBUG ")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestDailyFileWriter(t *testing.T) {
	t.Run("rotates when the date changes", func(t *testing.T) {
		dir := t.TempDir()
		day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
		w, err := newDailyFileWriter("svc", dir, func() time.Time { return day })
		require.NoError(t, err)
		defer w.Close()

		_, err = w.Write([]byte("one\n"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "svc_2026-03-01.log"), w.CurrentLogFile())

		day = day.Add(2 * time.Minute)
		_, err = w.Write([]byte("two\n"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "svc_2026-03-02.log"), w.CurrentLogFile())

		first, err := os.ReadFile(filepath.Join(dir, "svc_2026-03-01.log"))
		require.NoError(t, err)
		assert.Equal(t, "one\n", string(first))
	})

	t.Run("close is idempotent and stops writes", func(t *testing.T) {
		w, err := NewDailyFileWriter("svc", t.TempDir())
		require.NoError(t, err)

		require.NoError(t, w.Close())
		require.NoError(t, w.Close())
		assert.Equal(t, "", w.CurrentLogFile())

		_, err = w.Write([]byte("late"))
		assert.Error(t, err)
	})
}

func TestNewZerologFileLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	log, err := NewZerologFileLogger("svc", dir, zerolog.InfoLevel)
	require.NoError(t, err)

	log.Info("to file")
	require.NoError(t, log.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "svc_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	content, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "to file")
}
