package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel(" DEBUG "))
	assert.Equal(t, zerolog.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel(""))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("bogus"))
	assert.Equal(t, zerolog.Disabled, parseLogLevel("off"))
}

func TestNew_WritesToOutput(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Options{Output: &buf, Level: "warn"})
	require.NoError(t, err)
	defer closer.Close() //nolint:errcheck

	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("Shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"component":"test"`)
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, closer, err := New(Options{File: path, Level: "info"})
	require.NoError(t, err)
	log.Info().Msg("Written to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Written to file")
}
