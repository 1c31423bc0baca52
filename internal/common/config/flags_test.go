package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v2"
)

func TestLogLevelFlag(t *testing.T) {
	f := LogLevelFlag(slog.LevelInfo)
	assert.Equal(t, "info", f.String())

	require.NoError(t, f.Set("debug"))
	assert.Equal(t, slog.LevelDebug, f.Level())

	require.NoError(t, f.Set("WARN"))
	assert.Equal(t, slog.LevelWarn, f.Level())

	assert.Error(t, f.Set("loud"))
}

func TestStringSliceFlag(t *testing.T) {
	var f StringSliceFlag
	require.NoError(t, f.Set("equipos, proveedores,,"))
	require.NoError(t, f.Set("agents"))

	assert.Equal(t, []string{"equipos", "proveedores", "agents"}, []string(f))
	assert.Equal(t, "equipos,proveedores,agents", f.String())
}

func TestDurationUnmarshalYAML(t *testing.T) {
	var out struct {
		Timeout Duration `yaml:"timeout"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("timeout: 1500ms\n"), &out))
	assert.Equal(t, int64(1500), out.Timeout.ToDuration().Milliseconds())

	assert.Error(t, yaml.Unmarshal([]byte("timeout: soon\n"), &out))
}
