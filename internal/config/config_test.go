package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "convertd.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", c.Server.Listen)

	ec := c.EngineConfig()
	require.Equal(t, 2003, ec.Port)
	require.Equal(t, 3*time.Second, ec.ProbeTimeout)
	require.Equal(t, 8*time.Second, ec.SyntheticTimeout)
	require.Equal(t, 120*time.Second, ec.ConvertTimeout)
	require.Equal(t, 60*time.Second, ec.HealthInterval)
	require.Equal(t, 5, ec.FailureThreshold)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = "127.0.0.1:9090"
base_path = "/api"
max_upload_mb = 25

[engine]
binary = "/opt/engine/soffice"
tool = "/opt/engine/soffice-convert"
port = 2113
health_interval = "5s"
failure_threshold = 3

[engine.log]
dir = "/var/log/convertd"

[history]
dsn = "sqlite:///var/lib/convertd/history.db"

[log.slog]
level = "debug"
format = "json"
`)
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9090", c.Server.Listen)
	require.Equal(t, "/api", c.Server.BasePath)
	require.Equal(t, int64(25<<20), c.ServerConfig().MaxUploadBytes)

	ec := c.EngineConfig()
	require.Equal(t, "/opt/engine/soffice", ec.Binary)
	require.Equal(t, 2113, ec.Port)
	require.Equal(t, 5*time.Second, ec.HealthInterval)
	require.Equal(t, 3, ec.FailureThreshold)
	require.Equal(t, "/var/log/convertd", ec.Log.Dir)
	// values absent from the file keep their defaults
	require.Equal(t, 3*time.Second, ec.ProbeTimeout)

	require.Equal(t, "sqlite:///var/lib/convertd/history.db", c.History.DSN)
	require.Equal(t, "debug", c.Log.Slog.Level)
	require.Equal(t, "json", c.Log.Slog.Format)
}

func TestLoadValidation(t *testing.T) {
	_, err := Load(writeConfig(t, "[engine]\nbinary = \"\"\n"))
	require.ErrorContains(t, err, "engine.binary")

	_, err = Load(writeConfig(t, "[engine]\nport = 70000\n"))
	require.ErrorContains(t, err, "engine.port")

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
