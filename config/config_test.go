package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Workflow.TxTimeout)
	assert.Equal(t, 30*time.Second, cfg.Workflow.FinalizeTimeout)
	assert.Equal(t, 72*time.Hour, cfg.Service().AwardResponseWindow)
	assert.True(t, cfg.Scheduler.Enabled)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	// GIVEN: A config file setting the port and finalize timeout
	// WHEN: PROCURE_SERVER_PORT is also set
	// THEN: The environment wins for the port, the file for the timeout

	path := filepath.Join(t.TempDir(), "procure.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
database:
  driver: memory
workflow:
  finalize_timeout: 45s
  min_quotes: 3
directory:
  users_file: ./users.yaml
log:
  format: json
`), 0o600))
	t.Setenv("PROCURE_SERVER_PORT", "9191")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 45*time.Second, cfg.Workflow.FinalizeTimeout)
	assert.Equal(t, "./users.yaml", cfg.Directory.UsersFile)
	assert.Equal(t, 10*time.Second, cfg.Workflow.TxTimeout, "unset keys keep their default")
	assert.Equal(t, 3, cfg.Service().MinQuotes)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad driver", map[string]string{"PROCURE_DATABASE_DRIVER": "postgres"}, "unknown database.driver"},
		{"bad port", map[string]string{"PROCURE_SERVER_PORT": "70000"}, "out of range"},
		{"bad level", map[string]string{"PROCURE_LOG_LEVEL": "loud"}, "log.level"},
		{"bad format", map[string]string{"PROCURE_LOG_FORMAT": "xml"}, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("dropped")
	logger.Warn("kept", "requisition_id", "req-1")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"requisition_id":"req-1"`)
}
