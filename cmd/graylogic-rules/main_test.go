package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-rules/internal/audit"
	"github.com/nerrad567/gray-logic-rules/internal/automation"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/database"
)

// writeTestConfig writes a minimal config with its database in dir.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	content := `
site:
  id: test-site
  timezone: UTC
database:
  path: "` + filepath.Join(dir, "rules.db") + `"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-client"
  qos: 1
influxdb:
  enabled: false
logging:
  level: error
  format: text
  output: stderr
api:
  host: "127.0.0.1"
  port: 8090
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, "/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
site:
  id: test-site
database:
  path: ""
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
logging:
  level: info
  format: text
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, configPath); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")
	os.Unsetenv("GRAYLOGIC_CONFIG")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GRAYLOGIC_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "graylogic-rules "+version)
}

func TestCheckCommand(t *testing.T) {
	configPath := writeTestConfig(t, t.TempDir())

	out, err := execute(t, "check", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "config OK")
	assert.Contains(t, out, "test-site")

	_, err = execute(t, "check", "-c", "/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestParseCommand(t *testing.T) {
	out, err := execute(t, "parse", "occupied AND time 22:00-06:00")
	require.NoError(t, err)

	var group automation.ConditionGroup
	require.NoError(t, json.Unmarshal([]byte(out), &group))
	assert.Equal(t, automation.OperatorAnd, group.Operator)
	assert.Len(t, group.Conditions, 2)

	_, err = execute(t, "parse", "occupied AND")
	assert.Error(t, err)
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, "frobnicate")
	assert.Error(t, err)
}

func TestExportImport_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)

	// A fresh database exports an empty document.
	out, err := execute(t, "export", "-c", configPath)
	require.NoError(t, err)
	var empty automation.Document
	require.NoError(t, json.Unmarshal([]byte(out), &empty))
	assert.Equal(t, automation.DocumentVersion, empty.Version)
	assert.Empty(t, empty.Automations)

	doc := automation.Document{
		Version: automation.DocumentVersion,
		Automations: []automation.Automation{{
			ID:            "evening",
			Name:          "Evening lights",
			ConditionExpr: "occupied",
			Condition: automation.ConditionGroup{
				Operator:   automation.OperatorAnd,
				Conditions: []automation.Condition{{Kind: automation.KindOccupancy, Occupancy: &automation.Occupancy{ExpectedOccupied: true}}},
			},
			Actions: []automation.Action{{
				Kind:      automation.ActionSetDevice,
				SetDevice: &automation.SetDeviceAction{DeviceID: "lamp", On: true},
			}},
			Enabled:   true,
			CreatedAt: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC),
		}},
	}
	data, err := automation.MarshalDocument(doc)
	require.NoError(t, err)
	docPath := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(docPath, data, 0600))

	out, err = execute(t, "import", docPath, "-c", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 automations")

	db, err := database.Open(context.Background(), database.Config{Path: filepath.Join(dir, "rules.db"), BusyTimeout: 5})
	require.NoError(t, err)
	trail, err := audit.NewSQLiteRepository(db.DB).List(context.Background(), audit.Filter{Action: audit.ActionImport})
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.Len(t, trail.Entries, 1)
	assert.Equal(t, audit.SourceCLI, trail.Entries[0].Source)

	exportPath := filepath.Join(dir, "export.json")
	_, err = execute(t, "export", "-c", configPath, "-o", exportPath)
	require.NoError(t, err)

	exported, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	got, err := automation.UnmarshalDocument(exported)
	require.NoError(t, err)
	require.Len(t, got.Automations, 1)
	assert.Equal(t, "Evening lights", got.Automations[0].Name)
	assert.Equal(t, doc.Automations[0].Actions, got.Automations[0].Actions)
}

func TestImportCommand_InvalidDocument(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)

	docPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(docPath, []byte(`{"version": 99}`), 0600))

	_, err := execute(t, "import", docPath, "-c", configPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, automation.ErrInvalidDocument)
}

func TestBackupCommand(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)
	dest := filepath.Join(dir, "backups", "rules-copy.db")

	out, err := execute(t, "backup", dest, "-c", configPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, dest))

	_, err = os.Stat(dest)
	require.NoError(t, err)

	// The target must not be overwritten.
	_, err = execute(t, "backup", dest, "-c", configPath)
	assert.Error(t, err)
}
