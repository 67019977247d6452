package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"syncqueue/internal/config"
	"syncqueue/internal/database"
	"syncqueue/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "syncctl", cmd.Use)

	for _, name := range []string{"status", "drain", "export"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, "command %s should exist", name)
		assert.Equal(t, name, sub.Name())
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	exportCmd, _, _ := cmd.Find([]string{"export"})
	outFlag := exportCmd.Flags().Lookup("out")
	require.NotNil(t, outFlag)
	assert.Equal(t, "o", outFlag.Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http://127.0.0.1:1")
	_, err := execute(t, "status", "--config", cfgPath, "--format", "yaml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "status", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "load config")
}

func TestStatus(t *testing.T) {
	cfgPath, dbPath := writeConfig(t, "http://127.0.0.1:1")
	seedDB(t, dbPath, func(db *database.DB) {
		insertRow(t, db, "a", "telemetry", `{"path":"/v1/telemetry"}`, "")
		insertRow(t, db, "b", "", `{"path":"/v1/telemetry/batch"}`, "")
		insertRow(t, db, "c", "course_progress", `{"path":"/v1/progress"}`, "")
		insertRow(t, db, "d", "telemetry", `broken`, "")
		_, err := db.SetValue(context.Background(), models.KeyDeviceRegisterSuccess, "false")
		require.NoError(t, err)
	})

	out, err := execute(t, "status", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)

	var result StatusResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 4, result.Pending)
	assert.Equal(t, map[string]int{"telemetry": 2, "course_progress": 1}, result.ByType)
	assert.Equal(t, 1, result.Undecodable)
	assert.Equal(t, "false", result.DeviceRegister)
	assert.Empty(t, result.ClockOffsetMS)

	out, err = execute(t, "status", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "pending: 4")
	assert.Contains(t, out, "undecodable")
}

func TestDrain(t *testing.T) {
	var paths []string
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"ok":true}}`))
	}))
	t.Cleanup(remote.Close)

	cfgPath, dbPath := writeConfig(t, remote.URL)
	seedDB(t, dbPath, func(db *database.DB) {
		insertRow(t, db, "a", "telemetry", `{"path":"/v1/telemetry","type":"POST"}`, `{"shouldPublishResult":true}`)
		insertRow(t, db, "b", "course_progress", `{"path":"/v1/progress","type":"PATCH"}`, "")
	})

	out, err := execute(t, "drain", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)

	var result DrainResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Report.Seeded)
	assert.Equal(t, 2, result.Report.Succeeded)
	assert.False(t, result.Report.Halted)
	require.Len(t, result.Events, 1)
	require.NotNil(t, result.Events[0].SyncedEventCount)
	assert.Equal(t, []string{"/v1/telemetry", "/v1/progress"}, paths)

	out, err = execute(t, "status", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)
	var status StatusResult
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Zero(t, status.Pending)
}

func TestDrain_RemoteDown(t *testing.T) {
	remote := httptest.NewServer(http.NotFoundHandler())
	url := remote.URL
	remote.Close()

	cfgPath, dbPath := writeConfig(t, url)
	seedDB(t, dbPath, func(db *database.DB) {
		insertRow(t, db, "a", "telemetry", `{"path":"/v1/telemetry"}`, "")
		insertRow(t, db, "b", "telemetry", `{"path":"/v1/telemetry"}`, "")
	})

	out, err := execute(t, "drain", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "halted")
	assert.Contains(t, out, "event: NETWORK_ERROR")

	out, err = execute(t, "status", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "pending: 2")
}

func TestExport(t *testing.T) {
	cfgPath, dbPath := writeConfig(t, "http://127.0.0.1:1")
	seedDB(t, dbPath, func(db *database.DB) {
		insertRow(t, db, "a", "telemetry", `{"path":"/v1/telemetry"}`, "")
		insertRow(t, db, "b", "course_progress", `{"path":"/v1/progress"}`, "")
	})

	target := filepath.Join(t.TempDir(), "snap", "queue.xlsx")
	out, err := execute(t, "export", "--config", cfgPath, "--out", target)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 2 entries")

	f, err := excelize.OpenFile(target)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Queue")
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeConfig(t *testing.T, remoteURL string) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "queue.db")
	cfgPath = filepath.Join(dir, "config.yaml")

	body := fmt.Sprintf(`
database:
  path: %s
remote:
  base_url: %s
  timeout: 2s
credentials:
  bearer_token: static-token
sync:
  workers: 1
`, dbPath, remoteURL)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath, dbPath
}

func seedDB(t *testing.T, path string, fn func(db *database.DB)) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(path, config.DriverCGO, &logger)
	require.NoError(t, err)
	defer db.Close()
	fn(db)
}

func insertRow(t *testing.T, db *database.DB, msgID, typ, request, cfg string) {
	t.Helper()
	_, err := db.Insert(context.Background(), &models.QueueRow{
		MsgID:     msgID,
		Type:      typ,
		Priority:  1,
		ItemCount: 1,
		Timestamp: 1_700_000_000_000,
		Config:    cfg,
		Request:   request,
	})
	require.NoError(t, err)
}
