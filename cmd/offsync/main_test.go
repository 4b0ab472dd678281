package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velmie/offsync"
	"github.com/velmie/offsync/cmd/internal/app"
	"github.com/velmie/offsync/httptransport"
	"github.com/velmie/offsync/memstore"
	"github.com/velmie/offsync/server"
	"github.com/velmie/offsync/sqlite"
)

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"sync", "stats", "prune", "triggers", "backup", "recover"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := newRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "offsync.yaml", configFlag.DefValue)

	syncCmd, _, err := cmd.Find([]string{"sync"})
	require.NoError(t, err)
	require.NotNil(t, syncCmd.Flags().Lookup("watch"))
}

type result struct {
	stdout string
	err    error
}

func execute(t *testing.T, args ...string) result {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		t.Logf("stderr: %s", stderr.String())
	}

	return result{stdout: stdout.String(), err: err}
}

func TestUsageErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "http://127.0.0.1:1")

	cases := []struct {
		name string
		args []string
	}{
		{name: "bad format", args: []string{"stats", "--config", cfg, "--format", "yaml"}},
		{name: "missing config file", args: []string{"stats", "--config", filepath.Join(dir, "nope.yaml")}},
		{name: "triggers without action", args: []string{"triggers", "--config", cfg}},
		{name: "triggers with both actions", args: []string{"triggers", "--config", cfg, "--install", "--drop"}},
		{name: "prune without retention", args: []string{"prune", "--config", cfg}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := execute(t, tc.args...)
			require.Error(t, res.err)
			assert.Equal(t, app.ExitUsage, app.ExitCode(res.err))
		})
	}
}

func TestSyncPushesCapturedWrites(t *testing.T) {
	ctx := context.Background()
	reg := offsync.MustNewRegistry(offsync.Table{Name: "tasks"})
	remote := memstore.New()
	receiver, err := server.NewReceiver(remote, reg)
	require.NoError(t, err)
	handler, err := httptransport.NewHandler(receiver)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	dir := t.TempDir()
	cfg := writeConfig(t, dir, srv.URL)
	db, err := sqlite.Open(ctx, filepath.Join(dir, "app.db"))
	require.NoError(t, err)
	require.NoError(t, db.Exec(ctx, "CREATE TABLE tasks (id TEXT PRIMARY KEY, title TEXT NOT NULL)"))
	require.NoError(t, db.Close())

	res := execute(t, "triggers", "--config", cfg, "--install")
	require.NoError(t, res.err)
	assert.Equal(t, "installed tasks\n", res.stdout)

	db, err = sqlite.Open(ctx, filepath.Join(dir, "app.db"))
	require.NoError(t, err)
	require.NoError(t, db.Exec(ctx, "INSERT INTO tasks (id, title) VALUES ('t1', 'write docs')"))
	require.NoError(t, db.Close())

	res = execute(t, "stats", "--config", cfg, "--format", "json")
	require.NoError(t, res.err)
	var stats offsync.OutboxStats
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &stats))
	assert.Equal(t, 1, stats.Pending)

	res = execute(t, "backup", "--config", cfg)
	require.NoError(t, res.err)
	assert.Equal(t, "saved: 1\n", res.stdout)

	res = execute(t, "sync", "--config", cfg, "--format", "json")
	require.NoError(t, res.err)
	var summary cycleSummary
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &summary))
	assert.Equal(t, 1, summary.Pushed)
	assert.NotEmpty(t, summary.SourceID)
	assert.Empty(t, summary.TransportError)

	rows := remote.Rows("tasks")
	require.Len(t, rows, 1)
	assert.Equal(t, "write docs", offsync.AsString(rows[0]["title"]))

	res = execute(t, "stats", "--config", cfg, "--format", "json")
	require.NoError(t, res.err)
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &stats))
	assert.Equal(t, 0, stats.Total)

	res = execute(t, "recover", "--config", cfg)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "applied: 0\n")
}

func TestSyncReportsUnreachableServer(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "http://127.0.0.1:1")

	res := execute(t, "sync", "--config", cfg)
	require.Error(t, res.err)
	assert.Equal(t, app.ExitFailure, app.ExitCode(res.err))
	assert.Contains(t, res.stdout, "transport:")
}

func writeConfig(t *testing.T, dir, serverURL string) string {
	t.Helper()

	doc := fmt.Sprintf(`database: %s
server:
  url: %s
  max_retries: 0
log:
  level: warn
tables:
  - name: tasks
`, filepath.Join(dir, "app.db"), serverURL)
	path := filepath.Join(dir, "offsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	return path
}
