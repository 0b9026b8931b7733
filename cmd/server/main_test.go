package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/karmachain/internal/config"
	"github.com/gyaneshwarpardhi/karmachain/internal/store"
)

func TestReadEventsGroupsByUserInFileOrder(t *testing.T) {
	in := strings.Join([]string{
		`{"id":"1","user_id":"a","type":"life_event","action":"help"}`,
		``,
		`{"id":"2","user_id":"b","type":"life_event","action":"cheat"}`,
		`{"id":"3","user_id":"a","type":"life_event","action":"meditate"}`,
	}, "\n")

	byUser, order, total, err := readEvents(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []string{"a", "b"}, order)
	require.Len(t, byUser["a"], 2)
	assert.Equal(t, "1", byUser["a"][0].ev.ID)
	assert.Equal(t, "3", byUser["a"][1].ev.ID)
	assert.Equal(t, 4, byUser["a"][1].line)
	assert.Equal(t, 2, byUser["a"][1].idx)
}

func TestReadEventsRejectsMalformedLine(t *testing.T) {
	_, _, _, err := readEvents(strings.NewReader("{\"id\":\"1\"}\n{oops\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestOpenStore(t *testing.T) {
	logger := newLogger(io.Discard, config.LogConf{Level: "error"})
	ctx := context.Background()

	st, err := openStore(ctx, config.StoreConf{Driver: "memory", MaxAttempts: 2}, logger)
	require.NoError(t, err)
	r, ok := st.(*store.Retrying)
	require.True(t, ok)
	assert.IsType(t, &store.Memory{}, r.Unwrap())

	dsn := filepath.Join(t.TempDir(), "k.db")
	st, err = openStore(ctx, config.StoreConf{Driver: "sqlite", DSN: dsn}, logger)
	require.NoError(t, err)
	require.NoError(t, st.Ping(ctx))
	require.NoError(t, st.Close())

	_, err = openStore(ctx, config.StoreConf{Driver: "cassandra"}, logger)
	assert.Error(t, err)
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, config.LogConf{Level: "debug", Format: "json"}).Debug("hello", "k", 1)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])

	buf.Reset()
	newLogger(&buf, config.LogConf{Level: "warn", Format: "text"}).Info("dropped")
	assert.Empty(t, buf.String())
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		processEmit = false
		profileAudit = 0
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestProcessThenProfileAgainstSQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "karma.yaml", "version: \"1\"\nlog:\n  level: error\nstore:\n  driver: sqlite\n  dsn: "+
		filepath.Join(dir, "karma.db")+"\n")
	events := writeFile(t, dir, "events.jsonl", strings.Join([]string{
		`{"id":"e1","user_id":"ravi","type":"life_event","role":"human","action":"help"}`,
		`{"id":"e2","user_id":"ravi","type":"life_event","role":"human","action":"violence"}`,
		`{"id":"e3","user_id":"sita","type":"life_event","role":"human","action":"cheat"}`,
		`{"user_id":"","type":"life_event"}`,
	}, "\n"))

	out, err := execute(t, "process", "--config", cfg, events)
	require.NoError(t, err)
	var sum replaySummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, replaySummary{Total: 4, Processed: 3, Failed: 1, Plans: 1}, sum)

	// A second replay of the same file is idempotent.
	out, err = execute(t, "process", "--config", cfg, events)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 3, sum.Replayed)
	assert.Zero(t, sum.Reconciled, "every replayed event already has its audit record")
	assert.Zero(t, sum.Processed)

	out, err = execute(t, "profile", "--config", cfg, "--audit", "5", "ravi")
	require.NoError(t, err)
	var prof struct {
		Profile struct {
			UserID         string `json:"user_id"`
			ActiveSeverity int    `json:"active_severity"`
		} `json:"profile"`
		Audit []json.RawMessage `json:"audit"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &prof))
	assert.Equal(t, "ravi", prof.Profile.UserID)
	assert.Equal(t, 8, prof.Profile.ActiveSeverity)
	assert.Len(t, prof.Audit, 2)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", "version: \"1\"\n")
	out, err := execute(t, "validate", "--config", good)
	require.NoError(t, err)
	assert.Contains(t, out, "OK")

	bad := writeFile(t, dir, "bad.yaml", "version: \"1\"\nrecommender:\n  alpha: 3\n")
	_, err = execute(t, "validate", "--config", bad)
	var ce *config.ConfigError
	assert.ErrorAs(t, err, &ce)
}
