package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-dispatcher/internal/worker"
)

func setupEnv(t *testing.T, mr *miniredis.Miniredis) {
	t.Helper()
	for _, name := range []string{"REDIS_URL", "TOKEN", "PAGE_ID"} {
		t.Setenv(name, "")
	}
	t.Setenv("REMINDER_NOTIFY__DRIVER", "log")
	t.Setenv("REMINDER_REDIS__ADDR", mr.Addr())
	t.Setenv("REMINDER_LOGGING__LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPassCommand(t *testing.T) {
	mr := miniredis.RunT(t)
	setupEnv(t, mr)
	mr.HSet("u1", "identity", "abc", "receivedAt", time.Now().Add(-5*time.Minute).UTC().Format(time.RFC3339))
	mr.HSet("u3", "receivedAt", time.Now().Add(-5*time.Minute).UTC().Format(time.RFC3339))

	out, err := run(t, "pass", "--json")
	require.NoError(t, err)

	var report worker.PassReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Malformed)
	assert.False(t, mr.Exists("u1"))
	assert.True(t, mr.Exists("u3"))

	out, err = run(t, "pass")
	require.NoError(t, err)
	assert.Contains(t, out, "malformed:      1")
}

func TestInspectCommand(t *testing.T) {
	mr := miniredis.RunT(t)
	setupEnv(t, mr)
	t.Setenv("REMINDER_AUDIT__DRIVER", "sqlite")
	t.Setenv("REMINDER_AUDIT__DSN", filepath.Join(t.TempDir(), "audit.db"))
	mr.HSet("u1", "identity", "abc", "receivedAt", time.Now().Add(-5*time.Minute).UTC().Format(time.RFC3339))
	mr.HSet("u5", "identity", "abc5", "receivedAt", "last tuesday")

	_, err := run(t, "pass")
	require.NoError(t, err)

	out, err := run(t, "inspect", "--json")
	require.NoError(t, err)
	var body struct {
		Findings []worker.Finding `json:"findings"`
		Recent   []struct {
			Key    string `json:"key"`
			Action string `json:"action"`
		} `json:"recent"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Len(t, body.Findings, 1)
	assert.Equal(t, "u5", body.Findings[0].Key)
	require.Len(t, body.Recent, 1)
	assert.Equal(t, "u1", body.Recent[0].Key)
	assert.Equal(t, "sent", body.Recent[0].Action)
	assert.True(t, mr.Exists("u5"), "inspect is read-only")

	out, err = run(t, "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, "Stuck records (1):")
	assert.Contains(t, out, "Recent deliveries:")
}

func TestBadConfigFails(t *testing.T) {
	mr := miniredis.RunT(t)
	setupEnv(t, mr)
	_, err := run(t, "pass", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}
