package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-dispatcher/internal/logx"
	"reminder-dispatcher/internal/worker"
)

// clearEnv isolates a test from variables set on the host.
func clearEnv(t *testing.T) {
	t.Helper()
	for name := range legacyEnv {
		t.Setenv(name, "")
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("REMINDER_NOTIFY__DRIVER", "log")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "*", cfg.Redis.Match)
	assert.Equal(t, int64(100), cfg.Redis.ScanCount)
	assert.Equal(t, time.Minute, cfg.Dispatch.Delay)
	assert.Equal(t, "@every 1m", cfg.Dispatch.Schedule)
	assert.True(t, cfg.Dispatch.RunOnStart)
	assert.Equal(t, 1, cfg.Dispatch.Workers)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.KeyTimeout)
	assert.Equal(t, "identity", cfg.Dispatch.IdentityField)
	assert.Equal(t, "receivedAt", cfg.Dispatch.ReceivedAtField)
	assert.Equal(t, time.RFC3339, cfg.Dispatch.TimeLayout)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "none", cfg.Audit.Driver)

	settings, err := cfg.DispatchSettings()
	require.NoError(t, err)
	assert.Equal(t, worker.AnyKey{}, settings.Filter)
	assert.Equal(t, worker.Unbounded{}, settings.Retry)
	assert.Equal(t, "Hello, this is a test message!", settings.Content)
}

func TestLoadLayers(t *testing.T) {
	tests := map[string]struct {
		file  string
		body  string
		env   map[string]string
		check func(t *testing.T, cfg *Config)
	}{
		"json file": {
			file: "reminderd.json",
			body: `{"notify":{"driver":"log","content":"Still there?"},"dispatch":{"delay":"90s","workers":4}}`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "Still there?", cfg.Notify.Content)
				assert.Equal(t, 90*time.Second, cfg.Dispatch.Delay)
				assert.Equal(t, 4, cfg.Dispatch.Workers)
			},
		},
		"yaml file": {
			file: "reminderd.yaml",
			body: "notify:\n  driver: telegram\n  telegram:\n    token: \"123:abc\"\ndispatch:\n  key_filter: \"digits:10\"\n  identity_field: fbid\n  received_at_field: receivedate\n  retry:\n    max_attempts: 5\n    base_delay: 1m\n    max_delay: 1h\n",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "telegram", cfg.Notify.Driver)
				assert.Equal(t, "fbid", cfg.Dispatch.IdentityField)
				s, err := cfg.DispatchSettings()
				require.NoError(t, err)
				assert.Equal(t, worker.DigitsKey{Length: 10}, s.Filter)
				assert.Equal(t, worker.Backoff{MaxAttempts: 5, Base: time.Minute, Max: time.Hour}, s.Retry)
				assert.Equal(t, "receivedate", s.Schema.ReceivedAtField)
			},
		},
		"env beats file": {
			file: "reminderd.json",
			body: `{"notify":{"driver":"log"},"dispatch":{"delay":"90s"}}`,
			env:  map[string]string{"REMINDER_DISPATCH__DELAY": "2m", "REMINDER_DISPATCH__RUN_ON_START": "false"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 2*time.Minute, cfg.Dispatch.Delay)
				assert.False(t, cfg.Dispatch.RunOnStart)
			},
		},
		"legacy env": {
			env: map[string]string{"REDIS_URL": "redis://cache:6379/2", "TOKEN": "tok", "PAGE_ID": "1234"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
				assert.Equal(t, "messenger", cfg.Notify.Driver)
				n := cfg.NotifyConfig()
				assert.Equal(t, "tok", n.Messenger.Token)
				assert.Equal(t, "1234", n.Messenger.PageID)
				assert.Equal(t, 10*time.Second, n.Messenger.Timeout)
			},
		},
		"prefixed env beats legacy": {
			env: map[string]string{"TOKEN": "old", "PAGE_ID": "1", "REMINDER_NOTIFY__MESSENGER__TOKEN": "new"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "new", cfg.Notify.Messenger.Token)
			},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.file != "" {
				path = writeFile(t, tc.file, tc.body)
			}
			cfg, err := Load(path)
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}

func TestLoadRejects(t *testing.T) {
	tests := map[string]struct {
		file    string
		body    string
		env     map[string]string
		wantErr string
	}{
		"messenger without credentials": {
			wantErr: "page_id and notify.messenger.token",
		},
		"telegram without token": {
			env:     map[string]string{"REMINDER_NOTIFY__DRIVER": "telegram"},
			wantErr: "notify.telegram.token",
		},
		"unknown driver": {
			env:     map[string]string{"REMINDER_NOTIFY__DRIVER": "carrier-pigeon"},
			wantErr: "validation failed",
		},
		"zero workers": {
			env:     map[string]string{"REMINDER_NOTIFY__DRIVER": "log", "REMINDER_DISPATCH__WORKERS": "0"},
			wantErr: "Workers",
		},
		"bad key filter": {
			env:     map[string]string{"REMINDER_NOTIFY__DRIVER": "log", "REMINDER_DISPATCH__KEY_FILTER": "digits:x"},
			wantErr: "dispatch.key_filter",
		},
		"bad schedule": {
			env:     map[string]string{"REMINDER_NOTIFY__DRIVER": "log", "REMINDER_DISPATCH__SCHEDULE": "soonish"},
			wantErr: "dispatch.schedule",
		},
		"audit without dsn": {
			env:     map[string]string{"REMINDER_NOTIFY__DRIVER": "log", "REMINDER_AUDIT__DRIVER": "sqlite"},
			wantErr: "audit.dsn",
		},
		"retry base above max": {
			env: map[string]string{
				"REMINDER_NOTIFY__DRIVER":              "log",
				"REMINDER_DISPATCH__RETRY__BASE_DELAY": "2h",
				"REMINDER_DISPATCH__RETRY__MAX_DELAY":  "1h",
			},
			wantErr: "exceeds max_delay",
		},
		"unsupported format": {
			file:    "reminderd.toml",
			body:    "x = 1",
			wantErr: "unsupported config format",
		},
		"broken yaml": {
			file:    "reminderd.yml",
			body:    "notify: [",
			wantErr: "yaml",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.file != "" {
				path = writeFile(t, tc.file, tc.body)
			}
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
		require.Error(t, err)
	})
}

func TestRestartRequired(t *testing.T) {
	clearEnv(t)
	t.Setenv("REMINDER_NOTIFY__DRIVER", "log")
	old, err := Load("")
	require.NoError(t, err)

	cur := *old
	cur.Dispatch.Delay = 5 * time.Minute
	cur.Notify.Content = "new text"
	cur.Dispatch.Schedule = "@every 5m"
	assert.Empty(t, RestartRequired(old, &cur), "tunables apply live")

	cur.Redis.URL = "redis://elsewhere:6379"
	cur.Dispatch.Workers = 8
	assert.Equal(t, []string{"redis", "dispatch.workers/key_timeout/max_batches/timezone"}, RestartRequired(old, &cur))
}

func TestNotifyTimeoutBoundedByKeyTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("REMINDER_NOTIFY__DRIVER", "log")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.NotifyConfig().Timeout)

	cfg.Dispatch.KeyTimeout = 3 * time.Second
	nc := cfg.NotifyConfig()
	assert.Equal(t, 3*time.Second, nc.Timeout)
	assert.Equal(t, 3*time.Second, nc.Telegram.Timeout)
	assert.Equal(t, 3*time.Second, nc.Messenger.Timeout)

	cfg.Notify.Timeout = 0
	assert.Equal(t, 3*time.Second, cfg.NotifyConfig().Timeout)
}

func TestWatchAppliesChanges(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "reminderd.json", `{"notify":{"driver":"log"},"dispatch":{"delay":"1m"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		applied []*Config
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, cfg, logx.Nop(), func(c *Config) {
			mu.Lock()
			applied = append(applied, c)
			mu.Unlock()
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"notify":{"driver":"log"},"dispatch":{"delay":"5m"}}`), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(applied) > 0
	}, 3*time.Second, 20*time.Millisecond)

	// An invalid file is ignored.
	require.NoError(t, os.WriteFile(path, []byte(`{"dispatch":{"workers":0}}`), 0o644))
	time.Sleep(2 * watchDebounce)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, applied, 1)
	assert.Equal(t, 5*time.Minute, applied[0].Dispatch.Delay)
}
