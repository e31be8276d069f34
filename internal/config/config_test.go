package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: DEBUG
  console: true
scheduler:
  initial_capacity: 32
  stop_timeout: 10s
trigger:
  schedule: "@every 30s"
  timezone: UTC
storage:
  driver: sqlite
  path: ./outcomes.db
metrics:
  enabled: true
manifest: ./jobs.yaml
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestConfigManager_LoadYAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "tiersched.yaml", sampleYAML)
	m := NewConfigManager(path)
	cfg, err := m.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Console)
	assert.Equal(t, 32, cfg.Scheduler.InitialCapacity)
	assert.Equal(t, "@every 30s", cfg.Trigger.Schedule)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, DefaultMetricsAddr, cfg.Metrics.Addr)
	assert.Equal(t, "./jobs.yaml", cfg.Manifest)
	assert.Same(t, cfg, m.Get())

	d, err := cfg.Scheduler.StopTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)
	bt, err := cfg.Storage.BusyTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, DefaultBusyTimeout, bt)
}

func TestDecode_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("c.json", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "none", cfg.Storage.Driver)
	assert.False(t, cfg.Metrics.Enabled)

	d, err := cfg.Scheduler.StopTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, DefaultStopTimeout, d)
}

func TestDecode_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		path string
		body string
	}{
		{"unknown field", "c.json", `{"bogus": 1}`},
		{"trailing data", "c.json", `{}{}`},
		{"bad yaml", "c.yaml", "logging: [\n"},
		{"bad level", "c.json", `{"logging":{"level":"loud"}}`},
		{"file sink without path", "c.json", `{"logging":{"file":{"enabled":true}}}`},
		{"negative capacity", "c.json", `{"scheduler":{"initial_capacity":-1}}`},
		{"bad stop timeout", "c.json", `{"scheduler":{"stop_timeout":"soon"}}`},
		{"negative stop timeout", "c.json", `{"scheduler":{"stop_timeout":"-1s"}}`},
		{"unknown driver", "c.json", `{"storage":{"driver":"redis","path":"x"}}`},
		{"storage without path", "c.json", `{"storage":{"driver":"file"}}`},
		{"bad busy timeout", "c.json", `{"storage":{"driver":"sqlite","path":"x.db","busy_timeout":"x"}}`},
		{"bad timezone", "c.json", `{"trigger":{"timezone":"Mars/Olympus"}}`},
		{"bad metrics addr", "c.json", `{"metrics":{"enabled":true,"addr":"nope"}}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.path, []byte(tc.body))
			assert.Error(t, err)
		})
	}
}

func TestDecode_EnvOverrides(t *testing.T) {
	t.Setenv("TIERSCHED_LOG_LEVEL", "warn")
	t.Setenv("TIERSCHED_STORAGE_DRIVER", "file")
	t.Setenv("TIERSCHED_STORAGE_PATH", "/tmp/store")
	t.Setenv("TIERSCHED_METRICS_ENABLED", "true")

	cfg, err := Decode("c.json", []byte(`{"logging":{"level":"debug"}}`))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, "/tmp/store", cfg.Storage.Path)
	assert.True(t, cfg.Metrics.Enabled)

	t.Setenv("TIERSCHED_METRICS_ENABLED", "maybe")
	_, err = Decode("c.json", []byte(`{}`))
	assert.Error(t, err)
}

func TestConfigManager_LoadRunsValidator(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "tiersched.json", `{}`)
	m := NewConfigManager(path)
	boom := errors.New("boom")
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return boom })

	_, err := m.Load(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Nil(t, m.Get())
}

func TestConfigManager_WatchPublishesChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "tiersched.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Rewrite until the watcher is up and sees it.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	var got *Config
	for got == nil {
		select {
		case got = <-ch:
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o644))
		case <-deadline:
			t.Fatal("no config published")
		}
	}
	assert.Equal(t, "debug", got.Logging.Level)
	assert.Equal(t, "debug", m.Get().Logging.Level)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}

func TestConfigManager_PublishKeepsLatest(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{Manifest: "a"}, &Config{Manifest: "b"}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}, Manifest: "a.yaml"}
	newCfg := &Config{Logging: LoggingConfig{Level: "debug"}, Manifest: "a.yaml", Trigger: TriggerConfig{Schedule: "@hourly"}}

	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "trigger"}, sections)
	assert.NotEmpty(t, attrs)

	sections, _ = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, sections)
}
