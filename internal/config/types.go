package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Trigger   TriggerConfig   `json:"trigger"`
	Storage   StorageConfig   `json:"storage"`
	Metrics   MetricsConfig   `json:"metrics"`

	// Manifest is the default job manifest path. The -manifest flag wins.
	Manifest string `json:"manifest,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// SchedulerConfig controls each Scheduler built for a run.
//
// Defaults (when fields are omitted/zero):
//   - initial_capacity: 16
//   - stop_timeout: "30s"
type SchedulerConfig struct {
	InitialCapacity int    `json:"initial_capacity,omitempty" validate:"gte=0,lte=1000000"`
	StopTimeout     string `json:"stop_timeout,omitempty"`
}

// TriggerConfig re-runs the manifest on a cron schedule.
//
// Example:
//
//	"trigger": { "schedule": "@every 30s", "timezone": "Europe/Berlin" }
//
// An empty schedule means a single run.
type TriggerConfig struct {
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional outcome history store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./tiersched_store" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"oneof=none file sqlite"`
	Path        string `json:"path" validate:"required_unless=Driver none"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MetricsConfig controls the optional Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty" validate:"required_if=Enabled true"` // default: "127.0.0.1:9090"
}
