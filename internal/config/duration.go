package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultStopTimeout = 30 * time.Second
	DefaultBusyTimeout = 5 * time.Second
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// StopTimeoutDuration is how long a run waits for in-flight jobs on stop.
func (c SchedulerConfig) StopTimeoutDuration() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.stop_timeout", c.StopTimeout, DefaultStopTimeout)
}

func (c StorageConfig) BusyTimeoutDuration() (time.Duration, error) {
	return ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, DefaultBusyTimeout)
}
