package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const DefaultMetricsAddr = "127.0.0.1:9090"

var validate = validator.New()

// ApplyDefaults normalizes free-form fields and fills omitted values.
func (c *Config) ApplyDefaults() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "none"
	}
	c.Storage.Path = strings.TrimSpace(c.Storage.Path)
	c.Trigger.Schedule = strings.TrimSpace(c.Trigger.Schedule)
	c.Trigger.Timezone = strings.TrimSpace(c.Trigger.Timezone)
	c.Manifest = strings.TrimSpace(c.Manifest)
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
}

// Validate checks struct tags plus the fields tags cannot express
// (durations, time zone, listen address).
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if _, err := c.Scheduler.StopTimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Storage.BusyTimeoutDuration(); err != nil {
		return err
	}
	if c.Trigger.Timezone != "" {
		if _, err := time.LoadLocation(c.Trigger.Timezone); err != nil {
			return fmt.Errorf("trigger.timezone: %w", err)
		}
	}
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr: %w", err)
		}
	}
	return nil
}

// applyEnvOverrides overrides config fields with TIERSCHED_* environment variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("TIERSCHED_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TIERSCHED_MANIFEST"); v != "" {
		c.Manifest = v
	}
	if v := os.Getenv("TIERSCHED_TRIGGER_SCHEDULE"); v != "" {
		c.Trigger.Schedule = v
	}
	if v := os.Getenv("TIERSCHED_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("TIERSCHED_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("TIERSCHED_METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing TIERSCHED_METRICS_ENABLED: %w", err)
		}
		c.Metrics.Enabled = b
	}
	if v := os.Getenv("TIERSCHED_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	return nil
}
