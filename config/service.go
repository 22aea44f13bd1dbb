package config

import (
	"fmt"
	"time"
)

// ServiceConfig drives the serve loop. Durations are Go duration strings.
type ServiceConfig struct {
	// PollInterval is the time between two feed acquisitions.
	PollInterval string `json:"poll_interval"`
	// InferInterval is the time between two inference runs.
	InferInterval string `json:"infer_interval"`
	// Window is the trailing period each run covers.
	Window string `json:"window"`
}

// SetDefaults applies sane defaults.
func (c *ServiceConfig) SetDefaults() {
	if c.PollInterval == "" {
		c.PollInterval = "1m"
	}
	if c.InferInterval == "" {
		c.InferInterval = "10m"
	}
	if c.Window == "" {
		c.Window = "24h"
	}
}

// Validate checks that every duration parses and is positive.
func (c ServiceConfig) Validate() error {
	for name, v := range map[string]string{"poll_interval": c.PollInterval, "infer_interval": c.InferInterval, "window": c.Window} {
		if _, err := positive(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Durations returns the parsed intervals.
func (c ServiceConfig) Durations() (poll, infer, window time.Duration, err error) {
	if poll, err = positive("poll_interval", c.PollInterval); err != nil {
		return
	}
	if infer, err = positive("infer_interval", c.InferInterval); err != nil {
		return
	}
	window, err = positive("window", c.Window)
	return
}

func positive(name, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}
