package flow

import (
	"fmt"
	"runtime"
	"time"

	"github.com/kilianp07/bikeflow/core/factory"
)

// DefaultBucketWidth is used when no width is configured.
const DefaultBucketWidth = 10 * time.Minute

// Config defines inference settings.
type Config struct {
	// BucketWidth is a Go duration string such as "10m".
	BucketWidth string `json:"bucket_width"`
	// Matcher selects the matching strategy by registry name.
	Matcher factory.ModuleConfig `json:"matcher"`
	// Workers bounds the number of buckets matched concurrently.
	Workers int `json:"workers"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.BucketWidth == "" {
		c.BucketWidth = DefaultBucketWidth.String()
	}
	if c.Matcher.Type == "" {
		c.Matcher.Type = GreedyName
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
}

// Validate checks the bucket width and matcher name.
func (c Config) Validate() error {
	if _, err := c.Width(); err != nil {
		return err
	}
	if !matcherRegistry.Has(c.Matcher.Type) {
		return fmt.Errorf("unknown matcher %s", c.Matcher.Type)
	}
	return nil
}

// Width parses BucketWidth.
func (c Config) Width() (time.Duration, error) {
	if c.BucketWidth == "" {
		return DefaultBucketWidth, nil
	}
	d, err := time.ParseDuration(c.BucketWidth)
	if err != nil {
		return 0, fmt.Errorf("bucket_width: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("bucket_width must be positive, got %s", d)
	}
	return d, nil
}
