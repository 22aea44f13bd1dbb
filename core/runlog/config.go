package runlog

import "fmt"

// Config defines settings for run log storage and rotation.
type Config struct {
	// Backend selects the store type: "jsonl", "jsonl_rotating", "sqlite" or "none".
	Backend string `json:"backend"`
	// Path is the file location of the store.
	Path string `json:"path"`
	// MaxSizeMB triggers rotation when the file exceeds this size in megabytes.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
	// TopN is the number of OD pairs kept per record.
	TopN int `json:"top_n"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		c.Path = "runs.jsonl"
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 10
	}
	if c.TopN <= 0 {
		c.TopN = 20
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Backend {
	case "jsonl", "jsonl_rotating", "sqlite", "none":
	default:
		return fmt.Errorf("unknown backend %s", c.Backend)
	}
	if c.Backend != "none" && c.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// New opens the store selected by c.
func New(c Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch c.Backend {
	case "jsonl":
		s, err = NewJSONLStore(c.Path)
	case "jsonl_rotating":
		s, err = NewRotatingJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	case "sqlite":
		s, err = NewSQLiteStore(c.Path)
	case "none":
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown backend %s", c.Backend)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
