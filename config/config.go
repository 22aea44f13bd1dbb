package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/bikeflow/api"
	"github.com/kilianp07/bikeflow/core/flow"
	"github.com/kilianp07/bikeflow/core/metrics"
	"github.com/kilianp07/bikeflow/core/runlog"
	"github.com/kilianp07/bikeflow/infra/cache"
	"github.com/kilianp07/bikeflow/infra/gbfs"
	"github.com/kilianp07/bikeflow/infra/kafka"
	"github.com/kilianp07/bikeflow/infra/monitoring"
	"github.com/kilianp07/bikeflow/infra/mqtt"
	"github.com/kilianp07/bikeflow/infra/storage"
	"github.com/kilianp07/bikeflow/infra/weather"
)

type Config struct {
	Inference flow.Config       `json:"inference"`
	Storage   storage.Config    `json:"storage"`
	Feed      gbfs.Config       `json:"feed"`
	Weather   weather.Config    `json:"weather"`
	Metrics   metrics.Config    `json:"metrics"`
	RunLog    runlog.Config     `json:"runlog"`
	MQTT      mqtt.Config       `json:"mqtt"`
	Kafka     kafka.Config      `json:"kafka"`
	Cache     cache.Config      `json:"cache"`
	API       api.Config        `json:"api"`
	Sentry    monitoring.Config `json:"sentry"`
	Service   ServiceConfig     `json:"service"`
}

// Load reads a YAML or JSON file, applies K_ environment overrides
// (K_MQTT__BROKER sets mqtt.broker) then defaults, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied. It is used
// when no file is given.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Inference.SetDefaults()
	c.Storage.SetDefaults()
	c.Feed.SetDefaults()
	c.Weather.SetDefaults()
	c.RunLog.SetDefaults()
	c.MQTT.SetDefaults()
	c.Kafka.SetDefaults()
	c.Cache.SetDefaults()
	c.Service.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Inference.Validate(); err != nil {
		return fmt.Errorf("inference: %w", err)
	}
	if c.Feed.DiscoveryURL != "" || c.Feed.Auth != nil {
		if err := c.Feed.Validate(); err != nil {
			return err
		}
	}
	if err := c.Weather.Validate(); err != nil {
		return err
	}
	if err := c.RunLog.Validate(); err != nil {
		return fmt.Errorf("runlog: %w", err)
	}
	if err := c.MQTT.Validate(); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Service.Validate(); err != nil {
		return fmt.Errorf("service: %w", err)
	}
	return nil
}
