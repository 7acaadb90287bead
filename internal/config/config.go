// Package config loads process configuration from an optional YAML file,
// environment variables, and defaults, the same layered precedence the
// rag-loader config package uses: defaults first, then a config file if
// present, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CoordinatorConfig configures the coordinator process: its control and
// client TCP listeners, the admin HTTP surface, and the
// reorg/query-manager tunables.
type CoordinatorConfig struct {
	ControlAddr  string        `mapstructure:"control_addr"`
	ClientAddr   string        `mapstructure:"client_addr"`
	AdminAddr    string        `mapstructure:"admin_addr"`
	ReorgInterval time.Duration `mapstructure:"reorg_interval"`
	ReorgStrategy string        `mapstructure:"reorg_strategy"`
	RelevanceFunction string    `mapstructure:"relevance_function"`
	FinishedGrace time.Duration `mapstructure:"finished_grace"`
	LogLevel      string        `mapstructure:"log_level"`
}

// NodeConfig configures a cache-node process: where to reach the
// coordinator, where to listen for deliveries, and the per-CacheType
// budgets and relevance functions for its local stores. CREATE, PUZZLE,
// and DELIVER job commands ride the same control connection a node
// dials at startup, so there is no separate worker listen address.
type NodeConfig struct {
	NodeName       string            `mapstructure:"node_name"`
	CoordinatorAddr string           `mapstructure:"coordinator_addr"`
	DeliveryAddr   string            `mapstructure:"delivery_addr"`
	AdminAddr      string            `mapstructure:"admin_addr"`
	WorkerCount    int               `mapstructure:"worker_count"`
	DeliverySweep  time.Duration     `mapstructure:"delivery_sweep"`
	StatsInterval  time.Duration     `mapstructure:"stats_interval"`
	Budgets        map[string]int64  `mapstructure:"budgets"`
	Relevance      map[string]string `mapstructure:"relevance"`
	LogLevel       string            `mapstructure:"log_level"`
}

// LoadCoordinatorConfig reads coordinator configuration from configFile (if
// non-empty and present), GEOCACHE_COORD_* environment variables, and
// defaults: environment variables override the file, and the file
// overrides the defaults.
func LoadCoordinatorConfig(configFile string) (*CoordinatorConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("geocache_coord")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("control_addr", ":7100")
	v.SetDefault("client_addr", ":7101")
	v.SetDefault("admin_addr", ":7180")
	v.SetDefault("reorg_interval", 30*time.Second)
	v.SetDefault("reorg_strategy", "capacity")
	v.SetDefault("relevance_function", "cost_lru")
	v.SetDefault("finished_grace", 5*time.Second)
	v.SetDefault("log_level", "info")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
			}
		}
	}

	var cfg CoordinatorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal coordinator config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *CoordinatorConfig) validate() error {
	switch c.ReorgStrategy {
	case "capacity", "geographic", "graph":
	default:
		return fmt.Errorf("reorg_strategy %q is not one of capacity, geographic, graph", c.ReorgStrategy)
	}
	if c.ReorgInterval <= 0 {
		return fmt.Errorf("reorg_interval must be positive, got %v", c.ReorgInterval)
	}
	switch c.RelevanceFunction {
	case "lru", "cost_lru":
	default:
		return fmt.Errorf("relevance_function %q is not one of lru, cost_lru", c.RelevanceFunction)
	}
	return nil
}

// LoadNodeConfig reads cache-node configuration the same way
// LoadCoordinatorConfig does, under the GEOCACHE_NODE_* prefix.
func LoadNodeConfig(configFile string) (*NodeConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("geocache_node")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("coordinator_addr", "127.0.0.1:7100")
	v.SetDefault("delivery_addr", ":7200")
	v.SetDefault("admin_addr", ":7280")
	v.SetDefault("worker_count", 4)
	v.SetDefault("delivery_sweep", time.Second)
	v.SetDefault("stats_interval", 10*time.Second)
	v.SetDefault("log_level", "info")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
			}
		}
	}

	var cfg NodeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal node config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *NodeConfig) validate() error {
	if c.NodeName == "" {
		return fmt.Errorf("node_name is required")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker_count must be positive, got %d", c.WorkerCount)
	}
	for ct, fn := range c.Relevance {
		switch fn {
		case "", "cost_lru", "lru":
		default:
			return fmt.Errorf("relevance[%s] = %q is not a known relevance function", ct, fn)
		}
	}
	return nil
}
