// Package config loads Lightflow's YAML configuration file (spec.md
// §6), binding the sections a deployment needs to reach its broker,
// signal bus, document store, and worker defaults. Values are read
// through viper so LIGHTFLOW_*-prefixed environment variables can
// override keys the file sets, matching the teacher's own cmd/main.go
// viper-binding convention. No CLI flags are bound to viper.
package config

import (
	"fmt"
	"strings"

	"dario.cat/mergo"
	yaml "github.com/goccy/go-yaml"
	"github.com/spf13/viper"

	"github.com/lightflow-run/lightflow/internal/core"
)

// EndpointConfig describes one backend (broker, signal bus, or store):
// either a network address (host/port/database, Redis-backed) or, for
// Host values of "memory" or "file", an in-process or on-disk adapter.
type EndpointConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Database int    `yaml:"database" mapstructure:"database"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	// Auth is the Redis ACL username paired with Password, left empty
	// for the default user.
	Auth string `yaml:"auth,omitempty" mapstructure:"auth"`
	// Dir is the base directory for the "file" store backend; unused by
	// the broker and signal bus, which have no on-disk adapter.
	Dir string `yaml:"dir,omitempty" mapstructure:"dir"`
}

// Addr formats the endpoint as a host:port dial address.
func (e EndpointConfig) Addr() string { return fmt.Sprintf("%s:%d", e.Host, e.Port) }

// WorkerConfig is the `worker:` section: concurrency and default queue
// subset for `worker start` when --queues is not given.
type WorkerConfig struct {
	Concurrency  int      `yaml:"concurrency" mapstructure:"concurrency"`
	QueueDefault []string `yaml:"queues_default" mapstructure:"queues_default"`
	ListenAddr   string   `yaml:"listen_addr,omitempty" mapstructure:"listen_addr"`
}

// LoggingConfig is the `logging:` section.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Quiet  bool   `yaml:"quiet,omitempty" mapstructure:"quiet"`
}

// Config is the parsed `lightflow.cfg` (YAML) document, spec.md §6.
type Config struct {
	Workflows []string        `yaml:"workflows" mapstructure:"workflows"`
	Broker    EndpointConfig  `yaml:"broker" mapstructure:"broker"`
	Signal    EndpointConfig  `yaml:"signal" mapstructure:"signal"`
	Store     EndpointConfig  `yaml:"store" mapstructure:"store"`
	Worker    WorkerConfig    `yaml:"worker" mapstructure:"worker"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
}

// Default returns the configuration shipped by `config default`: an
// in-process broker/signal/store triple and a single-queue worker, so
// `worker start` and `workflow start` work with nothing else running.
func Default() Config {
	return Config{
		Workflows: []string{"./workflows"},
		Broker:    EndpointConfig{Host: "memory"},
		Signal:    EndpointConfig{Host: "memory"},
		Store:     EndpointConfig{Host: "memory"},
		Worker:    WorkerConfig{Concurrency: 4, QueueDefault: []string{"task"}},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path (if non-empty) through viper,
// merging it over Default() so unset sections keep their default
// values. LIGHTFLOW_*-prefixed environment variables (e.g.
// LIGHTFLOW_WORKER_CONCURRENCY) override only keys the file sets; with
// an empty path Default() is returned and the environment is not read.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("lightflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", core.ErrConfigError, path, err)
		}
		var fromFile Config
		if err := v.Unmarshal(&fromFile); err != nil {
			return Config{}, fmt.Errorf("%w: unmarshal %s: %v", core.ErrConfigError, path, err)
		}
		if err := mergo.Merge(&cfg, fromFile, mergo.WithOverride); err != nil {
			return Config{}, fmt.Errorf("%w: merge %s: %v", core.ErrConfigError, path, err)
		}
	}
	return cfg, nil
}

// DefaultYAML renders Default() as commented YAML, the body `config
// default <dir>` writes to lightflow.cfg.
func DefaultYAML() ([]byte, error) {
	body, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("%w: render default config: %v", core.ErrConfigError, err)
	}
	header := "# Lightflow configuration. See spec section 6 for every recognized key.\n"
	return append([]byte(header), body...), nil
}
