package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete configuration for a transport bootstrap binary
// (cmd/hostbridged or cmd/guestshim).
type Config struct {
	Network NetworkConfig `yaml:"network"`
	Pool    PoolConfig    `yaml:"pool"`
	Logging LogConfig     `yaml:"logging"`
}

// NetworkConfig describes which duplex stream the Connection runs over.
// Network names a net.Dial/net.Listen network ("tcp", "unix", "tcp4", ...);
// Address is the corresponding dial/listen address. WebSocket only makes
// Validate skip the Network check; cmd/hostbridged and cmd/guestshim do not
// read it and always run over a raw net.Conn, never a WebSocketStream.
type NetworkConfig struct {
	Network   string `yaml:"network"`
	Address   string `yaml:"address"`
	WebSocket bool   `yaml:"websocket"`
}

// PoolConfig sizes the engine's buffer and handler-dispatch resources.
type PoolConfig struct {
	PartSize        int      `yaml:"part_size"`
	ReadLimit       int      `yaml:"read_limit"`
	DispatchWorkers int      `yaml:"dispatch_workers"`
	IdleTeardown    Duration `yaml:"idle_teardown"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a time.Duration that supports YAML string unmarshaling.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads config from a YAML file, applying defaults for missing values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Network.Address == "" {
		return fmt.Errorf("network.address is required")
	}
	validNetworks := map[string]bool{"tcp": true, "tcp4": true, "tcp6": true, "unix": true}
	if !c.Network.WebSocket && !validNetworks[c.Network.Network] {
		return fmt.Errorf("network.network must be one of tcp, tcp4, tcp6, unix, got %q", c.Network.Network)
	}
	if c.Pool.PartSize < 1 {
		return fmt.Errorf("pool.part_size must be >= 1, got %d", c.Pool.PartSize)
	}
	if c.Pool.ReadLimit < c.Pool.PartSize {
		return fmt.Errorf("pool.read_limit (%d) must be >= pool.part_size (%d)", c.Pool.ReadLimit, c.Pool.PartSize)
	}
	if c.Pool.DispatchWorkers < 0 {
		return fmt.Errorf("pool.dispatch_workers must be >= 0 (0 picks a runtime-sized default), got %d", c.Pool.DispatchWorkers)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	return nil
}
