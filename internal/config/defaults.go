package config

import "time"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{
			Network: "tcp",
			Address: "0.0.0.0:9090",
		},
		Pool: PoolConfig{
			PartSize:        4096,
			ReadLimit:       1 << 20,
			DispatchWorkers: 0,
			IdleTeardown:    Duration(0),
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
