package config

import (
	"time"
)

// Database configures the relational connection pool (§5: "bounded, default 8").
type Database struct {
	URL      string `toml:"url"`
	MaxConns int    `toml:"max_conns"`
	MinConns int    `toml:"min_conns"`
}

// APIConfig is the API process's configuration, decoded from the TOML file named on the command line.
type APIConfig struct {
	Env               string        `toml:"env"`
	ListenAddr        string        `toml:"listen_addr"`
	LogLevel          string        `toml:"log_level"`
	LogHealthRequests bool          `toml:"log_health_requests"`
	CORSAllowOrigins  string        `toml:"cors_allow_origins"`
	ShutdownGrace     time.Duration `toml:"shutdown_grace"`

	Database Database `toml:"database"`
	Bus      Bus      `toml:"bus"`
	Timeouts Timeouts `toml:"timeouts"`
}

func defaultAPIConfig() *APIConfig {
	return &APIConfig{
		ListenAddr:        ":8080",
		LogLevel:          "info",
		LogHealthRequests: true,
		CORSAllowOrigins:  "*",
		ShutdownGrace:     10 * time.Second,
		Database: Database{
			MaxConns: 8,
			MinConns: 2,
		},
		Timeouts: defaultTimeouts(),
	}
}

// LoadAPI reads and validates the API process's configuration from path.
func LoadAPI(path string) (*APIConfig, error) {
	cfg := defaultAPIConfig()
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.Timeouts.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *APIConfig) validate() error {
	var e errs

	if c.Env == "" {
		e.add("env is required")
	}
	if c.Database.URL == "" {
		e.add("database.url is required")
	}
	if c.Bus.URL == "" {
		e.add("bus.url is required")
	}
	if c.Database.MaxConns < 1 {
		e.add("database.max_conns must be at least 1")
	}
	if c.Database.MinConns < 0 {
		e.add("database.min_conns must not be negative")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		e.add("database.min_conns (%d) must not exceed database.max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	if c.ShutdownGrace < time.Second {
		e.add("shutdown_grace must be at least 1s")
	}
	if _, ok := parseLevel(c.LogLevel); !ok {
		e.add("log_level %q is not a recognized level", c.LogLevel)
	}

	return e.join()
}
