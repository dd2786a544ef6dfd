package config

import (
	"time"

	"github.com/google/uuid"
)

// Xray configures the gRPC admin client consumed by internal/xrayadmin.
type Xray struct {
	GRPCAddr    string   `toml:"grpc_addr"`
	InboundTags []string `toml:"inbound_tags"`
}

// Wireguard configures the control-socket device name consumed by internal/wireguardadmin.
type Wireguard struct {
	Device string `toml:"device"`
}

// Shadowsocks configures the admin HTTP endpoint consumed by internal/shadowsocksadmin.
type Shadowsocks struct {
	AdminURL string `toml:"admin_url"`
}

// Metrics configures the optional Prometheus Pushgateway sink consumed by internal/metrics. A node with no
// gateway_url set runs without metrics collection, since pushing system stats is an operational nicety, not a
// correctness requirement for the control loop.
type Metrics struct {
	GatewayURL string `toml:"gateway_url"`
	Job        string `toml:"job"`
}

// AgentConfig is one edge node's configuration, decoded from the TOML file named on the command line.
type AgentConfig struct {
	Env           string        `toml:"env"`
	NodeID        string        `toml:"node_id"`
	Hostname      string        `toml:"hostname"`
	ListenAddr    string        `toml:"listen_addr"`
	LogLevel      string        `toml:"log_level"`
	ShutdownGrace time.Duration `toml:"shutdown_grace"`

	Bus      Bus      `toml:"bus"`
	Timeouts Timeouts `toml:"timeouts"`

	Xray        Xray        `toml:"xray"`
	Wireguard   Wireguard   `toml:"wireguard"`
	Shadowsocks Shadowsocks `toml:"shadowsocks"`
	Metrics     Metrics     `toml:"metrics"`
}

func defaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		ListenAddr:    ":8081",
		LogLevel:      "info",
		ShutdownGrace: 10 * time.Second,
		Timeouts:      defaultTimeouts(),
		Metrics:       Metrics{Job: "ponyd-agent"},
	}
}

// LoadAgent reads and validates an agent's configuration from path.
func LoadAgent(path string) (*AgentConfig, error) {
	cfg := defaultAgentConfig()
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.Timeouts.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AgentConfig) validate() error {
	var e errs

	if c.Env == "" {
		e.add("env is required")
	}
	if c.NodeID == "" {
		e.add("node_id is required")
	} else if _, err := uuid.Parse(c.NodeID); err != nil {
		e.add("node_id %q is not a valid UUID", c.NodeID)
	}
	if c.Bus.URL == "" {
		e.add("bus.url is required")
	}
	if c.ShutdownGrace < time.Second {
		e.add("shutdown_grace must be at least 1s")
	}
	if _, ok := parseLevel(c.LogLevel); !ok {
		e.add("log_level %q is not a recognized level", c.LogLevel)
	}

	hasTunnel := c.Xray.GRPCAddr != "" || c.Wireguard.Device != "" || c.Shadowsocks.AdminURL != ""
	if !hasTunnel {
		e.add("at least one of xray.grpc_addr, wireguard.device, shadowsocks.admin_url must be set")
	}

	return e.join()
}
