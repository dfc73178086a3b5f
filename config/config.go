package config

import "time"

// RouterConfig tunes the periodic link-probing and forwarding behaviour of
// the Router.
type RouterConfig struct {
	// SweepInterval is how often the Router probes every direct peer and
	// floods a fresh LinkState. Default 30s.
	SweepInterval Duration `json:"sweep_interval"`
	// PingTimeout bounds one Ping Checker round trip. Default 5s.
	PingTimeout Duration `json:"ping_timeout"`
	// InitialTTL is accepted in configuration but the Router does not read
	// it: packets are stamped with wire.InitialTTL (32). Default 32.
	InitialTTL uint8 `json:"initial_ttl"`
	// FloodDedupSize bounds the LRU used to suppress re-flooding an
	// already-seen (source, timestamp) LinkState.
	FloodDedupSize int `json:"flood_dedup_size"`
}

// DefaultRouterConfig returns the standard production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		SweepInterval:  Duration(30 * time.Second),
		PingTimeout:    Duration(5 * time.Second),
		InitialTTL:     32,
		FloodDedupSize: 4096,
	}
}

// ConnectionConfig tunes the sliding-window Connection layer.
type ConnectionConfig struct {
	// BufferLength is the send-ring size; must be a power of two.
	BufferLength uint16 `json:"buffer_length"`
	// RetransmitInterval is how often the retransmit loop scans for aged
	// unacked SYNs.
	RetransmitInterval Duration `json:"retransmit_interval"`
	// MinRetransmitAge is the floor under which a datagram is never
	// considered "aged" even on a very fast link.
	MinRetransmitAge Duration `json:"min_retransmit_age"`
}

// DefaultConnectionConfig returns the standard production defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		BufferLength:       1024,
		RetransmitInterval: Duration(time.Second),
		MinRetransmitAge:   Duration(200 * time.Millisecond),
	}
}

// RelayConfig tunes the shared relay session pool.
type RelayConfig struct {
	HeartbeatInterval  Duration `json:"heartbeat_interval"`
	LivenessTimeout    Duration `json:"liveness_timeout"`
	DialJitterMin      Duration `json:"dial_jitter_min"`
	DialJitterMax      Duration `json:"dial_jitter_max"`
}

// DefaultRelayConfig returns the standard production defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		HeartbeatInterval: Duration(10 * time.Second),
		LivenessTimeout:   Duration(15 * time.Second),
		DialJitterMin:     Duration(100 * time.Millisecond),
		DialJitterMax:     Duration(1000 * time.Millisecond),
	}
}

// PartnerConfig tunes the Partner Supervisor's reconnection loop.
type PartnerConfig struct {
	// ReconnectInterval is how often the supervisor checks the underlying
	// Connection's state and attempts to reconnect if it is down.
	ReconnectInterval Duration `json:"reconnect_interval"`
	// PingTimeout bounds the latency probe issued once per tick while
	// connected.
	PingTimeout Duration `json:"ping_timeout"`
}

// DefaultPartnerConfig returns the standard production defaults.
func DefaultPartnerConfig() PartnerConfig {
	return PartnerConfig{
		ReconnectInterval: Duration(10 * time.Second),
		PingTimeout:       Duration(5 * time.Second),
	}
}

// ProxyConfig tunes the Proxy subsystem.
type ProxyConfig struct {
	// ClientDialRetryInterval is accepted in configuration but no component
	// reads it: the Proxy Manager does not retry a failed local dial to a
	// client proxy's real destination.
	ClientDialRetryInterval Duration `json:"client_dial_retry_interval"`
	// TunnelMapFile optionally points at a YAML file of static tunnel
	// mappings the Proxy Manager pre-creates acceptors for.
	TunnelMapFile string `json:"tunnel_map_file"`
}

// DefaultProxyConfig returns the standard production defaults.
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		ClientDialRetryInterval: Duration(10 * time.Second),
	}
}

// Config is the root configuration for the overlay core.
type Config struct {
	Router     RouterConfig     `json:"router"`
	Connection ConnectionConfig `json:"connection"`
	Relay      RelayConfig      `json:"relay"`
	Partner    PartnerConfig    `json:"partner"`
	Proxy      ProxyConfig      `json:"proxy"`
}

// Default returns a Config populated with every component's defaults.
func Default() *Config {
	return &Config{
		Router:     DefaultRouterConfig(),
		Connection: DefaultConnectionConfig(),
		Relay:      DefaultRelayConfig(),
		Partner:    DefaultPartnerConfig(),
		Proxy:      DefaultProxyConfig(),
	}
}

// Validate checks the settings whose constraints go beyond their Go type:
// Connection.BufferLength must be a non-zero power of two.
func (c *Config) Validate() error {
	if c.Connection.BufferLength == 0 || c.Connection.BufferLength&(c.Connection.BufferLength-1) != 0 {
		return errBufferLengthNotPowerOfTwo
	}
	return nil
}
