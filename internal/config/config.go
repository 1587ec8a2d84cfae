// Package config loads and validates obengine's TOML configuration, per
// spec.md §6, using github.com/BurntSushi/toml.
package config

import (
	"fmt"
	"net"

	"github.com/BurntSushi/toml"
)

type ParserKind string

const (
	ParserItch50 ParserKind = "itch50"
	ParserEobi   ParserKind = "eobi"
	ParserFast   ParserKind = "fast_emdi"
)

type Endian string

const (
	EndianBig    Endian = "big"
	EndianLittle Endian = "little"
)

type TimestampingMode string

const (
	TimestampingOff         TimestampingMode = "off"
	TimestampingSoftware    TimestampingMode = "software"
	TimestampingHardware    TimestampingMode = "hardware"
	TimestampingHardwareRaw TimestampingMode = "hardware_raw"
)

type GeneralConfig struct {
	LogLevel      string `toml:"log_level"`
	MaxPacketSize int    `toml:"max_packet_size"`
	// AdminAddr, when set, serves a small operator control plane (currently
	// just a forced-snapshot trigger) separate from the metrics listener.
	AdminAddr string `toml:"admin_addr"`
}

type SequenceConfig struct {
	Offset int    `toml:"offset"`
	Length int    `toml:"length"` // 4 or 8
	Endian Endian `toml:"endian"`
}

type ChannelConfig struct {
	Name          string           `toml:"name"` // "a" or "b"
	Group         string           `toml:"group"`
	Port          int              `toml:"port"`
	Iface         string           `toml:"iface"`
	ReusePort     bool             `toml:"reuse_port"`
	Workers       int              `toml:"workers"`
	RecvBufBytes  int              `toml:"recv_buf_bytes"`
	BusyPollUs    int              `toml:"busy_poll_us"`
	RxBatch       int              `toml:"rx_batch"`
	Timestamping  TimestampingMode `toml:"timestamping"`
}

type MergeConfig struct {
	InitialNextSeq   uint64 `toml:"initial_next_seq"`
	ReorderWindow    int    `toml:"reorder_window"`
	ReorderWindowMax int    `toml:"reorder_window_max"`
	MaxPending       int    `toml:"max_pending"`
	InitialDwellMs   int    `toml:"initial_dwell_ms"`
	Adaptive         bool   `toml:"adaptive"`
}

type BookConfig struct {
	ConsumeTrades bool `toml:"consume_trades"`
}

type RecoveryConfig struct {
	Enabled     bool   `toml:"enabled"`
	Addr        string `toml:"addr"`
	DialTimeoutMs int  `toml:"dial_timeout_ms"`
}

type CPUConfig struct {
	PinWorkers     bool `toml:"pin_workers"`
	BaseCore       int  `toml:"base_core"`
	RealtimePriority int `toml:"realtime_priority"`
	LockMemory     bool `toml:"lock_memory"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type SnapshotConfig struct {
	Enabled      bool   `toml:"enabled"`
	Path         string `toml:"path"`
	IntervalSecs int    `toml:"interval_secs"`
}

type PublishConfig struct {
	WSAddr      string `toml:"ws_addr"`
	H3Addr      string `toml:"h3_addr"`
	BearerToken string `toml:"bearer_token"`
	RingSize    int    `toml:"ring_size"`
}

// AppConfig is obengine's full process configuration.
type AppConfig struct {
	General  GeneralConfig  `toml:"general"`
	Parser   ParserKind     `toml:"parser"`
	Sequence SequenceConfig `toml:"sequence"`
	Channels []ChannelConfig `toml:"channels"`
	Merge    MergeConfig    `toml:"merge"`
	Book     BookConfig     `toml:"book"`
	Recovery RecoveryConfig `toml:"recovery"`
	CPU      CPUConfig      `toml:"cpu"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Publish  PublishConfig  `toml:"publish"`
}

// Load reads and parses path, applying defaults, then validates.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.MaxPacketSize == 0 {
		cfg.General.MaxPacketSize = 2048
	}
	if cfg.Merge.ReorderWindow == 0 {
		cfg.Merge.ReorderWindow = 64
	}
	if cfg.Merge.ReorderWindowMax == 0 {
		cfg.Merge.ReorderWindowMax = 4096
	}
	if cfg.Merge.MaxPending == 0 {
		cfg.Merge.MaxPending = cfg.Merge.ReorderWindowMax
	}
	if cfg.Publish.RingSize == 0 {
		cfg.Publish.RingSize = 65536
	}
	for i := range cfg.Channels {
		if cfg.Channels[i].Workers == 0 {
			cfg.Channels[i].Workers = 1
		}
		if cfg.Channels[i].RxBatch == 0 {
			cfg.Channels[i].RxBatch = 1
		}
	}
}

// Validate checks the constraints spec.md §6 requires of a runnable
// configuration.
func (cfg *AppConfig) Validate() error {
	switch cfg.Parser {
	case ParserItch50, ParserEobi, ParserFast:
	default:
		return fmt.Errorf("config: unknown parser %q", cfg.Parser)
	}

	if cfg.Sequence.Length != 4 && cfg.Sequence.Length != 8 {
		return fmt.Errorf("config: sequence.length must be 4 or 8, got %d", cfg.Sequence.Length)
	}
	if cfg.General.MaxPacketSize < 512 || cfg.General.MaxPacketSize > 65535 {
		return fmt.Errorf("config: general.max_packet_size must be in [512,65535], got %d", cfg.General.MaxPacketSize)
	}
	if len(cfg.Channels) == 0 {
		return fmt.Errorf("config: at least one channel is required")
	}
	for _, ch := range cfg.Channels {
		ip := net.ParseIP(ch.Group)
		if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
			return fmt.Errorf("config: channel %q group %q is not an IPv4 multicast address", ch.Name, ch.Group)
		}
		if ch.Workers > 1 && !ch.ReusePort {
			return fmt.Errorf("config: channel %q requests %d workers but reuse_port is false", ch.Name, ch.Workers)
		}
	}
	if cfg.Merge.ReorderWindow < 1 {
		return fmt.Errorf("config: merge.reorder_window must be >= 1")
	}
	if cfg.Merge.ReorderWindowMax < cfg.Merge.ReorderWindow {
		return fmt.Errorf("config: merge.reorder_window_max must be >= reorder_window")
	}
	if cfg.Recovery.Enabled && cfg.Recovery.Addr == "" {
		return fmt.Errorf("config: recovery.enabled requires recovery.addr")
	}
	if cfg.Snapshot.Enabled && cfg.Snapshot.Path == "" {
		return fmt.Errorf("config: snapshot.enabled requires snapshot.path")
	}
	return nil
}
