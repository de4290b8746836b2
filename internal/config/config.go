// Package config loads the mixer's startup options: an optional YAML
// file overridden by CLI flags. The file carries the stable settings,
// flags carry what changes per run.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"audiomixer/internal/mixer"
)

// Config holds every recognized startup option. Fields carry the same
// settings as mixer.Config (timeouts as integer milliseconds here;
// MixerConfig converts them), plus the options the mixer itself
// doesn't need (listen port, domain server address, metrics address,
// log level).
type Config struct {
	JitterBufferMs      float64 `yaml:"jitter_buffer_ms"`
	FramesPerChannel    int     `yaml:"frames_per_channel"`
	SampleRate          int     `yaml:"sample_rate"`
	SilentNodeTimeoutMs int     `yaml:"silent_node_timeout_ms"`
	PingIntervalMs      int     `yaml:"ping_interval_ms"`
	RingBufferFrames    int     `yaml:"ring_buffer_frames"`
	InboundQueueSize    int     `yaml:"inbound_queue_size"`
	InboundBurst        int     `yaml:"inbound_burst"`

	DomainServerAddress string `yaml:"domain_server_address"`
	ListenPort          int    `yaml:"listen_port"`
	MetricsAddr         string `yaml:"metrics_addr"`
	LogLevel            string `yaml:"log_level"`
}

// Default returns the standard mixer settings plus the process-level
// options (listen port, metrics address, log level).
func Default() Config {
	d := mixer.DefaultConfig()
	return Config{
		JitterBufferMs:      d.JitterMs,
		FramesPerChannel:    d.FramesPerChannel,
		SampleRate:          d.SampleRate,
		SilentNodeTimeoutMs: int(d.SilentTimeout / time.Millisecond),
		PingIntervalMs:      int(d.PingInterval / time.Millisecond),
		RingBufferFrames:    d.RingBufferFrames,
		InboundQueueSize:    d.InboundQueueSize,
		InboundBurst:        d.InboundBurst,
		ListenPort:          8745,
		MetricsAddr:         ":9745",
		LogLevel:            "info",
	}
}

// LoadFile reads and parses a YAML config file on top of Default(). A
// missing file is not an error: the caller passed an empty path or a
// file that simply doesn't exist yet, so the defaults stand.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// RegisterFlags binds every recognized option to fs, seeded from cfg so
// flags default to whatever the file (or Default()) already produced.
// Call fs.Parse and then ApplyFlags to layer the parsed values back on.
func RegisterFlags(fs *pflag.FlagSet, cfg Config) *Flags {
	f := &Flags{}
	f.JitterBufferMs = fs.Float64("jitter-buffer-ms", cfg.JitterBufferMs, "jitter prebuffer duration in milliseconds")
	f.FramesPerChannel = fs.Int("frames-per-channel", cfg.FramesPerChannel, "samples per channel per tick (F)")
	f.SampleRate = fs.Int("sample-rate", cfg.SampleRate, "PCM sample rate in Hz (S)")
	f.SilentNodeTimeoutMs = fs.Int("silent-node-timeout-ms", cfg.SilentNodeTimeoutMs, "evict a node after this many ms of silence")
	f.PingIntervalMs = fs.Int("ping-interval-ms", cfg.PingIntervalMs, "liveness side-loop period in milliseconds")
	f.RingBufferFrames = fs.Int("ring-buffer-frames", cfg.RingBufferFrames, "ring buffer capacity as a multiple of F")
	f.InboundQueueSize = fs.Int("inbound-queue-size", cfg.InboundQueueSize, "inbound datagram channel capacity")
	f.InboundBurst = fs.Int("inbound-burst", cfg.InboundBurst, "max inbound datagrams applied per tick")
	f.DomainServerAddress = fs.String("domain-server-address", cfg.DomainServerAddress, "domain server host:port for check-in (empty disables)")
	f.ListenPort = fs.IntP("listen-port", "p", cfg.ListenPort, "UDP port to listen on")
	f.MetricsAddr = fs.String("metrics-addr", cfg.MetricsAddr, "Prometheus /metrics listen address")
	f.LogLevel = fs.String("log-level", cfg.LogLevel, "log/slog level: debug, info, warn, error")
	f.ConfigFile = fs.StringP("config", "c", "", "path to a YAML config file")
	return f
}

// Flags holds the pflag-bound pointers RegisterFlags produces.
type Flags struct {
	JitterBufferMs      *float64
	FramesPerChannel    *int
	SampleRate          *int
	SilentNodeTimeoutMs *int
	PingIntervalMs      *int
	RingBufferFrames    *int
	InboundQueueSize    *int
	InboundBurst        *int
	DomainServerAddress *string
	ListenPort          *int
	MetricsAddr         *string
	LogLevel            *string
	ConfigFile          *string
}

// Apply copies every parsed flag value back into cfg, so flags always win
// over the file regardless of parse order.
func (f *Flags) Apply(cfg Config) Config {
	cfg.JitterBufferMs = *f.JitterBufferMs
	cfg.FramesPerChannel = *f.FramesPerChannel
	cfg.SampleRate = *f.SampleRate
	cfg.SilentNodeTimeoutMs = *f.SilentNodeTimeoutMs
	cfg.PingIntervalMs = *f.PingIntervalMs
	cfg.RingBufferFrames = *f.RingBufferFrames
	cfg.InboundQueueSize = *f.InboundQueueSize
	cfg.InboundBurst = *f.InboundBurst
	cfg.DomainServerAddress = *f.DomainServerAddress
	cfg.ListenPort = *f.ListenPort
	cfg.MetricsAddr = *f.MetricsAddr
	cfg.LogLevel = *f.LogLevel
	return cfg
}

// Load is the full two-tier sequence: parse args for --config (and every
// other flag) against a FlagSet seeded from Default(), load the file if
// named, then re-apply the parsed flags so they take precedence over the
// file.
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("audiomixer", pflag.ContinueOnError)
	seed := Default()
	flags := RegisterFlags(fs, seed)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg, err := LoadFile(*flags.ConfigFile)
	if err != nil {
		return Config{}, err
	}

	return applyChangedFlags(fs, flags, cfg), nil
}

// applyChangedFlags re-applies only the flags the user explicitly set
// (fs.Changed), so a flag's zero-value default never stomps a value the
// file legitimately set.
func applyChangedFlags(fs *pflag.FlagSet, f *Flags, cfg Config) Config {
	if fs.Changed("jitter-buffer-ms") {
		cfg.JitterBufferMs = *f.JitterBufferMs
	}
	if fs.Changed("frames-per-channel") {
		cfg.FramesPerChannel = *f.FramesPerChannel
	}
	if fs.Changed("sample-rate") {
		cfg.SampleRate = *f.SampleRate
	}
	if fs.Changed("silent-node-timeout-ms") {
		cfg.SilentNodeTimeoutMs = *f.SilentNodeTimeoutMs
	}
	if fs.Changed("ping-interval-ms") {
		cfg.PingIntervalMs = *f.PingIntervalMs
	}
	if fs.Changed("ring-buffer-frames") {
		cfg.RingBufferFrames = *f.RingBufferFrames
	}
	if fs.Changed("inbound-queue-size") {
		cfg.InboundQueueSize = *f.InboundQueueSize
	}
	if fs.Changed("inbound-burst") {
		cfg.InboundBurst = *f.InboundBurst
	}
	if fs.Changed("domain-server-address") {
		cfg.DomainServerAddress = *f.DomainServerAddress
	}
	if fs.Changed("listen-port") {
		cfg.ListenPort = *f.ListenPort
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = *f.MetricsAddr
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *f.LogLevel
	}
	return cfg
}

// MixerConfig projects the subset mixer.New needs out of Config.
func (c Config) MixerConfig() mixer.Config {
	return mixer.Config{
		SampleRate:       c.SampleRate,
		FramesPerChannel: c.FramesPerChannel,
		JitterMs:         c.JitterBufferMs,
		SilentTimeout:    time.Duration(c.SilentNodeTimeoutMs) * time.Millisecond,
		PingInterval:     time.Duration(c.PingIntervalMs) * time.Millisecond,
		RingBufferFrames: c.RingBufferFrames,
		InboundQueueSize: c.InboundQueueSize,
		InboundBurst:     c.InboundBurst,
	}
}
