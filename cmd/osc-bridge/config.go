package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kstaniek/go-osc-bridge/internal/bridge"
	"github.com/kstaniek/go-osc-bridge/internal/serial"
)

type appConfig struct {
	configPath      string
	serialDev       string
	serialDriver    string
	baud            int
	serialReadTO    time.Duration
	backend         string
	listenAddr      string
	root            string
	pollInterval    time.Duration
	maxMessageSize  int
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	heartbeatEvery  time.Duration
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func defaultConfig() *appConfig {
	return &appConfig{
		serialDev:      "/dev/ttyUSB0",
		serialDriver:   serial.DriverTarm,
		baud:           115200,
		serialReadTO:   50 * time.Millisecond,
		backend:        "serial",
		listenAddr:     ":20100",
		root:           "./data",
		pollInterval:   5 * time.Millisecond,
		maxMessageSize: bridge.DefaultMaxMessageSize,
		logFormat:      "text",
		logLevel:       "info",
		handshakeTO:    3 * time.Second,
		clientReadTO:   60 * time.Second,
	}
}

// parseFlags builds the configuration from defaults, the optional TOML file,
// OSC_BRIDGE_* environment variables and command line flags, in increasing
// order of precedence.
func parseFlags(args []string, out io.Writer) (*appConfig, bool, error) {
	d := defaultConfig()
	cfg := &appConfig{}
	fs := flag.NewFlagSet("osc-bridge", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&cfg.configPath, "config", "", "Optional TOML config file")
	fs.StringVar(&cfg.serialDev, "serial", d.serialDev, "Serial device path")
	fs.StringVar(&cfg.serialDriver, "serial-driver", d.serialDriver, "Serial driver: tarm|bugst")
	fs.IntVar(&cfg.baud, "baud", d.baud, "Serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", d.serialReadTO, "Serial read timeout")
	fs.StringVar(&cfg.backend, "backend", d.backend, "Link backend: serial|tcp")
	fs.StringVar(&cfg.listenAddr, "listen", d.listenAddr, "TCP listen address (when --backend=tcp)")
	fs.StringVar(&cfg.root, "root", d.root, "Storage root directory")
	fs.DurationVar(&cfg.pollInterval, "poll-interval", d.pollInterval, "Main loop poll interval")
	fs.IntVar(&cfg.maxMessageSize, "max-message-size", d.maxMessageSize, "Largest structured frame accepted (bytes)")
	fs.StringVar(&cfg.logFormat, "log-format", d.logFormat, "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", d.logLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.DurationVar(&cfg.heartbeatEvery, "heartbeat-interval", 0, "If >0, send an empty frame to the host at this interval")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", d.handshakeTO, "Host greeting timeout (tcp)")
	fs.DurationVar(&cfg.clientReadTO, "client-read-timeout", d.clientReadTO, "Host connection read deadline (tcp)")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Enable mDNS advertisement of the tcp link")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default osc-bridge-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}

	// Track which flags were explicitly set to give them precedence.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if cfg.configPath == "" {
		cfg.configPath = strings.TrimSpace(os.Getenv("OSC_BRIDGE_CONFIG"))
	}
	if cfg.configPath != "" {
		if err := applyFile(cfg, cfg.configPath, setFlags); err != nil {
			return nil, *showVersion, err
		}
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, *showVersion, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, *showVersion, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, *showVersion, nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "serial", "tcp":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.serialDriver {
	case serial.DriverTarm, serial.DriverBugst:
	default:
		return fmt.Errorf("invalid serial-driver: %s", c.serialDriver)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("poll-interval must be > 0")
	}
	if c.maxMessageSize < 64 {
		return fmt.Errorf("max-message-size must be >= 64 (got %d)", c.maxMessageSize)
	}
	if strings.TrimSpace(c.root) == "" {
		return fmt.Errorf("root must not be empty")
	}
	if c.heartbeatEvery < 0 || c.logMetricsEvery < 0 {
		return fmt.Errorf("intervals must be >= 0")
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	return nil
}

// fileConfig maps config.toml keys to settings.
type fileConfig struct {
	Serial            string `toml:"serial"`
	SerialDriver      string `toml:"serial_driver"`
	Baud              int    `toml:"baud"`
	SerialReadTimeout string `toml:"serial_read_timeout"`
	Backend           string `toml:"backend"`
	Listen            string `toml:"listen"`
	Root              string `toml:"root"`
	PollInterval      string `toml:"poll_interval"`
	MaxMessageSize    int    `toml:"max_message_size"`
	LogFormat         string `toml:"log_format"`
	LogLevel          string `toml:"log_level"`
	MetricsAddr       string `toml:"metrics_addr"`
	LogMetrics        string `toml:"log_metrics_interval"`
	Heartbeat         string `toml:"heartbeat_interval"`
	HandshakeTimeout  string `toml:"handshake_timeout"`
	ClientReadTimeout string `toml:"client_read_timeout"`
	MDNSEnable        bool   `toml:"mdns_enable"`
	MDNSName          string `toml:"mdns_name"`
}

// applyFile overlays the keys defined in the TOML file at path, skipping
// settings given as flags.
func applyFile(c *appConfig, path string, set map[string]struct{}) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		return fmt.Errorf("load config %s: unknown key %q", path, undec[0].String())
	}
	use := func(key, flagName string) bool {
		if _, ok := set[flagName]; ok {
			return false
		}
		return meta.IsDefined(key)
	}
	var firstErr error
	dur := func(key, flagName, v string, dst *time.Duration) {
		if !use(key, flagName) {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("config %s: invalid %s: %w", path, key, err)
			}
			return
		}
		*dst = d
	}
	if use("serial", "serial") {
		c.serialDev = strings.TrimSpace(raw.Serial)
	}
	if use("serial_driver", "serial-driver") {
		c.serialDriver = strings.TrimSpace(raw.SerialDriver)
	}
	if use("baud", "baud") {
		c.baud = raw.Baud
	}
	dur("serial_read_timeout", "serial-read-timeout", raw.SerialReadTimeout, &c.serialReadTO)
	if use("backend", "backend") {
		c.backend = strings.TrimSpace(raw.Backend)
	}
	if use("listen", "listen") {
		c.listenAddr = strings.TrimSpace(raw.Listen)
	}
	if use("root", "root") {
		c.root = strings.TrimSpace(raw.Root)
	}
	dur("poll_interval", "poll-interval", raw.PollInterval, &c.pollInterval)
	if use("max_message_size", "max-message-size") {
		c.maxMessageSize = raw.MaxMessageSize
	}
	if use("log_format", "log-format") {
		c.logFormat = strings.TrimSpace(raw.LogFormat)
	}
	if use("log_level", "log-level") {
		c.logLevel = strings.TrimSpace(raw.LogLevel)
	}
	if use("metrics_addr", "metrics-addr") {
		c.metricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	dur("log_metrics_interval", "log-metrics-interval", raw.LogMetrics, &c.logMetricsEvery)
	dur("heartbeat_interval", "heartbeat-interval", raw.Heartbeat, &c.heartbeatEvery)
	dur("handshake_timeout", "handshake-timeout", raw.HandshakeTimeout, &c.handshakeTO)
	dur("client_read_timeout", "client-read-timeout", raw.ClientReadTimeout, &c.clientReadTO)
	if use("mdns_enable", "mdns-enable") {
		c.mdnsEnable = raw.MDNSEnable
	}
	if use("mdns_name", "mdns-name") {
		c.mdnsName = strings.TrimSpace(raw.MDNSName)
	}
	return firstErr
}

// applyEnvOverrides maps OSC_BRIDGE_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(flagName, key string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(flagName, key string, dst *string) {
		if v, ok := get(flagName, key); ok {
			*dst = v
		}
	}
	num := func(flagName, key string, dst *int) {
		if v, ok := get(flagName, key); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %q", key, v)
			}
		}
	}
	dur := func(flagName, key string, dst *time.Duration) {
		if v, ok := get(flagName, key); ok {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				*dst = d
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %q", key, v)
			}
		}
	}
	str("serial", "OSC_BRIDGE_SERIAL", &c.serialDev)
	str("serial-driver", "OSC_BRIDGE_SERIAL_DRIVER", &c.serialDriver)
	num("baud", "OSC_BRIDGE_BAUD", &c.baud)
	dur("serial-read-timeout", "OSC_BRIDGE_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("backend", "OSC_BRIDGE_BACKEND", &c.backend)
	str("listen", "OSC_BRIDGE_LISTEN", &c.listenAddr)
	str("root", "OSC_BRIDGE_ROOT", &c.root)
	dur("poll-interval", "OSC_BRIDGE_POLL_INTERVAL", &c.pollInterval)
	num("max-message-size", "OSC_BRIDGE_MAX_MESSAGE_SIZE", &c.maxMessageSize)
	str("log-format", "OSC_BRIDGE_LOG_FORMAT", &c.logFormat)
	str("log-level", "OSC_BRIDGE_LOG_LEVEL", &c.logLevel)
	dur("log-metrics-interval", "OSC_BRIDGE_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	dur("heartbeat-interval", "OSC_BRIDGE_HEARTBEAT_INTERVAL", &c.heartbeatEvery)
	dur("handshake-timeout", "OSC_BRIDGE_HANDSHAKE_TIMEOUT", &c.handshakeTO)
	dur("client-read-timeout", "OSC_BRIDGE_CLIENT_READ_TIMEOUT", &c.clientReadTO)
	str("mdns-name", "OSC_BRIDGE_MDNS_NAME", &c.mdnsName)
	// An empty value disables metrics, so only presence is checked.
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := os.LookupEnv("OSC_BRIDGE_METRICS"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	if v, ok := get("mdns-enable", "OSC_BRIDGE_MDNS_ENABLE"); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			c.mdnsEnable = true
		case "0", "false", "no", "off":
			c.mdnsEnable = false
		default:
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid OSC_BRIDGE_MDNS_ENABLE: %q", v)
			}
		}
	}
	return firstErr
}
