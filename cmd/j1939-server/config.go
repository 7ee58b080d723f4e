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

	"github.com/goccy/go-yaml"
)

type appConfig struct {
	canIf            string
	packetSize       int
	rcvBuf           int
	queueSize        int
	queuePolicy      string
	fetchInterval    time.Duration
	deliverImmediate bool
	listenAddr       string
	logFormat        string
	logLevel         string
	logFile          string
	metricsAddr      string
	hubBuffer        int
	hubPolicy        string
	logMetricsEvery  time.Duration
	recordPath       string
	maxClients       int
	handshakeTO      time.Duration
	clientReadTO     time.Duration
	mdnsEnable       bool
	mdnsName         string
	configPath       string
}

// parseFlags parses args into a config. Precedence is defaults < config file <
// environment < explicitly set flags. The bool result reports -version.
func parseFlags(args []string, stderr io.Writer) (*appConfig, bool, error) {
	fs := flag.NewFlagSet("j1939-server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg := &appConfig{}
	fs.StringVar(&cfg.canIf, "can-if", "can0", "CAN interface carrying J1939 traffic")
	fs.IntVar(&cfg.packetSize, "packet-size", 1024, "Payload capacity per received datagram (bytes); longer datagrams are truncated")
	fs.IntVar(&cfg.rcvBuf, "rcvbuf", 0, "Socket receive buffer SO_RCVBUF (bytes, 0 = packet-size)")
	fs.IntVar(&cfg.queueSize, "queue-size", 0, "Receive queue bound in packets (0 = unbounded)")
	fs.StringVar(&cfg.queuePolicy, "queue-policy", "drop-oldest", "Full queue policy: drop-oldest|drop-newest")
	fs.DurationVar(&cfg.fetchInterval, "fetch-interval", 50*time.Millisecond, "Interval between deliveries of queued packets (0 requires -deliver-immediate)")
	fs.BoolVar(&cfg.deliverImmediate, "deliver-immediate", false, "Deliver packets right after each socket drain")
	fs.StringVar(&cfg.listenAddr, "listen", ":20100", "TCP listen address")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.logFile, "log-file", "", "Write logs to this size-rotated file instead of stderr")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.IntVar(&cfg.hubBuffer, "hub-buffer", 512, "Per-client hub buffer (packets)")
	fs.StringVar(&cfg.hubPolicy, "hub-policy", "drop", "Backpressure policy: drop|kick")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.StringVar(&cfg.recordPath, "record", "", "Append every delivered packet as a text line to this size-rotated file")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", 3*time.Second, "Client handshake timeout")
	fs.DurationVar(&cfg.clientReadTO, "client-read-timeout", 60*time.Second, "Per-connection read deadline")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Enable mDNS/Avahi advertisement")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default j1939-server-<hostname>)")
	fs.StringVar(&cfg.configPath, "config", "", "Optional YAML configuration file")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return cfg, true, nil
	}

	// Track which flags were explicitly set to give them precedence over env and file.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if cfg.configPath == "" {
		if v, ok := os.LookupEnv("J1939_SERVER_CONFIG"); ok {
			cfg.configPath = strings.TrimSpace(v)
		}
	}
	if cfg.configPath != "" {
		fc, err := readConfigFile(cfg.configPath)
		if err != nil {
			return nil, false, err
		}
		if err := fc.apply(cfg, setFlags); err != nil {
			return nil, false, fmt.Errorf("config file %s: %w", cfg.configPath, err)
		}
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, false, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, false, nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open sockets or listeners – only checks values/ranges.
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
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	switch c.queuePolicy {
	case "drop-oldest", "drop-newest":
	default:
		return fmt.Errorf("invalid queue-policy: %s", c.queuePolicy)
	}
	if c.canIf == "" {
		return errors.New("can-if must not be empty")
	}
	if c.packetSize <= 0 {
		return fmt.Errorf("packet-size must be > 0 (got %d)", c.packetSize)
	}
	if c.rcvBuf < 0 {
		return fmt.Errorf("rcvbuf must be >= 0 (got %d)", c.rcvBuf)
	}
	if c.queueSize < 0 {
		return fmt.Errorf("queue-size must be >= 0 (got %d)", c.queueSize)
	}
	if c.fetchInterval < 0 || (c.fetchInterval == 0 && !c.deliverImmediate) {
		return fmt.Errorf("fetch-interval must be > 0 unless deliver-immediate is set")
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}

// fileConfig is the YAML form of the configuration. Keys match flag names;
// absent keys keep the defaults. Durations use Go syntax ("50ms").
type fileConfig struct {
	CANIf            *string `yaml:"can-if"`
	PacketSize       *int    `yaml:"packet-size"`
	RcvBuf           *int    `yaml:"rcvbuf"`
	QueueSize        *int    `yaml:"queue-size"`
	QueuePolicy      *string `yaml:"queue-policy"`
	FetchInterval    *string `yaml:"fetch-interval"`
	DeliverImmediate *bool   `yaml:"deliver-immediate"`
	Listen           *string `yaml:"listen"`
	LogFormat        *string `yaml:"log-format"`
	LogLevel         *string `yaml:"log-level"`
	LogFile          *string `yaml:"log-file"`
	MetricsAddr      *string `yaml:"metrics-addr"`
	HubBuffer        *int    `yaml:"hub-buffer"`
	HubPolicy        *string `yaml:"hub-policy"`
	LogMetricsEvery  *string `yaml:"log-metrics-interval"`
	Record           *string `yaml:"record"`
	MaxClients       *int    `yaml:"max-clients"`
	HandshakeTimeout *string `yaml:"handshake-timeout"`
	ClientReadTO     *string `yaml:"client-read-timeout"`
	MDNSEnable       *bool   `yaml:"mdns-enable"`
	MDNSName         *string `yaml:"mdns-name"`
}

// readConfigFile decodes path strictly: unknown keys are an error.
func readConfigFile(path string) (*fileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	fc := &fileConfig{}
	dec := yaml.NewDecoder(f, yaml.Strict())
	if err := dec.Decode(fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

// apply copies the values present in the file unless the flag was set.
func (fc *fileConfig) apply(c *appConfig, set map[string]struct{}) error {
	fromFile(&c.canIf, fc.CANIf, "can-if", set)
	fromFile(&c.packetSize, fc.PacketSize, "packet-size", set)
	fromFile(&c.rcvBuf, fc.RcvBuf, "rcvbuf", set)
	fromFile(&c.queueSize, fc.QueueSize, "queue-size", set)
	fromFile(&c.queuePolicy, fc.QueuePolicy, "queue-policy", set)
	fromFile(&c.deliverImmediate, fc.DeliverImmediate, "deliver-immediate", set)
	fromFile(&c.listenAddr, fc.Listen, "listen", set)
	fromFile(&c.logFormat, fc.LogFormat, "log-format", set)
	fromFile(&c.logLevel, fc.LogLevel, "log-level", set)
	fromFile(&c.logFile, fc.LogFile, "log-file", set)
	fromFile(&c.metricsAddr, fc.MetricsAddr, "metrics-addr", set)
	fromFile(&c.hubBuffer, fc.HubBuffer, "hub-buffer", set)
	fromFile(&c.hubPolicy, fc.HubPolicy, "hub-policy", set)
	fromFile(&c.recordPath, fc.Record, "record", set)
	fromFile(&c.maxClients, fc.MaxClients, "max-clients", set)
	fromFile(&c.mdnsEnable, fc.MDNSEnable, "mdns-enable", set)
	fromFile(&c.mdnsName, fc.MDNSName, "mdns-name", set)
	return errors.Join(
		durationFromFile(&c.fetchInterval, fc.FetchInterval, "fetch-interval", set),
		durationFromFile(&c.logMetricsEvery, fc.LogMetricsEvery, "log-metrics-interval", set),
		durationFromFile(&c.handshakeTO, fc.HandshakeTimeout, "handshake-timeout", set),
		durationFromFile(&c.clientReadTO, fc.ClientReadTO, "client-read-timeout", set),
	)
}

func fromFile[T any](dst *T, v *T, name string, set map[string]struct{}) {
	if v == nil {
		return
	}
	if _, ok := set[name]; ok {
		return
	}
	*dst = *v
}

func durationFromFile(dst *time.Duration, v *string, name string, set map[string]struct{}) error {
	if v == nil {
		return nil
	}
	if _, ok := set[name]; ok {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = d
	return nil
}

// applyEnvOverrides maps J1939_SERVER_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
// Duration accepts Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	e := envApplier{set: set}
	e.str("can-if", "J1939_SERVER_IF", &c.canIf)
	e.num("packet-size", "J1939_SERVER_PACKET_SIZE", &c.packetSize, 1)
	e.num("rcvbuf", "J1939_SERVER_RCVBUF", &c.rcvBuf, 0)
	e.num("queue-size", "J1939_SERVER_QUEUE_SIZE", &c.queueSize, 0)
	e.str("queue-policy", "J1939_SERVER_QUEUE_POLICY", &c.queuePolicy)
	e.dur("fetch-interval", "J1939_SERVER_FETCH_INTERVAL", &c.fetchInterval)
	e.boolean("deliver-immediate", "J1939_SERVER_DELIVER_IMMEDIATE", &c.deliverImmediate)
	e.str("listen", "J1939_SERVER_LISTEN", &c.listenAddr)
	e.str("log-format", "J1939_SERVER_LOG_FORMAT", &c.logFormat)
	e.str("log-level", "J1939_SERVER_LOG_LEVEL", &c.logLevel)
	e.str("log-file", "J1939_SERVER_LOG_FILE", &c.logFile)
	if _, ok := set["metrics-addr"]; !ok {
		// An empty value is meaningful here: it disables the endpoint.
		if v, ok := os.LookupEnv("J1939_SERVER_METRICS"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	e.num("hub-buffer", "J1939_SERVER_HUB_BUFFER", &c.hubBuffer, 1)
	e.str("hub-policy", "J1939_SERVER_HUB_POLICY", &c.hubPolicy)
	e.dur("log-metrics-interval", "J1939_SERVER_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	e.str("record", "J1939_SERVER_RECORD", &c.recordPath)
	e.num("max-clients", "J1939_SERVER_MAX_CLIENTS", &c.maxClients, 0)
	e.dur("handshake-timeout", "J1939_SERVER_HANDSHAKE_TIMEOUT", &c.handshakeTO)
	e.dur("client-read-timeout", "J1939_SERVER_CLIENT_READ_TIMEOUT", &c.clientReadTO)
	e.boolean("mdns-enable", "J1939_SERVER_MDNS_ENABLE", &c.mdnsEnable)
	e.str("mdns-name", "J1939_SERVER_MDNS_NAME", &c.mdnsName)
	return e.firstErr
}

// envApplier reads one variable per call and keeps the first parse error.
type envApplier struct {
	set      map[string]struct{}
	firstErr error
}

func (e *envApplier) lookup(flagName, key string) (string, bool) {
	if _, ok := e.set[flagName]; ok {
		return "", false
	}
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envApplier) fail(key string, err error) {
	if e.firstErr == nil {
		e.firstErr = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (e *envApplier) str(flagName, key string, dst *string) {
	if v, ok := e.lookup(flagName, key); ok {
		*dst = v
	}
}

func (e *envApplier) num(flagName, key string, dst *int, min int) {
	v, ok := e.lookup(flagName, key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	if n < min {
		e.fail(key, fmt.Errorf("must be >= %d", min))
		return
	}
	*dst = n
}

func (e *envApplier) dur(flagName, key string, dst *time.Duration) {
	v, ok := e.lookup(flagName, key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = d
}

func (e *envApplier) boolean(flagName, key string, dst *bool) {
	v, ok := e.lookup(flagName, key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		e.fail(key, fmt.Errorf("not a boolean: %q", v))
	}
}
