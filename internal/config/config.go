package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"
	"github.com/The-Promised-Neverland/rfcomm-mitm/pkg/logger"
)

const (
	ModeProxy  = "proxy"
	ModeBridge = "bridge"

	DriverMemory = "memory"
	DriverTCP    = "tcp"
	DriverRFCOMM = "rfcomm"

	DefaultEnvFile = ".env"
)

// Config holds relay configuration. Fields are unexported to prevent modification.
type Config struct {
	envFile            string
	mode               string
	driver             string
	host               string
	port               int
	control            bool
	query              string
	listenChannel      int
	listenUUID         string
	peersRaw           string
	peers              transport.PeerTable
	logFile            string
	logLevel           string
	dataLog            bool
	serviceName        string
	serviceDisplayName string
	serviceDescription string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return b
}

// New loads envFile into the environment, if it exists, and reads every
// setting with its default.
func New(envFile string) *Config {
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	_ = godotenv.Load(envFile) // ignore error if the file is missing

	return &Config{
		envFile:            envFile,
		mode:               getenv("RELAY_MODE", ModeProxy),
		driver:             getenv("RELAY_DRIVER", DriverRFCOMM),
		host:               os.Getenv("RELAY_HOST"),
		port:               getenvInt("RELAY_PORT", 8080),
		control:            getenvBool("RELAY_CONTROL", false),
		query:              os.Getenv("RELAY_QUERY"),
		listenChannel:      getenvInt("RELAY_LISTEN_CHANNEL", 0),
		listenUUID:         os.Getenv("RELAY_LISTEN_UUID"),
		peersRaw:           os.Getenv("RELAY_PEERS"),
		logFile:            getenv("RELAY_LOG_FILE", "rfcomm-mitm.log"),
		logLevel:           getenv("RELAY_LOG_LEVEL", "info"),
		dataLog:            getenvBool("RELAY_DATA_LOG", true),
		serviceName:        getenv("SERVICE_NAME", "RfcommMitm"),
		serviceDisplayName: getenv("SERVICE_DISPLAY_NAME", "RFCOMM MITM Relay"),
		serviceDescription: getenv("SERVICE_DESCRIPTION", "Relays and observes a serial link between a master device and a slave device"),
	}
}

// BindFlags registers command line overrides on fs, defaulting each flag to
// the value already loaded from the environment.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.mode, "mode", "m", c.mode, "relay mode: proxy or bridge")
	fs.StringVar(&c.driver, "driver", c.driver, "transport driver: rfcomm, tcp or memory")
	fs.StringVar(&c.host, "host", c.host, "HTTP host (empty for all interfaces)")
	fs.IntVarP(&c.port, "port", "p", c.port, "HTTP port")
	fs.BoolVar(&c.control, "control", c.control, "serve the control page in proxy mode too")
	fs.StringVarP(&c.query, "query", "q", c.query, "proxy mode autoconnect query")
	fs.IntVar(&c.listenChannel, "listen-channel", c.listenChannel, "proxy mode inbound channel")
	fs.StringVar(&c.listenUUID, "listen-uuid", c.listenUUID, "proxy mode inbound service UUID")
	fs.StringVar(&c.peersRaw, "peers", c.peersRaw, "static peer table: address|name|channel,...")
	fs.StringVar(&c.logFile, "log-file", c.logFile, "log file path (empty for stdout only)")
	fs.StringVar(&c.logLevel, "log-level", c.logLevel, "log level: debug, info, warn or error")
	fs.BoolVar(&c.dataLog, "data-log", c.dataLog, "print relayed data in proxy mode")
}

// Validate checks the combined settings and parses the peer table.
func (c *Config) Validate() error {
	switch c.mode {
	case ModeProxy, ModeBridge:
	default:
		return fmt.Errorf("unknown mode %q", c.mode)
	}
	switch c.driver {
	case DriverMemory, DriverTCP, DriverRFCOMM:
	default:
		return fmt.Errorf("unknown driver %q", c.driver)
	}
	if c.port < 0 || c.port > 65535 {
		return fmt.Errorf("invalid port %d", c.port)
	}
	if _, err := c.ListenOptions().Normalize(); err != nil {
		return err
	}
	peers, err := transport.ParsePeerTable(c.peersRaw)
	if err != nil {
		return fmt.Errorf("RELAY_PEERS: %w", err)
	}
	c.peers = peers
	return nil
}

// Runtime holds the settings that may change while the relay runs.
type Runtime struct {
	LogLevel slog.Level
	DataLog  bool
}

// Runtime returns the current runtime settings.
func (c *Config) Runtime() Runtime {
	return Runtime{LogLevel: logger.ParseLevel(c.logLevel), DataLog: c.dataLog}
}

// ReadRuntime re-reads the runtime settings from the env file without
// touching the process environment. Keys absent from the file keep the
// values in base.
func ReadRuntime(path string, base Runtime) (Runtime, error) {
	vals, err := godotenv.Read(path)
	if err != nil {
		return base, err
	}
	rt := base
	if v, ok := vals["RELAY_LOG_LEVEL"]; ok && strings.TrimSpace(v) != "" {
		rt.LogLevel = logger.ParseLevel(v)
	}
	if v, ok := vals["RELAY_DATA_LOG"]; ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			rt.DataLog = b
		}
	}
	return rt, nil
}

// Getter methods (immutable from outside)

func (c *Config) EnvFile() string {
	return c.envFile
}

func (c *Config) Mode() string {
	return c.mode
}

func (c *Config) Driver() string {
	return c.driver
}

func (c *Config) Host() string {
	return c.host
}

func (c *Config) Port() int {
	return c.port
}

// Control reports whether the HTTP control hub runs. It always does in
// bridge mode.
func (c *Config) Control() bool {
	return c.control || c.mode == ModeBridge
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return c.host + ":" + strconv.Itoa(c.port)
}

func (c *Config) Query() string {
	return c.query
}

func (c *Config) ListenOptions() transport.ListenOptions {
	return transport.ListenOptions{Channel: c.listenChannel, UUID: c.listenUUID}
}

func (c *Config) Peers() transport.PeerTable {
	return c.peers
}

func (c *Config) LogFile() string {
	return c.logFile
}

func (c *Config) LogLevel() slog.Level {
	return logger.ParseLevel(c.logLevel)
}

func (c *Config) DataLog() bool {
	return c.dataLog
}

func (c *Config) ServiceName() string {
	return c.serviceName
}

func (c *Config) ServiceDisplayName() string {
	return c.serviceDisplayName
}

func (c *Config) ServiceDescription() string {
	return c.serviceDescription
}
