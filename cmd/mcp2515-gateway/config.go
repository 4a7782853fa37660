package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kstaniek/go-mcp2515/internal/hub"
	"github.com/kstaniek/go-mcp2515/internal/logging"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515"
)

// envPrefix precedes the upper snake case flag name, e.g. MCP2515_GW_SPI_HZ.
const envPrefix = "MCP2515_GW_"

type appConfig struct {
	configFile string

	link       string
	spiDev     string
	spiHz      uint
	csPin      int
	hwCS       bool
	intPin     int
	serialDev  string
	baud       int
	bitrate    string
	mode       string
	strictTx   bool
	txQueue    int
	pollEvery  time.Duration
	healthTick time.Duration

	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
	mirrorIf        string

	// from the config file only
	filters []acceptance
	masks   []acceptance
	rxModes map[mcp2515.RxBuffer]mcp2515.RxMode

	// parsed forms, filled by validate
	speed   mcp2515.Speed
	opMode  mcp2515.Mode
	policy  hub.Policy
	showVer bool
}

func newFlagSet(cfg *appConfig) *flag.FlagSet {
	fs := flag.NewFlagSet("mcp2515-gateway", flag.ContinueOnError)
	fs.StringVar(&cfg.configFile, "config", "", "INI file with [link], [can], [filters] and [masks] sections")
	fs.StringVar(&cfg.link, "link", "spidev", "Controller link: spidev|buspirate|sim")
	fs.StringVar(&cfg.spiDev, "spi", "", "spidev port name (empty = first port)")
	fs.UintVar(&cfg.spiHz, "spi-hz", mcp2515.DefaultSPISpeedHz, "SPI clock in Hz")
	fs.IntVar(&cfg.csPin, "cs-pin", 8, "GPIO driving chip select (software CS)")
	fs.BoolVar(&cfg.hwCS, "hw-cs", false, "Let the SPI peripheral drive chip select")
	fs.IntVar(&cfg.intPin, "int-pin", 25, "GPIO wired to INT (-1 polls the controller)")
	fs.StringVar(&cfg.serialDev, "serial", "/dev/ttyUSB0", "Bus Pirate serial device (when -link=buspirate)")
	fs.IntVar(&cfg.baud, "baud", 115200, "Bus Pirate baud rate")
	fs.StringVar(&cfg.bitrate, "bitrate", "500k", "CAN bitrate (5k..1000k)")
	fs.StringVar(&cfg.mode, "mode", "normal", "Operation mode: normal|listen-only|loopback")
	fs.BoolVar(&cfg.strictTx, "strict-tx", false, "Fail transmissions when all buffers are pending instead of reusing TXB0")
	fs.IntVar(&cfg.txQueue, "tx-queue", 256, "Frames queued for transmission")
	fs.DurationVar(&cfg.pollEvery, "poll-interval", time.Millisecond, "Receive poll interval without an interrupt pin")
	fs.DurationVar(&cfg.healthTick, "health-interval", time.Second, "Bus error counter poll interval (0 disables)")
	fs.StringVar(&cfg.listenAddr, "listen", ":20000", "TCP listen address")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g. :9100); empty disables")
	fs.IntVar(&cfg.hubBuffer, "hub-buffer", 512, "Per-client hub buffer (frames)")
	fs.StringVar(&cfg.hubPolicy, "hub-policy", "drop", "Backpressure policy: drop|kick")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", 3*time.Second, "Client handshake timeout")
	fs.DurationVar(&cfg.clientReadTO, "client-read-timeout", 60*time.Second, "Per-connection read deadline")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the gateway over mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default mcp2515-gw-<hostname>)")
	fs.StringVar(&cfg.mirrorIf, "mirror-if", "", "SocketCAN interface to mirror traffic to (e.g. vcan0); empty disables")
	fs.BoolVar(&cfg.showVer, "version", false, "Print version and exit")
	return fs
}

// loadConfig resolves flags, then the config file, then the environment.
// Explicit flags win over the environment, which wins over the file.
func loadConfig(args []string, lookupEnv func(string) (string, bool), stderr io.Writer) (*appConfig, error) {
	cfg := &appConfig{}
	fs := newFlagSet(cfg)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.showVer {
		return cfg, nil
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if cfg.configFile == "" {
		if v, ok := lookupEnv(envName("config")); ok {
			cfg.configFile = strings.TrimSpace(v)
		}
	}
	if cfg.configFile != "" {
		if err := applyConfigFile(cfg, fs, set, cfg.configFile); err != nil {
			return nil, err
		}
	}
	if err := applyEnvOverrides(fs, set, lookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides sets every flag not given on the command line from its
// MCP2515_GW_* variable. Empty values are ignored; the first parse error is
// returned after all variables were tried.
func applyEnvOverrides(fs *flag.FlagSet, set map[string]bool, lookupEnv func(string) (string, bool)) error {
	var errs []error
	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] || f.Name == "config" || f.Name == "version" {
			return
		}
		v, ok := lookupEnv(envName(f.Name))
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			return
		}
		if err := f.Value.Set(v); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", envName(f.Name), err))
		}
	})
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// validate checks values and fills the parsed forms. It opens nothing.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.link {
	case linkSPIDev, linkBusPirate, linkSim:
	default:
		return fmt.Errorf("invalid link: %s", c.link)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	if _, err := logging.ParseLevel(c.logLevel); err != nil {
		return err
	}
	var err error
	if c.speed, err = mcp2515.ParseSpeed(c.bitrate); err != nil {
		return fmt.Errorf("invalid bitrate: %w", err)
	}
	if c.opMode, err = mcp2515.ParseMode(c.mode); err != nil {
		return fmt.Errorf("invalid mode: %w", err)
	}
	switch c.opMode {
	case mcp2515.ModeNormal, mcp2515.ModeListenOnly, mcp2515.ModeLoopback:
	default:
		return fmt.Errorf("mode %s cannot carry traffic", c.opMode)
	}
	if c.policy, err = hub.ParsePolicy(c.hubPolicy); err != nil {
		return err
	}
	if c.spiHz == 0 || c.spiHz > mcp2515.DefaultSPISpeedHz {
		return fmt.Errorf("spi-hz must be in 1..%d (got %d)", mcp2515.DefaultSPISpeedHz, c.spiHz)
	}
	if c.csPin < 0 {
		return fmt.Errorf("cs-pin must be >= 0 (got %d)", c.csPin)
	}
	if c.intPin < -1 {
		return fmt.Errorf("int-pin must be >= -1 (got %d)", c.intPin)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.txQueue <= 0 {
		return fmt.Errorf("tx-queue must be > 0 (got %d)", c.txQueue)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.pollEvery <= 0 {
		return errors.New("poll-interval must be > 0")
	}
	if c.healthTick < 0 {
		return errors.New("health-interval must be >= 0")
	}
	if c.handshakeTO <= 0 {
		return errors.New("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return errors.New("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return errors.New("max-clients must be >= 0")
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	return nil
}

func parseFlags() (*appConfig, error) {
	return loadConfig(os.Args[1:], os.LookupEnv, os.Stderr)
}
