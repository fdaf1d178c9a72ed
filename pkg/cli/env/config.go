// Package env provides the configuration shared by modcli commands.
package env

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/robotalks/modlink/pkg/modlink"
	"github.com/robotalks/modlink/pkg/modlink/standard"
	"github.com/robotalks/modlink/pkg/transport"
	"github.com/robotalks/modlink/pkg/transport/mqtt"
)

// Config provides common options to talk to modules.
type Config struct {
	// URL of the stream to the modules, see transport.Open.
	URL string
	// BrokerURL is the MQTT broker for tap, monitor and bridge.
	// e.g. mqtt://host:port/topic-prefix/
	BrokerURL string

	HostAddress  uint8
	Modules      []uint
	PingInterval time.Duration
	Tap          bool

	Retransmissions    int
	AwaitInterval      time.Duration
	RetransmitInterval time.Duration
}

var defaultConfig = Config{
	URL:                "/dev/ttyUSB0",
	BrokerURL:          "mqtt://localhost:1883/modlink/",
	Modules:            []uint{2},
	PingInterval:       standard.DefaultPingInterval,
	Retransmissions:    modlink.DefaultOptions().Retransmissions,
	AwaitInterval:      modlink.DefaultOptions().AwaitInterval,
	RetransmitInterval: modlink.DefaultOptions().RetransmitInterval,
}

func init() {
	// values already in the environment win over .env
	godotenv.Load()
	defaultConfig.LoadEnv(os.Getenv)
}

// LoadEnv overrides the config from MODLINK_* variables. Malformed values
// are ignored.
func (c *Config) LoadEnv(getenv func(string) string) {
	if val := getenv("MODLINK_URL"); val != "" {
		c.URL = val
	}
	if val := getenv("MODLINK_BROKER_URL"); val != "" {
		c.BrokerURL = val
	}
	if val, err := strconv.ParseUint(getenv("MODLINK_HOST_ADDRESS"), 0, 8); err == nil {
		c.HostAddress = uint8(val)
	}
	if val := getenv("MODLINK_MODULES"); val != "" {
		if modules, err := ParseModules(val); err == nil {
			c.Modules = modules
		}
	}
	if val, err := time.ParseDuration(getenv("MODLINK_PING_INTERVAL")); err == nil {
		c.PingInterval = val
	}
	if val, err := strconv.ParseBool(getenv("MODLINK_TAP")); err == nil {
		c.Tap = val
	}
	if val, err := strconv.Atoi(getenv("MODLINK_RETRANSMISSIONS")); err == nil {
		c.Retransmissions = val
	}
	if val, err := time.ParseDuration(getenv("MODLINK_AWAIT_INTERVAL")); err == nil {
		c.AwaitInterval = val
	}
	if val, err := time.ParseDuration(getenv("MODLINK_RETRANSMIT_INTERVAL")); err == nil {
		c.RetransmitInterval = val
	}
}

// ParseModules parses a comma separated list of module addresses.
func ParseModules(s string) ([]uint, error) {
	var modules []uint
	for _, item := range strings.Split(s, ",") {
		val, err := strconv.ParseUint(strings.TrimSpace(item), 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid module address %q: %w", item, err)
		}
		modules = append(modules, uint(val))
	}
	return modules, nil
}

// SetupFlags sets up command line flags.
func SetupFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&defaultConfig.URL, "url", "u", defaultConfig.URL, "Stream to the modules: device path, tcp://, ws:// or mqtt://.")
	fs.StringVar(&defaultConfig.BrokerURL, "broker", defaultConfig.BrokerURL, "MQTT broker URL for tap, monitor and bridge.")
	fs.Uint8Var(&defaultConfig.HostAddress, "host-address", defaultConfig.HostAddress, "Source address of datagrams sent by this host.")
	fs.UintSliceVarP(&defaultConfig.Modules, "modules", "m", defaultConfig.Modules, "Addresses of the modules on the link.")
	fs.DurationVar(&defaultConfig.PingInterval, "ping-interval", defaultConfig.PingInterval, "Idle time before a keep alive is sent, 0 disables.")
	fs.BoolVar(&defaultConfig.Tap, "tap", defaultConfig.Tap, "Publish datagrams to the broker.")
	fs.IntVar(&defaultConfig.Retransmissions, "retransmissions", defaultConfig.Retransmissions, "Retransmissions before a command times out.")
	fs.DurationVar(&defaultConfig.AwaitInterval, "await-interval", defaultConfig.AwaitInterval, "Time to wait for an ack or response.")
	fs.DurationVar(&defaultConfig.RetransmitInterval, "retransmit-interval", defaultConfig.RetransmitInterval, "Time between retransmissions.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	conf.Modules = append([]uint{}, defaultConfig.Modules...)
	return &conf
}

// Options returns the delivery options of commands.
func (c *Config) Options() modlink.Options {
	opts := modlink.DefaultOptions()
	opts.Retransmissions = c.Retransmissions
	opts.AwaitInterval = c.AwaitInterval
	opts.RetransmitInterval = c.RetransmitInterval
	return opts
}

// Validate checks the config.
func (c *Config) Validate() error {
	if len(c.Modules) == 0 {
		return fmt.Errorf("at least one module is required")
	}
	for _, addr := range c.Modules {
		if addr == uint(modlink.InvalidAddress) || addr >= uint(modlink.BroadcastAddress) {
			return fmt.Errorf("invalid module address %d", addr)
		}
	}
	if c.Retransmissions < 0 {
		return fmt.Errorf("retransmissions must not be negative")
	}
	if c.AwaitInterval <= 0 || c.RetransmitInterval <= 0 {
		return fmt.Errorf("await and retransmit intervals must be positive")
	}
	return nil
}

// NewLink wraps the stream in a Link and attaches the configured modules.
func (c *Config) NewLink(rw io.ReadWriter) (*modlink.Link, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	link := modlink.NewLink(rw)
	link.HostAddress = c.HostAddress
	opts := c.Options()
	for _, addr := range c.Modules {
		link.NewModule(byte(addr)).WithOptions(opts)
	}
	return link, nil
}

// OpenLink opens the stream and creates the Link.
func (c *Config) OpenLink(ctx context.Context) (*modlink.Link, io.Closer, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	rwc, err := transport.Open(ctx, c.URL)
	if err != nil {
		return nil, nil, err
	}
	link, err := c.NewLink(rwc)
	if err != nil {
		rwc.Close()
		return nil, nil, err
	}
	return link, rwc, nil
}

// ConnectBroker connects to the broker.
func (c *Config) ConnectBroker() (*mqtt.Queue, error) {
	q, err := mqtt.NewQueueFromURL(c.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}
	if err = q.Connect(); err != nil {
		return nil, err
	}
	return q, nil
}
