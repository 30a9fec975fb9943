// Package config loads the ftpd configuration file.
//
// The file is TOML. Every key is optional; missing keys keep their default.
// A value that fails validation is reported and replaced by its default, so a
// bad setting never stops the server from starting.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/gonzalop/ftpd/internal/logging"
	"github.com/gonzalop/ftpd/server"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "ftpd.toml"

// Duration is a time.Duration written as a Go duration string ("15m", "5s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the whole configuration file.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Accounts AccountsConfig `toml:"accounts"`
	Logging  LoggingConfig  `toml:"logging"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// ServerConfig holds the [server] table.
type ServerConfig struct {
	BindAddress       string   `toml:"bind_address"`
	BindPort          int      `toml:"bind_port"`
	ConnectionsLimit  int      `toml:"connections_limit"`
	ClientIdleTimeout Duration `toml:"client_idle_timeout"`
	FailLoginDelay    Duration `toml:"fail_login_delay"`
	UserQuota         int64    `toml:"user_quota"`
	HelloMessage      string   `toml:"hello_message"`
	HelloFile         string   `toml:"hello_file"` // relative to the config file
	PasvAddress       string   `toml:"pasv_address"`
	PasvMinPort       int      `toml:"pasv_min_port"`
	PasvMaxPort       int      `toml:"pasv_max_port"`
	DataTimeout       Duration `toml:"data_timeout"`
	ReapInterval      Duration `toml:"reap_interval"`
	BandwidthLimit    int64    `toml:"bandwidth_limit"` // bytes per second, 0 = unlimited
	BounceProtection  bool     `toml:"port_bounce_protection"`
	DisabledCommands  []string `toml:"disabled_commands"`
}

// AccountsConfig holds the [accounts] table.
type AccountsConfig struct {
	Backend string `toml:"backend"` // file, sqlite or postgres
	File    string `toml:"file"`
	DSN     string `toml:"dsn"`
}

// LoggingConfig holds the [logging] table.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
	File   string `toml:"file"`
}

// MetricsConfig holds the [metrics] table.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindPort:          21,
			ConnectionsLimit:  server.DefaultConnectionLimit,
			ClientIdleTimeout: Duration{server.DefaultIdleTimeout},
			FailLoginDelay:    Duration{server.DefaultFailLoginDelay},
			UserQuota:         server.Unlimited,
			DataTimeout:       Duration{server.DefaultDataTimeout},
			ReapInterval:      Duration{server.DefaultReapInterval},
		},
		Accounts: AccountsConfig{
			Backend: "file",
			File:    "accounts.yaml",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Address: "127.0.0.1:9121",
		},
	}
}

// Load reads path over the defaults. Relative file names inside the
// configuration are resolved against the directory of path.
//
// The returned keys are those present in the file but unknown to Config.
// Call Validate afterwards to sanitize the values.
func Load(path string) (*Config, []string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	cfg, unknown, err := Parse(string(content))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, unknown, nil
}

// Parse decodes TOML content over the defaults.
func Parse(content string) (*Config, []string, error) {
	cfg := Default()
	md, err := toml.Decode(content, cfg)
	if err != nil {
		return nil, nil, err
	}
	var unknown []string
	for _, key := range md.Undecoded() {
		unknown = append(unknown, key.String())
	}
	return cfg, unknown, nil
}

func (c *Config) resolve(dir string) {
	rel := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Server.HelloFile = rel(c.Server.HelloFile)
	c.Accounts.File = rel(c.Accounts.File)
	if c.Logging.File != "" {
		c.Logging.File = rel(c.Logging.File)
	}
}

// Validate replaces every invalid value with its default. The returned error,
// if any, is a *multierror.Error listing each replacement.
func (c *Config) Validate() error {
	def := Default()
	var errs *multierror.Error
	reset := func(key string, bad any, why string) {
		errs = multierror.Append(errs, fmt.Errorf("%s = %v: %s, using default", key, bad, why))
	}

	s := &c.Server
	if s.BindAddress != "" && net.ParseIP(s.BindAddress) == nil {
		reset("server.bind_address", s.BindAddress, "not an IP address")
		s.BindAddress = def.Server.BindAddress
	}
	if s.BindPort < 1 || s.BindPort > 65535 {
		reset("server.bind_port", s.BindPort, "out of range")
		s.BindPort = def.Server.BindPort
	}
	if s.ConnectionsLimit <= 0 {
		reset("server.connections_limit", s.ConnectionsLimit, "must be positive")
		s.ConnectionsLimit = def.Server.ConnectionsLimit
	}
	if s.ClientIdleTimeout.Duration <= 0 {
		reset("server.client_idle_timeout", s.ClientIdleTimeout, "must be positive")
		s.ClientIdleTimeout = def.Server.ClientIdleTimeout
	}
	if s.FailLoginDelay.Duration < 0 {
		reset("server.fail_login_delay", s.FailLoginDelay, "must not be negative")
		s.FailLoginDelay = def.Server.FailLoginDelay
	}
	if s.UserQuota < server.Unlimited {
		reset("server.user_quota", s.UserQuota, "must be -1 or more")
		s.UserQuota = def.Server.UserQuota
	}
	if s.HelloFile != "" {
		if info, err := os.Stat(s.HelloFile); err != nil || info.IsDir() {
			reset("server.hello_file", s.HelloFile, "not a readable file")
			s.HelloFile = def.Server.HelloFile
		}
	}
	if s.PasvAddress != "" {
		if ip := net.ParseIP(s.PasvAddress); ip == nil || ip.To4() == nil {
			reset("server.pasv_address", s.PasvAddress, "not an IPv4 address")
			s.PasvAddress = def.Server.PasvAddress
		}
	}
	if s.PasvMinPort != 0 || s.PasvMaxPort != 0 {
		if s.PasvMinPort < 1 || s.PasvMaxPort > 65535 || s.PasvMinPort > s.PasvMaxPort {
			reset("server.pasv_min_port/pasv_max_port",
				fmt.Sprintf("%d-%d", s.PasvMinPort, s.PasvMaxPort), "invalid range")
			s.PasvMinPort, s.PasvMaxPort = 0, 0
		}
	}
	if s.DataTimeout.Duration <= 0 {
		reset("server.data_timeout", s.DataTimeout, "must be positive")
		s.DataTimeout = def.Server.DataTimeout
	}
	if s.ReapInterval.Duration <= 0 {
		reset("server.reap_interval", s.ReapInterval, "must be positive")
		s.ReapInterval = def.Server.ReapInterval
	}
	if s.BandwidthLimit < 0 {
		reset("server.bandwidth_limit", s.BandwidthLimit, "must not be negative")
		s.BandwidthLimit = def.Server.BandwidthLimit
	}
	kept := s.DisabledCommands[:0]
	for _, cmd := range s.DisabledCommands {
		if err := server.CheckDisableable(cmd); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("server.disabled_commands: %w, ignored", err))
			continue
		}
		kept = append(kept, cmd)
	}
	s.DisabledCommands = kept

	a := &c.Accounts
	switch a.Backend {
	case "file":
		if a.File == "" {
			reset("accounts.file", `""`, "empty")
			a.File = def.Accounts.File
		}
	case "sqlite", "postgres":
		if a.DSN == "" {
			errs = multierror.Append(errs, fmt.Errorf("accounts.dsn is required for backend %q", a.Backend))
		}
	default:
		reset("accounts.backend", a.Backend, "unknown backend")
		a.Backend = def.Accounts.Backend
	}

	l := &c.Logging
	if _, err := logging.ParseLevel(l.Level); err != nil {
		reset("logging.level", l.Level, "unknown level")
		l.Level = def.Logging.Level
	}
	switch strings.ToLower(l.Format) {
	case "text", "console", "json":
	default:
		reset("logging.format", l.Format, "unknown format")
		l.Format = def.Logging.Format
	}
	switch strings.ToLower(l.Output) {
	case "stderr", "stdout":
	case "file":
		if l.File == "" {
			reset("logging.output", l.Output, "no logging.file set")
			l.Output = def.Logging.Output
		}
	default:
		reset("logging.output", l.Output, "unknown output")
		l.Output = def.Logging.Output
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Address); err != nil {
			reset("metrics.address", c.Metrics.Address, "not host:port")
			c.Metrics.Address = def.Metrics.Address
		}
	}

	return errs.ErrorOrNil()
}

// Addr is the control listener address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.BindAddress, strconv.Itoa(c.Server.BindPort))
}

// LoggingOptions converts the [logging] table.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
		File:   c.Logging.File,
	}
}

// ServerOptions converts the [server] table. The account store, logger and
// metrics collector are added by the caller.
func (c *Config) ServerOptions() []server.Option {
	s := c.Server
	opts := []server.Option{
		server.WithConnectionLimit(s.ConnectionsLimit),
		server.WithIdleTimeout(s.ClientIdleTimeout.Duration),
		server.WithFailLoginDelay(s.FailLoginDelay.Duration),
		server.WithDefaultQuota(s.UserQuota),
		server.WithDataTimeout(s.DataTimeout.Duration),
		server.WithReapInterval(s.ReapInterval.Duration),
		server.WithBandwidthLimit(s.BandwidthLimit),
		server.WithBounceProtection(s.BounceProtection),
		server.WithPassiveAddress(s.PasvAddress),
		server.WithPassivePorts(s.PasvMinPort, s.PasvMaxPort),
		server.WithHelloMessage(s.HelloMessage),
		server.WithHelloFile(s.HelloFile),
	}
	if len(s.DisabledCommands) > 0 {
		opts = append(opts, server.WithDisabledCommands(s.DisabledCommands...))
	}
	return opts
}

// IsNotExist reports whether err from Load means the file is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
