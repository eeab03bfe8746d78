// Package config defines the runtime configuration for otad and
// provides helpers for parsing tunnel specifications and ports.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	ncerr "otad/internal/errors"
	"otad/internal/handler"
	"otad/internal/partition"
	"otad/internal/session"
)

// Config holds every tuneable for one otad invocation: either a
// simulated device serving the OTA endpoint, or a client pushing to
// one.
type Config struct {
	// ── Connection ───────────────────────────────────────────────────
	Host    string
	Port    int // destination port (client) or bind port (serve)
	Timeout time.Duration
	Retries int // dial attempts before giving up (client)

	// ── Device (serve mode) ──────────────────────────────────────────
	Serve       bool
	BindAddress string
	FlashImage  string // backing file; empty keeps flash in memory
	FlashClass  int
	ActiveBank  string // "A" or "B"; empty means journal, then A
	ChunkSize   int
	IdleTimeout time.Duration
	MaxConns    int
	RebootDelay time.Duration
	JournalPath string

	// ── Client operations ────────────────────────────────────────────
	Next   bool   // query the image the device wants next
	Upload string // image file, or a directory holding user1/user2.bin
	Reboot bool   // commit and reboot after (or without) an upload

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	DryRun  bool
}

// New returns a Config filled with defaults.
func New() *Config {
	return &Config{
		Timeout:     DefaultConnTimeout,
		Retries:     DefaultRetries,
		FlashClass:  DefaultFlashClass,
		ChunkSize:   DefaultChunkSize,
		IdleTimeout: DefaultIdleTimeout,
		MaxConns:    DefaultMaxConns,
		RebootDelay: DefaultRebootDelay,
	}
}

// EffectivePort returns Port, or the mode's default when unset.
func (c *Config) EffectivePort() int {
	if c.Port > 0 {
		return c.Port
	}
	if c.Serve {
		return DefaultServePort
	}
	return DefaultDevicePort
}

// ── Port helpers ─────────────────────────────────────────────────────

// ParsePort accepts a decimal port number in 1-65535.
func ParsePort(spec string) (int, error) {
	port, err := strconv.Atoi(spec)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", spec)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return port, nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q: expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return &ncerr.ConfigError{Field: "port", Value: c.Port, Message: "out of range 1-65535"}
	}
	if c.Serve {
		return c.validateServe()
	}
	return c.validateClient()
}

func (c *Config) validateServe() error {
	if c.Next || c.Upload != "" || c.Reboot {
		return fmt.Errorf("serve mode (-l) cannot be combined with --next, --upload or --reboot")
	}
	if c.TunnelEnabled {
		return fmt.Errorf("serve mode through an SSH tunnel is not supported")
	}
	if c.FlashClass < 0 || c.FlashClass > partition.MaxClass {
		return &ncerr.ConfigError{
			Field:   "flash-class",
			Value:   c.FlashClass,
			Message: "unknown flash size class",
			Hint:    fmt.Sprintf("use a class between 0 and %d", partition.MaxClass),
		}
	}
	if c.ActiveBank != "" {
		if _, err := partition.ParseBank(c.ActiveBank); err != nil {
			return &ncerr.ConfigError{Field: "bank", Value: c.ActiveBank, Message: err.Error(), Hint: "use A or B"}
		}
	}
	if err := handler.ValidateChunkSize(c.ChunkSize); err != nil {
		return &ncerr.ConfigError{
			Field:   "chunk-size",
			Value:   c.ChunkSize,
			Message: err.Error(),
			Hint:    fmt.Sprintf("use a power of two from 16 to %d", session.BufferSize),
		}
	}
	if c.MaxConns < 1 {
		return &ncerr.ConfigError{Field: "max-conns", Value: c.MaxConns, Message: "at least one connection is required"}
	}
	if c.RebootDelay < 0 {
		return &ncerr.ConfigError{Field: "reboot-delay", Value: c.RebootDelay, Message: "must not be negative"}
	}
	return nil
}

func (c *Config) validateClient() error {
	if c.Host == "" {
		return fmt.Errorf("device host is required (use --help for usage)")
	}
	if !c.Next && c.Upload == "" && !c.Reboot {
		return &ncerr.ConfigError{
			Field:   "upload",
			Message: "nothing to do",
			Hint:    "pass --next, --upload FILE|DIR and/or --reboot, or -l to serve",
		}
	}
	if c.Retries < 1 {
		return &ncerr.ConfigError{Field: "retries", Value: c.Retries, Message: "at least one attempt is required"}
	}
	if c.TunnelEnabled && c.TunnelHost == "" {
		return fmt.Errorf("tunnel host is required")
	}
	return nil
}
