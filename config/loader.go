package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the OTAD_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations are given
// in seconds except OTAD_REBOOT_DELAY, which is in milliseconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("OTAD_HOST"); v != "" {
		cfg.Host = v
	}
	if v, ok := envInt("OTAD_PORT"); ok && v > 0 {
		cfg.Port = v
	}
	if v, ok := envInt("OTAD_TIMEOUT"); ok && v > 0 {
		cfg.Timeout = secondsDuration(v)
	}
	if v, ok := envInt("OTAD_RETRIES"); ok && v > 0 {
		cfg.Retries = v
	}

	// Device
	if envBool("OTAD_SERVE") {
		cfg.Serve = true
	}
	if v := os.Getenv("OTAD_BIND"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("OTAD_FLASH"); v != "" {
		cfg.FlashImage = v
	}
	if v, ok := envInt("OTAD_FLASH_CLASS"); ok {
		cfg.FlashClass = v
	}
	if v := os.Getenv("OTAD_BANK"); v != "" {
		cfg.ActiveBank = v
	}
	if v, ok := envInt("OTAD_CHUNK_SIZE"); ok && v > 0 {
		cfg.ChunkSize = v
	}
	if v, ok := envInt("OTAD_IDLE_TIMEOUT"); ok && v > 0 {
		cfg.IdleTimeout = secondsDuration(v)
	}
	if v, ok := envInt("OTAD_MAX_CONNS"); ok && v > 0 {
		cfg.MaxConns = v
	}
	if v, ok := envInt("OTAD_REBOOT_DELAY"); ok && v >= 0 {
		cfg.RebootDelay = time.Duration(v) * time.Millisecond
	}
	if v := os.Getenv("OTAD_JOURNAL"); v != "" {
		cfg.JournalPath = v
	}

	// SSH tunnel
	if v := os.Getenv("OTAD_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("OTAD_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("OTAD_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("OTAD_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("OTAD_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("OTAD_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v, ok := envInt("OTAD_VERBOSE"); ok && v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
