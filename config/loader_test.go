package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Connection(t *testing.T) {
	t.Setenv("OTAD_HOST", "esp.example.com")
	t.Setenv("OTAD_PORT", "8080")
	t.Setenv("OTAD_TIMEOUT", "3")
	t.Setenv("OTAD_RETRIES", "9")

	cfg := New()
	LoadFromEnv(cfg)
	if cfg.Host != "esp.example.com" || cfg.Port != 8080 {
		t.Errorf("host/port = %q/%d", cfg.Host, cfg.Port)
	}
	if cfg.Timeout != 3*time.Second || cfg.Retries != 9 {
		t.Errorf("timeout/retries = %v/%d", cfg.Timeout, cfg.Retries)
	}
}

func TestLoadFromEnv_Device(t *testing.T) {
	t.Setenv("OTAD_SERVE", "yes")
	t.Setenv("OTAD_FLASH", "/tmp/flash.img")
	t.Setenv("OTAD_FLASH_CLASS", "0")
	t.Setenv("OTAD_BANK", "B")
	t.Setenv("OTAD_CHUNK_SIZE", "128")
	t.Setenv("OTAD_IDLE_TIMEOUT", "4")
	t.Setenv("OTAD_MAX_CONNS", "3")
	t.Setenv("OTAD_REBOOT_DELAY", "50")
	t.Setenv("OTAD_JOURNAL", "/tmp/j.db")

	cfg := New()
	LoadFromEnv(cfg)
	if !cfg.Serve || cfg.FlashImage != "/tmp/flash.img" || cfg.ActiveBank != "B" {
		t.Errorf("device fields %+v", cfg)
	}
	if cfg.FlashClass != 0 {
		t.Errorf("FlashClass = %d, want 0 (explicit zero must override)", cfg.FlashClass)
	}
	if cfg.ChunkSize != 128 || cfg.MaxConns != 3 || cfg.IdleTimeout != 4*time.Second {
		t.Errorf("limits %+v", cfg)
	}
	if cfg.RebootDelay != 50*time.Millisecond || cfg.JournalPath != "/tmp/j.db" {
		t.Errorf("reboot/journal %v %q", cfg.RebootDelay, cfg.JournalPath)
	}
}

func TestLoadFromEnv_Booleans(t *testing.T) {
	tests := []struct {
		key    string
		values []string
		get    func(*Config) bool
	}{
		{"OTAD_SERVE", []string{"1", "true", "yes", "TRUE", "Yes"}, func(c *Config) bool { return c.Serve }},
		{"OTAD_SSH_PASSWORD", []string{"1", "true"}, func(c *Config) bool { return c.SSHPassword }},
		{"OTAD_SSH_AGENT", []string{"true"}, func(c *Config) bool { return c.UseSSHAgent }},
		{"OTAD_STRICT_HOSTKEY", []string{"1"}, func(c *Config) bool { return c.StrictHostKey }},
	}
	for _, tt := range tests {
		for _, v := range tt.values {
			t.Run(tt.key+"="+v, func(t *testing.T) {
				t.Setenv(tt.key, v)
				cfg := New()
				LoadFromEnv(cfg)
				if !tt.get(cfg) {
					t.Errorf("%s=%s not applied", tt.key, v)
				}
			})
		}
	}
}

func TestLoadFromEnv_IgnoresGarbage(t *testing.T) {
	t.Setenv("OTAD_PORT", "eighty")
	t.Setenv("OTAD_FLASH_CLASS", "two")
	t.Setenv("OTAD_SERVE", "maybe")

	cfg := New()
	LoadFromEnv(cfg)
	if cfg.Port != 0 || cfg.FlashClass != DefaultFlashClass || cfg.Serve {
		t.Errorf("garbage applied: %+v", cfg)
	}
}

func TestLoadFromEnv_Tunnel(t *testing.T) {
	t.Setenv("OTAD_TUNNEL", "ops@bastion:2222")
	t.Setenv("OTAD_SSH_KEY", "/home/ops/.ssh/id_ed25519")
	t.Setenv("OTAD_KNOWN_HOSTS", "/home/ops/.ssh/known_hosts")
	t.Setenv("OTAD_VERBOSE", "2")

	cfg := New()
	LoadFromEnv(cfg)
	if cfg.TunnelSpec != "ops@bastion:2222" || cfg.SSHKeyPath == "" || cfg.KnownHostsPath == "" {
		t.Errorf("tunnel fields %+v", cfg)
	}
	if cfg.Verbose != 2 {
		t.Errorf("Verbose = %d", cfg.Verbose)
	}
}
