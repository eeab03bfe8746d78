package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.

const (
	// DefaultDevicePort is where devices serve the OTA endpoint.
	DefaultDevicePort = 80

	// DefaultServePort is the bind port of the simulated device, kept
	// unprivileged.
	DefaultServePort = 8266

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultSSHKeepAlive is the interval between keepalives sent to
	// the jump host.
	DefaultSSHKeepAlive = 30 * time.Second

	// DefaultFlashClass is the 1 MiB, 512+512 layout.
	DefaultFlashClass = 2

	// DefaultChunkSize is the number of image bytes per flash write.
	DefaultChunkSize = 256

	// DefaultIdleTimeout drops connections that stop sending.
	DefaultIdleTimeout = 10 * time.Second

	// DefaultMaxConns is the number of simultaneous TCP connections the
	// device accepts; a second one pre-empts the first session.
	DefaultMaxConns = 2

	// DefaultRebootDelay gives the commit response time to leave the
	// device before it restarts.
	DefaultRebootDelay = 200 * time.Millisecond

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 10 * time.Second

	// DefaultRetries is how many times a client dials before giving up.
	// Devices refuse connections for a few seconds while rebooting.
	DefaultRetries = 5

	// DefaultRetryBackoff is the first delay between dial attempts.
	DefaultRetryBackoff = 500 * time.Millisecond

	// DefaultMaxRetryBackoff caps the delay between dial attempts.
	DefaultMaxRetryBackoff = 5 * time.Second
)
