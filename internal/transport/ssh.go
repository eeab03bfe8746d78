package transport

import (
	"context"
	"net"

	"otad/tunnel"
	"otad/util"
)

// SSHDialer reaches devices through an SSH jump host.  The jump host
// is logged in to on the first Dial and again whenever the SSH
// connection has dropped in between.
type SSHDialer struct {
	jump   *tunnel.Jump
	logger *util.Logger
}

// NewSSHDialer returns a dialer that tunnels through the host in cfg.
func NewSSHDialer(cfg *tunnel.Config, logger *util.Logger) *SSHDialer {
	return &SSHDialer{jump: tunnel.New(cfg, logger), logger: logger}
}

// Dial connects to address as seen from the jump host.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.jump.Dial(ctx, network, address)
	if err != nil {
		return nil, err
	}
	d.logger.Verbose("connected to %s via %s", address, d.jump)
	return conn, nil
}

// Close logs out of the jump host.
func (d *SSHDialer) Close() error { return d.jump.Close() }
