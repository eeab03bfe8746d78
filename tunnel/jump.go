// Package tunnel reaches devices that sit behind an SSH jump host.
// Connections to the device are opened as direct-tcpip channels on a
// single long-lived SSH client, which is re-established transparently
// when it drops (for instance while the device reboots and the client
// keeps retrying).
package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "otad/internal/errors"
	"otad/util"
)

// Config holds everything needed to log in to the jump host.
type Config struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// KeepAlive is the interval between keepalive requests; 0 disables
	// them.
	KeepAlive time.Duration

	// Prompt reads a password or key passphrase.  Nil reads from the
	// controlling terminal.
	Prompt func(label string) ([]byte, error)
}

// Jump is a lazily connected SSH client used as a dialer.
type Jump struct {
	cfg    *Config
	logger *util.Logger

	mu     sync.Mutex
	client *ssh.Client
	closed bool
}

// New returns a Jump that connects on first use.
func New(cfg *Config, logger *util.Logger) *Jump {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &Jump{cfg: cfg, logger: logger}
}

// Addr is the jump host's host:port.
func (j *Jump) Addr() string {
	return net.JoinHostPort(j.cfg.Host, strconv.Itoa(j.cfg.Port))
}

// Connect logs in to the jump host unless a live client exists.
func (j *Jump) Connect(ctx context.Context) error {
	_, err := j.get(ctx)
	return err
}

// Alive reports whether a client is currently connected.
func (j *Jump) Alive() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.client != nil
}

// Dial opens network/address as seen from the jump host.
func (j *Jump) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	client, err := j.get(ctx)
	if err != nil {
		return nil, err
	}
	j.logger.Debug("tunnel: dialing %s %s via %s", network, address, j.Addr())
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, ncerr.Wrap("tunnel dial", address, err)
	}
	return conn, nil
}

// Close logs out.  Later Dial calls fail with ErrTunnelClosed.
func (j *Jump) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	if j.client == nil {
		return nil
	}
	err := j.client.Close()
	j.client = nil
	return err
}

func (j *Jump) get(ctx context.Context) (*ssh.Client, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ncerr.ErrTunnelClosed
	}
	if j.client != nil {
		return j.client, nil
	}

	client, err := j.handshake(ctx)
	if err != nil {
		return nil, err
	}
	j.client = client
	go j.watch(client)
	if j.cfg.KeepAlive > 0 {
		go j.keepAlive(client, j.cfg.KeepAlive)
	}
	return client, nil
}

func (j *Jump) handshake(ctx context.Context) (*ssh.Client, error) {
	auth, err := BuildAuthMethods(j.cfg)
	if err != nil {
		return nil, ncerr.WrapSSH("auth", j.cfg.Host, j.cfg.Port, err)
	}
	hostKey, err := hostKeyCallback(j.cfg)
	if err != nil {
		return nil, ncerr.WrapSSH("hostkey", j.cfg.Host, j.cfg.Port, err)
	}

	addr := j.Addr()
	j.logger.Verbose("tunnel: logging in to %s as %s", addr, j.cfg.User)

	dialer := net.Dialer{Timeout: j.cfg.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ncerr.Wrap("dial", addr, err)
	}

	// The handshake itself is not context aware; closing the socket
	// unblocks it, and the deadline bounds a silent server.
	stop := context.AfterFunc(ctx, func() { tcpConn.Close() })
	defer stop()
	deadline := time.Now().Add(j.cfg.ConnTimeout)
	tcpConn.SetDeadline(deadline) //nolint:errcheck

	var keyErr error
	checkKey := func(host string, remote net.Addr, key ssh.PublicKey) error {
		keyErr = hostKey(host, remote, key)
		return keyErr
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, &ssh.ClientConfig{
		User:            j.cfg.User,
		Auth:            auth,
		HostKeyCallback: checkKey,
		Timeout:         j.cfg.ConnTimeout,
	})
	if err != nil {
		tcpConn.Close()
		timedOut := ctx.Err() != nil || !time.Now().Before(deadline)
		op, cause := handshakeError(err, keyErr, timedOut)
		return nil, ncerr.WrapSSH(op, j.cfg.Host, j.cfg.Port, cause)
	}
	tcpConn.SetDeadline(time.Time{}) //nolint:errcheck
	j.logger.Verbose("tunnel: connected to %s (%s)", addr, sshConn.ServerVersion())
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// handshakeError tags a failed login with the sentinel for its cause.
func handshakeError(err, keyErr error, timedOut bool) (op string, cause error) {
	switch {
	case keyErr != nil:
		return "hostkey", fmt.Errorf("%w: %w", ncerr.ErrHostKeyMismatch, keyErr)
	case strings.Contains(err.Error(), "unable to authenticate"):
		return "auth", fmt.Errorf("%w: %w", ncerr.ErrAuthFailed, err)
	case timedOut:
		return "handshake", fmt.Errorf("%w: %w", ncerr.ErrTimeout, err)
	}
	return "handshake", err
}

// watch forgets client once its connection ends so the next Dial logs
// in again.
func (j *Jump) watch(client *ssh.Client) {
	err := client.Wait()

	j.mu.Lock()
	if j.client == client {
		j.client = nil
	}
	j.mu.Unlock()

	if err != nil {
		j.logger.Debug("tunnel: connection to %s closed: %v", j.Addr(), err)
	} else {
		j.logger.Debug("tunnel: connection to %s closed", j.Addr())
	}
}

func (j *Jump) keepAlive(client *ssh.Client, every time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for range tick.C {
		j.mu.Lock()
		current := j.client == client
		j.mu.Unlock()
		if !current {
			return
		}
		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			j.logger.Warn("tunnel: keepalive to %s failed: %v", j.Addr(), err)
			client.Close()
			return
		}
	}
}

// String describes the jump host for log lines.
func (j *Jump) String() string {
	if j.cfg.User == "" {
		return j.Addr()
	}
	return fmt.Sprintf("%s@%s", j.cfg.User, j.Addr())
}
