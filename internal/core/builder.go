package core

import (
	"fmt"
	"time"

	"otad/config"
	"otad/internal/client"
	"otad/internal/device"
	"otad/internal/journal"
	"otad/internal/metrics"
	"otad/internal/partition"
	"otad/internal/retry"
	"otad/internal/transport"
	"otad/tunnel"
	"otad/util"
)

// Build constructs the appropriate Mode from the given configuration.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	if cfg.Serve {
		return buildServe(cfg, logger)
	}
	return buildPush(cfg, logger)
}

// ── mode builders ────────────────────────────────────────────────────

func buildServe(cfg *config.Config, logger *util.Logger) (Mode, error) {
	layout, err := partition.Lookup(cfg.FlashClass)
	if err != nil {
		return nil, err
	}

	m := &ServeMode{
		Address:     util.FormatAddr(cfg.BindAddress, cfg.EffectivePort()),
		Layout:      layout,
		ChunkSize:   cfg.ChunkSize,
		IdleTimeout: cfg.IdleTimeout,
		MaxConns:    cfg.MaxConns,
		RebootDelay: cfg.RebootDelay,
		Logger:      logger,
		Metrics:     metrics.New(),
	}
	if err := attachDevice(m, cfg, logger); err != nil {
		m.close()
		return nil, err
	}
	return m, nil
}

// attachDevice opens the flash backing, the journal and the simulated
// boot controller.  Whatever was opened is registered on m.closers.
func attachDevice(m *ServeMode, cfg *config.Config, logger *util.Logger) error {
	if cfg.FlashImage != "" {
		ff, err := device.OpenFileFlash(cfg.FlashImage, m.Layout.FlashSize)
		if err != nil {
			return err
		}
		m.closers = append(m.closers, ff)
		m.Flash = ff
	} else {
		m.Flash = device.NewMemFlash(m.Layout.FlashSize)
	}

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		m.closers = append(m.closers, j)
		m.Journal = j
	}

	active, err := activeBank(cfg, m.Journal, logger)
	if err != nil {
		return err
	}
	m.Device = device.NewSim(active, logger)
	return nil
}

// activeBank picks the running bank: the flag, else the last commit in
// the journal, else bank A.
func activeBank(cfg *config.Config, j *journal.Journal, logger *util.Logger) (partition.Bank, error) {
	if cfg.ActiveBank != "" {
		return partition.ParseBank(cfg.ActiveBank)
	}
	if j != nil {
		c, ok, err := j.LastCommit()
		if err != nil {
			return partition.BankA, err
		}
		if ok {
			logger.Verbose("journal: last commit was bank %s at %s", c.Bank, c.At.Format("2006-01-02 15:04:05"))
			return partition.ParseBank(c.Bank)
		}
	}
	return partition.BankA, nil
}

func buildPush(cfg *config.Config, logger *util.Logger) (Mode, error) {
	return &PushMode{
		Client: &client.Client{
			Dialer:  buildDialer(cfg, logger),
			Address: util.FormatAddr(cfg.Host, cfg.EffectivePort()),
			Timeout: cfg.Timeout,
			Backoff: dialBackoff(cfg, logger),
			Logger:  logger,
		},
		Next:   cfg.Next,
		Upload: cfg.Upload,
		Reboot: cfg.Reboot,
		Logger: logger,
	}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&tunnel.Config{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   cfg.Timeout,
			KeepAlive:     config.DefaultSSHKeepAlive,
		}, logger)
	}
	return &transport.TCPDialer{Timeout: cfg.Timeout}
}

func dialBackoff(cfg *config.Config, logger *util.Logger) *retry.Backoff {
	b := retry.DialBackoff(cfg.Retries)
	b.InitialDelay = config.DefaultRetryBackoff
	b.MaxDelay = config.DefaultMaxRetryBackoff
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("%s unreachable (attempt %d/%d): %v; retrying in %s",
			describe(cfg), attempt, cfg.Retries, err, wait.Round(time.Millisecond))
	}
	return b
}

func describe(cfg *config.Config) string {
	if cfg.TunnelEnabled {
		return fmt.Sprintf("%s via %s", cfg.Host, cfg.TunnelHost)
	}
	return cfg.Host
}
