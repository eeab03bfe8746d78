// Package cmd wires up the CLI flags and dispatches to the serve or
// push mode.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"otad/config"
	"otad/internal/core"
	"otad/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X otad/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the selected mode.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg := config.New()
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("otad", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// ── connection ───────────────────────────────────────────────
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Device port (client) or bind port (-l)")
	timeoutSec := int(cfg.Timeout / time.Second)
	fs.IntVarP(&timeoutSec, "timeout", "w", timeoutSec, "Connect and I/O timeout in seconds")
	fs.IntVar(&cfg.Retries, "retries", cfg.Retries, "Dial attempts before giving up")

	// ── device (serve mode) ──────────────────────────────────────
	fs.BoolVarP(&cfg.Serve, "serve", "l", cfg.Serve, "Serve the OTA endpoint of a simulated device")
	fs.StringVar(&cfg.BindAddress, "bind", cfg.BindAddress, "Address to bind in serve mode")
	fs.StringVar(&cfg.FlashImage, "flash", cfg.FlashImage, "Flash image file (default: in memory)")
	fs.IntVar(&cfg.FlashClass, "flash-class", cfg.FlashClass, "Flash size class of the device (0-6)")
	fs.StringVar(&cfg.ActiveBank, "bank", cfg.ActiveBank, "Running bank, A or B (default: journal, then A)")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "Bytes written to flash per round")
	idleSec := int(cfg.IdleTimeout / time.Second)
	fs.IntVar(&idleSec, "idle-timeout", idleSec, "Drop silent connections after N seconds")
	fs.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "Concurrent TCP connections accepted")
	fs.DurationVar(&cfg.RebootDelay, "reboot-delay", cfg.RebootDelay, "Delay between the reboot response and the restart")
	fs.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "SQLite journal of uploads and commits")

	// ── client operations ────────────────────────────────────────
	fs.BoolVar(&cfg.Next, "next", cfg.Next, "Print the image the device wants next")
	fs.StringVar(&cfg.Upload, "upload", cfg.Upload, "Upload an image FILE, or the wanted image from DIR")
	fs.BoolVar(&cfg.Reboot, "reboot", cfg.Reboot, "Commit the uploaded image and reboot the device")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Reach the device via SSH jump host [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate the configuration and exit")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(stderr, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || len(args) == 0 {
		printUsage(stderr, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "otad %s\n", version)
		return nil
	}

	cfg.Timeout = time.Duration(timeoutSec) * time.Second
	cfg.IdleTimeout = time.Duration(idleSec) * time.Second

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}

	// ── tunnel spec ──────────────────────────────────────────────
	if cfg.TunnelSpec != "" {
		user, host, port, err := config.ParseTunnelSpec(cfg.TunnelSpec)
		if err != nil {
			return fmt.Errorf("tunnel: %w", err)
		}
		cfg.TunnelEnabled = true
		cfg.TunnelUser = user
		cfg.TunnelHost = host
		cfg.TunnelPort = port
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.NewLogger(cfg.Verbose)
	if cfg.DryRun {
		logger.Info("configuration valid: %s", summary(cfg))
		return nil
	}

	// ── build and run ────────────────────────────────────────────
	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	if pm, ok := mode.(*core.PushMode); ok {
		pm.Stdout = stdout
		if isTerminal(stderr) {
			pm.Client.Progress = progressBar(stderr)
		}
	}
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

// parsePositional takes "host [port]" for client modes and an optional
// "[bind-address [port]]" for serve mode.
func parsePositional(cfg *config.Config, remaining []string) error {
	if len(remaining) > 2 {
		return fmt.Errorf("too many arguments: %s", strings.Join(remaining, " "))
	}
	if len(remaining) == 0 {
		return nil
	}
	if cfg.Serve {
		cfg.BindAddress = remaining[0]
	} else {
		cfg.Host = remaining[0]
	}
	if len(remaining) == 2 {
		port, err := config.ParsePort(remaining[1])
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		cfg.Port = port
	}
	return nil
}

func summary(cfg *config.Config) string {
	if cfg.Serve {
		return fmt.Sprintf("serve on %s, flash class %d, chunk %d",
			util.FormatAddr(cfg.BindAddress, cfg.EffectivePort()), cfg.FlashClass, cfg.ChunkSize)
	}
	var ops []string
	if cfg.Next {
		ops = append(ops, "next")
	}
	if cfg.Upload != "" {
		ops = append(ops, "upload "+cfg.Upload)
	}
	if cfg.Reboot {
		ops = append(ops, "reboot")
	}
	target := util.FormatAddr(cfg.Host, cfg.EffectivePort())
	if cfg.TunnelEnabled {
		target += " via " + cfg.TunnelHost
	}
	return fmt.Sprintf("%s on %s", strings.Join(ops, ", "), target)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// progressBar redraws a single status line on w.
func progressBar(w io.Writer) func(sent, total int) {
	return func(sent, total int) {
		const width = 30
		filled := width
		if total > 0 {
			filled = sent * width / total
		}
		fmt.Fprintf(w, "\r[%s%s] %d/%d bytes", strings.Repeat("#", filled), strings.Repeat(".", width-filled), sent, total)
		if sent >= total {
			fmt.Fprintln(w)
		}
	}
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `otad - dual-bank OTA firmware update endpoint and client v%s

Usage:
  otad -l [options] [bind-address [port]]     Serve a simulated device
  otad --next <host> [port]                   Ask which image the device wants
  otad --upload FILE|DIR <host> [port]        Flash the inactive bank
  otad --reboot <host> [port]                 Commit and reboot

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  otad -l --flash dev.img --journal ota.db    Device on :8266 with persistent flash
  otad --upload build/ --reboot esp-link      Upload user1.bin or user2.bin, then reboot
  otad -T admin@bastion --next 10.0.0.50      Query a device behind a jump host
`)
}
