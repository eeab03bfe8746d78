package core

import (
	"context"
	"fmt"
	"io"
	"os"

	"otad/internal/client"
	"otad/util"
)

// PushMode runs client operations against a device, in order: query
// the next image, upload, reboot.
type PushMode struct {
	Client *client.Client
	Next   bool
	Upload string // file, or directory holding user1.bin/user2.bin
	Reboot bool
	Logger *util.Logger

	// Stdout receives the --next answer; defaults to os.Stdout.
	Stdout io.Writer
}

func (m *PushMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run performs the requested operations.  The dialer is closed when
// Run returns.
func (m *PushMode) Run(ctx context.Context) error {
	defer m.Client.Dialer.Close()

	if m.Next {
		name, err := m.Client.Next(ctx)
		if err != nil {
			return fmt.Errorf("next: %w", err)
		}
		fmt.Fprintln(m.stdout(), name)
	}

	if m.Upload != "" {
		file, digest, err := m.Client.UploadPath(ctx, m.Upload)
		if err != nil {
			return fmt.Errorf("upload %s: %w", m.Upload, err)
		}
		m.Logger.Info("uploaded %s to %s (blake2b %s)", file, m.Client.Address, digest)
	}

	if m.Reboot {
		if err := m.Client.Reboot(ctx); err != nil {
			return fmt.Errorf("reboot: %w", err)
		}
		m.Logger.Info("%s is rebooting into the new image", m.Client.Address)
	}
	return nil
}
