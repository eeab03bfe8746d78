// Package client talks to a device's OTA endpoint: it asks which image
// the device wants, streams an image into the inactive bank, and
// commits it with a reboot.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	ncerr "otad/internal/errors"
	"otad/internal/partition"
	"otad/internal/request"
	"otad/internal/retry"
	"otad/internal/transport"
	"otad/util"
)

// sendChunk is how much of an image is written per Write call; the
// progress callback fires after each one.
const sendChunk = 1024

// Client issues OTA requests to one device.
type Client struct {
	Dialer  transport.Dialer
	Address string        // host:port of the device
	Timeout time.Duration // per-request I/O deadline; 0 disables
	Backoff *retry.Backoff
	Logger  *util.Logger

	// Progress, if set, is called as image bytes are sent.
	Progress func(sent, total int)
}

// Response is a parsed device reply.
type Response struct {
	Status int
	Reason string
	Body   string
}

// Err returns a *StatusError for non-2xx responses.
func (r *Response) Err() error {
	if r.Status >= 200 && r.Status < 300 {
		return nil
	}
	return &ncerr.StatusError{Code: r.Status, Msg: r.Body}
}

// Next returns the image name the device wants for its inactive bank.
func (c *Client) Next(ctx context.Context) (string, error) {
	resp, err := c.roundTrip(ctx, "GET", request.PathNext, nil)
	if err != nil {
		return "", err
	}
	if err := resp.Err(); err != nil {
		return "", err
	}
	name := strings.TrimSpace(resp.Body)
	if _, err := partition.ParseBank(name); err != nil {
		return "", fmt.Errorf("device asked for unexpected image %q", name)
	}
	return name, nil
}

// Upload streams image to the device and returns its BLAKE2b-256
// digest.
func (c *Client) Upload(ctx context.Context, image []byte) (string, error) {
	sum := blake2b.Sum256(image)
	digest := hex.EncodeToString(sum[:])

	if h, err := partition.ParseHeader(image); err == nil {
		c.Logger.Verbose("image: %d bytes, flash class %d, partition marker %d", len(image), h.SizeClass, h.Marker)
		if h.Magic != partition.Magic {
			c.Logger.Warn("image does not start with the IROM magic byte; the device will reject it")
		}
	}

	resp, err := c.roundTrip(ctx, "POST", request.PathUpload, image)
	if err != nil {
		return "", err
	}
	if err := resp.Err(); err != nil {
		return "", err
	}
	return digest, nil
}

// UploadPath uploads the image at path.  When path is a directory the
// device is asked which image it wants and that file is taken from the
// directory.  It returns the file that was sent and its digest.
func (c *Client) UploadPath(ctx context.Context, path string) (file, digest string, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", "", err
	}
	file = path
	if fi.IsDir() {
		name, err := c.Next(ctx)
		if err != nil {
			return "", "", fmt.Errorf("asking device for next image: %w", err)
		}
		file = filepath.Join(path, name)
		c.Logger.Info("device wants %s", name)
	}

	image, err := os.ReadFile(file)
	if err != nil {
		return "", "", err
	}
	digest, err = c.Upload(ctx, image)
	return file, digest, err
}

// Reboot asks the device to commit the inactive bank and restart.
func (c *Client) Reboot(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, "POST", request.PathReboot, nil)
	if err != nil {
		return err
	}
	return resp.Err()
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	b := c.Backoff
	if b == nil {
		b = &retry.Backoff{MaxAttempts: 1}
	}
	var conn net.Conn
	err := b.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			c.Logger.Verbose("connecting to %s (attempt %d)", c.Address, attempt)
		}
		var err error
		conn, err = c.Dialer.Dial(ctx, "tcp", c.Address)
		if err != nil {
			return ncerr.Wrap("dial", c.Address, err)
		}
		return nil
	})
	return conn, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte) (*Response, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if c.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.Timeout)) //nolint:errcheck
	}

	c.Logger.Debug("%s %s (%d bytes) to %s", method, path, len(body), c.Address)
	head := fmt.Sprintf("%s %s HTTP/1.0\r\nHost: %s\r\nContent-Length: %d\r\n\r\n",
		method, path, c.Address, len(body))

	// A device that rejects a request early stops reading, so a failed
	// write is only reported when no response can be read either.
	werr := c.send(conn, []byte(head), body)

	raw, rerr := io.ReadAll(conn)
	resp, perr := ParseResponse(raw)
	if perr == nil {
		return resp, nil
	}
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case werr != nil:
		return nil, ncerr.Wrap("write", c.Address, werr)
	case rerr != nil:
		return nil, ncerr.Wrap("read", c.Address, rerr)
	}
	return nil, perr
}

func (c *Client) send(conn net.Conn, head, body []byte) error {
	if _, err := conn.Write(head); err != nil {
		return err
	}
	for sent := 0; sent < len(body); {
		n := min(sendChunk, len(body)-sent)
		if _, err := conn.Write(body[sent : sent+n]); err != nil {
			return err
		}
		sent += n
		if c.Progress != nil {
			c.Progress(sent, len(body))
		}
	}
	return nil
}

// ParseResponse decodes a complete device response.
func ParseResponse(raw []byte) (*Response, error) {
	end := bytes.Index(raw, []byte("\r\n\r\n"))
	if end < 0 {
		return nil, fmt.Errorf("malformed response (%d bytes)", len(raw))
	}
	lines := strings.Split(string(raw[:end]), "\r\n")
	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return nil, fmt.Errorf("malformed status line %q", lines[0])
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed status code %q", parts[1])
	}
	resp := &Response{Status: code, Body: string(raw[end+4:])}
	if len(parts) == 3 {
		resp.Reason = parts[2]
	}

	for _, l := range lines[1:] {
		k, v, ok := strings.Cut(l, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil && n >= 0 && n < len(resp.Body) {
			resp.Body = resp.Body[:n]
		}
		break
	}
	return resp, nil
}
