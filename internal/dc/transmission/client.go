// Package transmission hands descriptor files to a Transmission daemon by
// running transmission-remote.
package transmission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/italolelis/watchdir/internal/logctx"
	"github.com/italolelis/watchdir/internal/transfer"
)

const DefaultBinary = "transmission-remote"

// Client runs one transmission-remote process per hand-off.
type Client struct {
	binary string
	host   string
	// authEnv passes --authenv so credentials come from TR_AUTH.
	authEnv bool
}

// NewClient creates a Transmission worker. An empty binary falls back to
// DefaultBinary.
func NewClient(binary, host string, authEnv bool) *Client {
	if binary == "" {
		binary = DefaultBinary
	}

	return &Client{
		binary:  binary,
		host:    host,
		authEnv: authEnv,
	}
}

func (c *Client) Name() string {
	return "transmission"
}

// Args builds the transmission-remote arguments for req. Paths are made
// absolute and extra arguments come last, unchanged.
func (c *Client) Args(req transfer.Request) ([]string, error) {
	torrent, err := filepath.Abs(req.TorrentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve torrent path: %w", err)
	}

	dest, err := filepath.Abs(req.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download dir: %w", err)
	}

	args := []string{c.host, "--add", torrent, "--download-dir", dest}
	if c.authEnv {
		args = append(args, "--authenv")
	}

	return append(args, req.ExtraArgs...), nil
}

// Add runs transmission-remote once. A non-zero exit yields
// *transfer.ExitStatusError; a process that cannot start yields
// *transfer.InvocationError.
func (c *Client) Add(ctx context.Context, req transfer.Request) error {
	args, err := c.Args(req)
	if err != nil {
		return &transfer.InvocationError{Command: c.binary, Err: err}
	}

	logger := logctx.LoggerFromContext(ctx)
	logger.DebugContext(ctx, "running transmission-remote", "binary", c.binary, "args", args)

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.Exited() {
			return &transfer.ExitStatusError{
				Command:  c.binary,
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
				Err:      err,
			}
		}

		return &transfer.InvocationError{Command: c.binary, Err: err}
	}

	if out := strings.TrimSpace(stdout.String()); out != "" {
		logger.DebugContext(ctx, "transmission-remote output", "stdout", out)
	}

	return nil
}
