package putio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/italolelis/watchdir/internal/logctx"
	"github.com/italolelis/watchdir/internal/transfer"
	"github.com/putdotio/go-putio"
	"golang.org/x/oauth2"
)

const maxTorrentSize = 10 * 1024 * 1024 // 10MB max torrent file size

// Client uploads descriptor files to Put.io, which turns each into a transfer.
type Client struct {
	putioClient *putio.Client
	parentDir   string
}

// NewClient creates a Put.io worker. Uploads land in parentDir when set,
// otherwise in the folder named after the request's download directory.
func NewClient(token, parentDir string) *Client {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(context.Background(), tokenSource)

	return &Client{
		putioClient: putio.NewClient(oauthClient),
		parentDir:   parentDir,
	}
}

func (c *Client) Name() string {
	return "putio"
}

func (c *Client) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "authenticating with Put.io")

	user, err := c.putioClient.Account.Info(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to get account info", "err", err)

		return &transfer.AuthenticationError{Operation: "account_info", Err: err}
	}

	logger.InfoContext(ctx, "authenticated with Put.io", "user", user.Username)

	return nil
}

// Add reads the descriptor file and uploads it.
func (c *Client) Add(ctx context.Context, req transfer.Request) error {
	filename := filepath.Base(req.TorrentPath)

	data, err := os.ReadFile(req.TorrentPath)
	if err != nil {
		return &transfer.InvalidContentError{
			Filename: filename,
			Reason:   "file could not be read",
			Err:      err,
		}
	}

	_, err = c.AddTransferByBytes(ctx, data, filename, c.folderFor(req.DownloadDir))

	return err
}

func (c *Client) folderFor(downloadDir string) string {
	if c.parentDir != "" {
		return c.parentDir
	}

	if downloadDir == "" {
		return ""
	}

	base := filepath.Base(filepath.Clean(downloadDir))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}

	return base
}

// validateTorrentFilename validates that the filename has a .torrent extension.
func validateTorrentFilename(filename string) error {
	ext := filepath.Ext(filename)
	if !strings.EqualFold(ext, ".torrent") {
		return &transfer.InvalidContentError{
			Filename: filename,
			Reason:   "file extension must be .torrent (Put.io requires extension for transfer detection)",
		}
	}

	return nil
}

// AddTransferByBytes uploads .torrent file bytes into folder and returns the
// ID of the transfer Put.io created for it. An empty folder uploads to the
// account root.
func (c *Client) AddTransferByBytes(ctx context.Context, torrentBytes []byte, filename string, folder string) (int64, error) {
	logger := logctx.LoggerFromContext(ctx).With("filename", filename, "folder", folder)

	if len(torrentBytes) > maxTorrentSize {
		return 0, &transfer.InvalidContentError{
			Filename: filename,
			Reason:   fmt.Sprintf("file size %d bytes exceeds maximum %d bytes", len(torrentBytes), maxTorrentSize),
		}
	}

	if err := validateTorrentFilename(filename); err != nil {
		return 0, err
	}

	var dirID int64

	if folder != "" {
		var err error

		dirID, err = c.findDirectoryID(ctx, folder)
		if err != nil {
			return 0, &transfer.DirectoryError{
				DirectoryName: folder,
				Reason:        "directory not found or inaccessible",
				Err:           err,
			}
		}
	}

	logger.InfoContext(ctx, "uploading torrent file to Put.io", "size_bytes", len(torrentBytes))

	upload, err := c.putioClient.Files.Upload(ctx, bytes.NewReader(torrentBytes), filename, dirID)
	if err != nil {
		return 0, &transfer.NetworkError{
			Operation:  "upload_torrent",
			APIMessage: err.Error(),
			Err:        err,
		}
	}

	// Put.io automatically creates transfer for .torrent files
	if upload.Transfer == nil {
		return 0, &transfer.InvalidContentError{
			Filename: filename,
			Reason:   "Put.io did not create transfer (file may not be valid torrent)",
		}
	}

	logger.InfoContext(ctx, "transfer created from torrent upload", "transfer_id", upload.Transfer.ID)

	return upload.Transfer.ID, nil
}

func (c *Client) findDirectoryID(ctx context.Context, folder string) (int64, error) {
	search, err := c.putioClient.Files.Search(ctx, folder, 1)
	if err != nil {
		return 0, fmt.Errorf("error searching for directory: %w", err)
	}

	if len(search.Files) == 0 {
		return 0, fmt.Errorf("directory not found: %s", folder)
	}

	if !search.Files[0].IsDir() {
		return 0, fmt.Errorf("search result is not a directory: %s", folder)
	}

	return search.Files[0].ID, nil
}
