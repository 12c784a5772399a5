// Package fetch downloads source documents into a local workspace.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

var ErrTooLarge = errors.New("document exceeds size limit")

type Options struct {
	// MaxBytes caps the body size. Zero means no limit.
	MaxBytes int64
	Timeout  time.Duration
	// RetryMax is the number of retries on connection errors and 5xx responses.
	RetryMax int
}

// Client downloads documents over HTTP(S).
type Client struct {
	http     *retryablehttp.Client
	maxBytes int64
	logger   logger.Logger
}

func NewClient(opts Options, log logger.Logger) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil
	// hand the final response back instead of a generic "giving up" error
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		http:     retryClient,
		maxBytes: opts.MaxBytes,
		logger:   log,
	}
}

// Download writes the body at url to dst and returns the number of bytes
// written. Transport errors and non-2xx responses wrap models.ErrDownload;
// a body over the size limit wraps models.ErrInvalidDocument.
func (c *Client) Download(ctx context.Context, url, dst string) (int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create request: %w", models.ErrDownload, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrDownload, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", logger.Error(err))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: unexpected status %d", models.ErrDownload, resp.StatusCode)
	}
	if c.maxBytes > 0 && resp.ContentLength > c.maxBytes {
		return 0, fmt.Errorf("%w: %w: %d bytes", models.ErrInvalidDocument, ErrTooLarge, resp.ContentLength)
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create %s: %w", models.ErrDownload, dst, err)
	}
	defer f.Close()

	var body io.Reader = resp.Body
	if c.maxBytes > 0 {
		body = io.LimitReader(resp.Body, c.maxBytes+1)
	}

	n, err := io.Copy(f, body)
	if err != nil {
		return n, fmt.Errorf("%w: failed to read body: %w", models.ErrDownload, err)
	}
	if c.maxBytes > 0 && n > c.maxBytes {
		return n, fmt.Errorf("%w: %w: over %d bytes", models.ErrInvalidDocument, ErrTooLarge, c.maxBytes)
	}
	if err := f.Sync(); err != nil {
		return n, fmt.Errorf("%w: failed to flush %s: %w", models.ErrDownload, dst, err)
	}

	c.logger.Debug("Downloaded document",
		logger.String("url", url),
		logger.Int64("bytes", n),
	)
	return n, nil
}
