package pypi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/crateio/carrier/internal/release"
)

// FetchFile downloads the distribution named by an index file descriptor
// and verifies its MD5 digest against the one the descriptor declares. The
// returned File carries the raw bytes plus the descriptor's bookkeeping
// fields.
func (c *Client) FetchFile(ctx context.Context, desc map[string]any) (*release.File, error) {
	fileURL := toString(desc["url"])
	if fileURL == "" {
		return nil, &ProtocolError{Method: "release_urls", Reason: "descriptor has no url"}
	}

	data, err := c.download(ctx, fileURL)
	if err != nil {
		return nil, err
	}

	f := &release.File{
		Filename:      release.Text(toString(desc["filename"])),
		Type:          release.Text(toString(desc["packagetype"])),
		PythonVersion: release.Text(toString(desc["python_version"])),
		Comment:       release.Text(toString(desc["comment_text"])),
		UploadTime:    toTime(desc["upload_time"]),
		Data:          data,

		URL:       fileURL,
		MD5Digest: toString(desc["md5_digest"]),
		HasSig:    toBool(desc["has_sig"]),
		Size:      toInt64(desc["size"]),
		Downloads: toInt64(desc["downloads"]),
	}

	if actual := f.MD5(); actual != f.MD5Digest {
		return nil, &HashMismatchError{URL: fileURL, Expected: f.MD5Digest, Actual: actual}
	}

	return f, nil
}

// download performs the HTTP GET with the client's retry policy. Non-2xx
// statuses below 500 fail permanently; 5xx and connection errors back off
// and retry.
func (c *Client) download(ctx context.Context, fileURL string) ([]byte, error) {
	op := func() ([]byte, error) {
		data, err := c.fetchOnce(ctx, fileURL)
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || !isTransient(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return data, nil
	}

	data, err := backoff.Retry(ctx, op, c.retryOpts()...)
	if err != nil {
		return nil, fmt.Errorf("pypi: downloading %s: %w", fileURL, err)
	}
	return data, nil
}

func (c *Client) fetchOnce(ctx context.Context, fileURL string) ([]byte, error) {
	do := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		// 5xx never reaches here: the transport converts it into a
		// retryable TransportError.
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}

		return io.ReadAll(resp.Body)
	}

	if c.breaker == nil {
		return do()
	}
	res, err := c.breaker.Execute(func() (any, error) {
		return do()
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}
