// Package pypi adapts the package index's XML-RPC surface and file hosting
// into the typed calls the sync engine consumes.
package pypi

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kolo/xmlrpc"
	"github.com/sony/gobreaker"

	"github.com/crateio/carrier/internal/config"
)

// Change is one changelog entry: a mutation of (name, version) at a point
// in time. Version is empty for project-level actions.
type Change struct {
	Name      string
	Version   string
	Timestamp int64
	Action    string
}

// Client talks to the index. All RPCs and downloads go through a shared
// pooled transport, retried with exponential backoff and guarded by a
// circuit breaker.
type Client struct {
	rpc  *xmlrpc.Client
	http *http.Client

	breaker     *gobreaker.CircuitBreaker
	maxAttempts int
	baseDelay   time.Duration
}

// NewClient builds an index client from configuration. userAgent is sent on
// every RPC and file download.
func NewClient(cfg config.IndexConfig, res config.ResilienceConfig, userAgent string) (*Client, error) {
	tlsConfig := &tls.Config{}
	verify, caBundle := cfg.Verify()
	if !verify {
		tlsConfig.InsecureSkipVerify = true
	} else if caBundle != "" {
		pem, err := os.ReadFile(caBundle)
		if err != nil {
			return nil, fmt.Errorf("pypi: reading CA bundle %s: %w", caBundle, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("pypi: no certificates found in CA bundle %s", caBundle)
		}
		tlsConfig.RootCAs = pool
	}

	base := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     tlsConfig,
	}

	rt := &transport{base: base, ua: userAgent}

	rpc, err := xmlrpc.NewClient(cfg.URL, rt)
	if err != nil {
		return nil, fmt.Errorf("pypi: creating RPC client for %s: %w", cfg.URL, err)
	}

	c := &Client{
		rpc: rpc,
		http: &http.Client{
			Transport: rt,
			Timeout:   cfg.TimeoutDuration(),
		},
		maxAttempts: res.RetryMaxAttempts,
		baseDelay:   res.RetryBaseDelay(),
	}

	if res.CBEnabled {
		threshold := uint32(res.CBFailureThreshold)
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "index",
			Timeout: time.Duration(res.CBResetTimeoutSec) * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		})
	}

	return c, nil
}

// transport adds the synchronizer User-Agent to every request and converts
// 5xx responses into TransportError so the retry layer sees them as
// recoverable.
type transport struct {
	base http.RoundTripper
	ua   string
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.ua)

	resp, err := t.base.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &TransportError{Status: resp.StatusCode}
	}
	return resp, nil
}

// retryOpts returns the backoff policy for one network operation: initial
// delay doubling per attempt up to the configured attempt cap.
func (c *Client) retryOpts() []backoff.RetryOption {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.baseDelay
	bo.Multiplier = 2
	return []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.maxAttempts)),
	}
}

// isTransient reports whether an error is worth retrying: connection-level
// failures and server-side 5xx responses. RPC faults and shape errors are
// permanent.
func isTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// call performs one RPC with retry and circuit breaking. The reply is
// decoded into an untyped tree; shape coercion happens in the callers.
func (c *Client) call(ctx context.Context, method string, args []any) (any, error) {
	op := func() (any, error) {
		var (
			reply any
			err   error
		)
		if c.breaker != nil {
			_, err = c.breaker.Execute(func() (any, error) {
				return nil, c.rpc.Call(method, args, &reply)
			})
		} else {
			err = c.rpc.Call(method, args, &reply)
		}
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || !isTransient(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return reply, nil
	}

	reply, err := backoff.Retry(ctx, op, c.retryOpts()...)
	if err != nil {
		return nil, fmt.Errorf("pypi: %s: %w", method, err)
	}
	return reply, nil
}

// ListPackages returns the names of every project the index knows about.
func (c *Client) ListPackages(ctx context.Context) ([]string, error) {
	reply, err := c.call(ctx, "list_packages", nil)
	if err != nil {
		return nil, err
	}
	return toStrings(reply), nil
}

// Changelog returns the mutation log since the given epoch, oldest first.
// The index occasionally returns a single entry unwrapped; that is folded
// back into a one-element list.
func (c *Client) Changelog(ctx context.Context, since int64) ([]Change, error) {
	reply, err := c.call(ctx, "changelog", []any{since})
	if err != nil {
		return nil, err
	}

	entries := toSlice(reply)
	if len(entries) > 0 {
		if _, bare := entries[0].(string); bare {
			entries = []any{reply}
		}
	}

	changes := make([]Change, 0, len(entries))
	for _, e := range entries {
		fields := toSlice(e)
		if len(fields) < 4 {
			return nil, &ProtocolError{Method: "changelog", Reason: "entry has fewer than four fields"}
		}
		changes = append(changes, Change{
			Name:      toString(fields[0]),
			Version:   toString(fields[1]),
			Timestamp: toInt64(fields[2]),
			Action:    toString(fields[3]),
		})
	}
	return changes, nil
}

// PackageReleases returns every version string the index reports for name,
// including hidden releases. A single returned scalar is wrapped.
func (c *Client) PackageReleases(ctx context.Context, name string) ([]string, error) {
	reply, err := c.call(ctx, "package_releases", []any{name, true})
	if err != nil {
		return nil, err
	}
	return toStrings(reply), nil
}

// ReleaseData returns the raw metadata record for (name, version), or nil
// when the index has nothing for it.
func (c *Client) ReleaseData(ctx context.Context, name, version string) (map[string]any, error) {
	reply, err := c.call(ctx, "release_data", []any{name, version})
	if err != nil {
		return nil, err
	}
	record, ok := reply.(map[string]any)
	if !ok || len(record) == 0 {
		return nil, nil
	}
	return record, nil
}

// ReleaseURLs returns the file descriptors for (name, version). A bare
// mapping is wrapped into a one-element sequence; anything else is a
// protocol error.
func (c *Client) ReleaseURLs(ctx context.Context, name, version string) ([]map[string]any, error) {
	reply, err := c.call(ctx, "release_urls", []any{name, version})
	if err != nil {
		return nil, err
	}
	return toMappings("release_urls", reply)
}
