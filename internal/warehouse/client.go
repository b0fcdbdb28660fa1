package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/crateio/carrier/internal/config"
	"github.com/crateio/carrier/internal/release"
)

// NotFoundError is a 404 from the warehouse. It is an expected condition:
// upserts take the create path and deletes swallow it with a warning.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("warehouse: %s not found", e.Resource)
}

// IsNotFound reports whether err is a warehouse 404.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// TransportError marks a server-side failure (5xx) as recoverable.
type TransportError struct {
	Status int
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("warehouse: server error: HTTP %d", e.Status)
}

// Client talks to the warehouse REST API with basic auth, retrying
// transient failures and circuit-breaking a misbehaving endpoint.
type Client struct {
	base *url.URL
	http *http.Client

	username string
	password string
	ua       string

	breaker     *gobreaker.CircuitBreaker
	maxAttempts int
	baseDelay   time.Duration
}

// New builds a warehouse client from configuration. The password has
// already been resolved through the credential vault by the caller.
func New(cfg config.WarehouseConfig, res config.ResilienceConfig, userAgent string) (*Client, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("warehouse: parsing base URL %s: %w", cfg.URL, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	c := &Client{
		base: base,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout: cfg.TimeoutDuration(),
		},
		username:    cfg.Auth.Username,
		password:    cfg.Auth.Password,
		ua:          userAgent,
		maxAttempts: res.RetryMaxAttempts,
		baseDelay:   res.RetryBaseDelay(),
	}

	if res.CBEnabled {
		threshold := uint32(res.CBFailureThreshold)
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "warehouse",
			Timeout: time.Duration(res.CBResetTimeoutSec) * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		})
	}

	return c, nil
}

// endpoint joins path segments onto the base URL, escaping each segment,
// and appends the query values.
func (c *Client) endpoint(segments []string, query url.Values) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u := *c.base
	u.Path += strings.Join(escaped, "/") + "/"
	u.RawQuery = query.Encode()
	return u.String()
}

// do performs one request with retry and circuit breaking, decoding a JSON
// response into out when out is non-nil. 404 maps to NotFoundError; other
// 4xx fail permanently; 5xx and connection errors retry.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("warehouse: encoding %s %s: %w", method, endpoint, err)
		}
	}

	op := func() (any, error) {
		err := c.doOnce(ctx, method, endpoint, payload, out)
		if err != nil {
			if !c.isTransient(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return nil, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.baseDelay
	bo.Multiplier = 2

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.maxAttempts)),
	)
	return err
}

func (c *Client) isTransient(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

func (c *Client) doOnce(ctx context.Context, method, endpoint string, payload []byte, out any) error {
	send := func() (any, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.ua)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.username != "" {
			req.SetBasicAuth(c.username, c.password)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			io.Copy(io.Discard, resp.Body)
			return nil, &TransportError{Status: resp.StatusCode}
		case resp.StatusCode == http.StatusNotFound:
			io.Copy(io.Discard, resp.Body)
			return nil, &NotFoundError{Resource: endpoint}
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, fmt.Errorf("warehouse: %s %s: HTTP %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("warehouse: decoding %s %s: %w", method, endpoint, err)
			}
		} else {
			io.Copy(io.Discard, resp.Body)
		}
		return nil, nil
	}

	if c.breaker == nil {
		_, err := send()
		return err
	}
	_, err := c.breaker.Execute(send)
	return err
}

// showYanked is the query qualifier that keeps soft-deleted entities
// visible to the engine.
func showYanked(extra url.Values) url.Values {
	if extra == nil {
		extra = url.Values{}
	}
	extra.Set("show_yanked", "true")
	return extra
}

// GetOrCreateProject fetches the project by name, creating it when absent.
// The second return value reports whether a create happened.
func (c *Client) GetOrCreateProject(ctx context.Context, name string) (*Project, bool, error) {
	var p Project
	err := c.do(ctx, http.MethodGet, c.endpoint([]string{"projects", name}, showYanked(nil)), nil, &p)
	if err == nil {
		return &p, false, nil
	}
	if !IsNotFound(err) {
		return nil, false, err
	}

	p = Project{Name: name}
	var created Project
	if err := c.do(ctx, http.MethodPost, c.endpoint([]string{"projects"}, nil), &p, &created); err != nil {
		return nil, false, err
	}
	return &created, true, nil
}

// GetVersion fetches (project, version) in full retrieval mode, with files
// embedded. Absence is a NotFoundError.
func (c *Client) GetVersion(ctx context.Context, project, version string) (*Version, error) {
	query := showYanked(url.Values{"full": []string{"true"}})
	var v Version
	if err := c.do(ctx, http.MethodGet, c.endpoint([]string{"projects", project, "versions", version}, query), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// UpsertVersion applies get-or-create + field diff + save for a version
// record. When the version already exists, only differing fields are
// written back, and only if any differed. The returned version carries the
// warehouse's current embedded file listing.
func (c *Client) UpsertVersion(ctx context.Context, rec Version) (*Version, bool, error) {
	current, err := c.GetVersion(ctx, rec.Project, rec.Version)
	if err != nil {
		if !IsNotFound(err) {
			return nil, false, err
		}
		var created Version
		if err := c.do(ctx, http.MethodPost, c.endpoint([]string{"projects", rec.Project, "versions"}, nil), &rec, &created); err != nil {
			return nil, false, err
		}
		return &created, true, nil
	}

	if current.apply(rec) {
		if err := c.do(ctx, http.MethodPut, c.endpoint([]string{"projects", rec.Project, "versions", rec.Version}, nil), current, nil); err != nil {
			return nil, false, err
		}
	}
	return current, false, nil
}

// UpsertFile applies get-or-create + field diff + save for a file record.
// Filenames are globally unique, so the lookup is by filename alone.
func (c *Client) UpsertFile(ctx context.Context, rec File) (*File, bool, error) {
	var current File
	err := c.do(ctx, http.MethodGet, c.endpoint([]string{"files", rec.Filename}, showYanked(nil)), nil, &current)
	if err != nil {
		if !IsNotFound(err) {
			return nil, false, err
		}
		var created File
		if err := c.do(ctx, http.MethodPost, c.endpoint([]string{"projects", rec.Project, "versions", rec.Version, "files"}, nil), &rec, &created); err != nil {
			return nil, false, err
		}
		return &created, true, nil
	}

	if current.apply(rec) {
		if err := c.do(ctx, http.MethodPut, c.endpoint([]string{"files", rec.Filename}, nil), &current, nil); err != nil {
			return nil, false, err
		}
	}
	return &current, false, nil
}

// DeleteFiles removes the named files in one bulk call.
func (c *Client) DeleteFiles(ctx context.Context, filenames []string) error {
	if len(filenames) == 0 {
		return nil
	}
	body := map[string][]string{"filenames": filenames}
	return c.do(ctx, http.MethodPost, c.endpoint([]string{"files", "delete"}, nil), body, nil)
}

// DeleteVersion removes (project, version) and everything under it.
func (c *Client) DeleteVersion(ctx context.Context, project, version string) error {
	return c.do(ctx, http.MethodDelete, c.endpoint([]string{"projects", project, "versions", version}, nil), nil, nil)
}

// DeleteProject removes the project and everything under it.
func (c *Client) DeleteProject(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, c.endpoint([]string{"projects", name}, nil), nil, nil)
}

// NotifyLastModified reports a completed synchronization pass to the
// warehouse's root-level /last-modified endpoint. The warehouse uses it as
// its freshness watermark, so the engine calls this before persisting its
// own cursor.
func (c *Client) NotifyLastModified(ctx context.Context, at time.Time) error {
	u := *c.base
	u.Path = "/last-modified"
	u.RawQuery = ""

	body := map[string]string{"date": at.UTC().Format(release.TimeLayout)}
	return c.do(ctx, http.MethodPost, u.String(), body, nil)
}
