package pypi

import (
	"context"

	"github.com/crateio/carrier/internal/release"
)

// Package is a lazy view over one project's releases. When version is empty
// every version the index reports is visited; otherwise just that one.
type Package struct {
	client  *Client
	name    string
	version string
}

// Package returns a release enumerator for name. version may be empty.
func (c *Client) Package(name, version string) *Package {
	return &Package{client: c, name: name, version: version}
}

// Versions resolves the version list to enumerate.
func (p *Package) Versions(ctx context.Context) ([]string, error) {
	if p.version != "" {
		return []string{p.version}, nil
	}
	return p.client.PackageReleases(ctx, p.name)
}

// EachRelease fetches, downloads, and normalizes each release in turn and
// hands it to fn. Versions with no release data are skipped. The sequence
// is finite and not restartable; a non-nil error from fn, a protocol error,
// or a hash mismatch stops the enumeration.
func (p *Package) EachRelease(ctx context.Context, fn func(*release.Release) error) error {
	versions, err := p.Versions(ctx)
	if err != nil {
		return err
	}

	for _, version := range versions {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := p.client.ReleaseData(ctx, p.name, version)
		if err != nil {
			return err
		}
		if raw == nil {
			continue
		}

		descs, err := p.client.ReleaseURLs(ctx, p.name, version)
		if err != nil {
			return err
		}

		files := make([]release.File, 0, len(descs))
		for _, desc := range descs {
			f, err := p.client.FetchFile(ctx, desc)
			if err != nil {
				return err
			}
			files = append(files, *f)
		}

		if err := fn(release.Normalize(raw, files)); err != nil {
			return err
		}
	}

	return nil
}

// EachRelease enumerates the releases of (name, version) through a Package.
func (c *Client) EachRelease(ctx context.Context, name, version string, fn func(*release.Release) error) error {
	return c.Package(name, version).EachRelease(ctx, fn)
}
