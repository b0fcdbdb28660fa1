package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key layout. The engine exclusively owns these; an optional deployment
// prefix is prepended by the Store itself.
const (
	sinceKey      = "pypi:since"
	processPrefix = "pypi:process:"
	markerPrefix  = "pypi:changelog:"
)

// MarkerTTL bounds the dedup memory for changelog entry markers. The
// engine's 10-second cursor rewind absorbs the false-positive tail when a
// marker expires.
const MarkerTTL = 30 * 24 * time.Hour

// Since reads the sync cursor: seconds since epoch, UTC. The second return
// value is false when no cursor has ever been written.
func (s *Store) Since(ctx context.Context) (float64, bool, error) {
	val, ok, err := s.Get(ctx, sinceKey)
	if err != nil || !ok {
		return 0, false, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return 0, false, fmt.Errorf("store: malformed cursor %q: %w", val, err)
	}
	return f, true, nil
}

// SetSince advances the sync cursor to t.
func (s *Store) SetSince(ctx context.Context, t time.Time) error {
	return s.Set(ctx, sinceKey, strconv.FormatFloat(float64(t.Unix()), 'f', 1, 64))
}

// ProcessKey is the fingerprint key for one release.
func ProcessKey(name, version string) string {
	return processPrefix + name + ":" + version
}

// ProcessPattern is the glob matching every fingerprint key of a project.
func ProcessPattern(name string) string {
	return processPrefix + name + ":*"
}

// MarkerKey is the dedup key for one changelog entry digest.
func MarkerKey(digest string) string {
	return markerPrefix + digest
}

// HasMarker reports whether a changelog entry has already been processed.
func (s *Store) HasMarker(ctx context.Context, digest string) (bool, error) {
	return s.Exists(ctx, MarkerKey(digest))
}

// SetMarker records that a changelog entry has been processed. Presence
// means "skip"; the value itself is meaningless.
func (s *Store) SetMarker(ctx context.Context, digest string) error {
	return s.SetEx(ctx, MarkerKey(digest), MarkerTTL, "1")
}
