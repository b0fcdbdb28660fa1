package store

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Fingerprints caches release fingerprints in two tiers: an in-memory LRU
// in front of the persistent store. The memory tier only ever mirrors the
// store, so a cold start just refills it on first read.
type Fingerprints struct {
	store  *Store
	memory *lru.Cache[string, string]
}

// NewFingerprints creates the fingerprint cache. maxMemoryEntries bounds
// the LRU tier.
func NewFingerprints(s *Store, maxMemoryEntries int) (*Fingerprints, error) {
	if maxMemoryEntries <= 0 {
		maxMemoryEntries = 10000
	}
	memory, err := lru.New[string, string](maxMemoryEntries)
	if err != nil {
		return nil, err
	}
	return &Fingerprints{store: s, memory: memory}, nil
}

// Get returns the stored fingerprint for (name, version). The second
// return value is false when none has been recorded.
func (f *Fingerprints) Get(ctx context.Context, name, version string) (string, bool, error) {
	key := ProcessKey(name, version)

	if fp, ok := f.memory.Get(key); ok {
		return fp, true, nil
	}

	fp, ok, err := f.store.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	f.memory.Add(key, fp)
	return fp, true, nil
}

// Set records the fingerprint for (name, version) in both tiers. No TTL:
// fingerprints live until the release is deleted.
func (f *Fingerprints) Set(ctx context.Context, name, version, fingerprint string) error {
	key := ProcessKey(name, version)
	if err := f.store.Set(ctx, key, fingerprint); err != nil {
		return err
	}
	f.memory.Add(key, fingerprint)
	return nil
}

// Delete drops the fingerprint for one release.
func (f *Fingerprints) Delete(ctx context.Context, name, version string) error {
	key := ProcessKey(name, version)
	f.memory.Remove(key)
	return f.store.Delete(ctx, key)
}

// DeleteProject drops every fingerprint recorded for a project.
func (f *Fingerprints) DeleteProject(ctx context.Context, name string) error {
	keys, err := f.store.Keys(ctx, ProcessPattern(name))
	if err != nil {
		return err
	}

	// The store listing can miss memory-tier entries whose writes raced a
	// concurrent bulk import, so purge the LRU by prefix as well.
	prefix := processPrefix + name + ":"
	for _, k := range f.memory.Keys() {
		if strings.HasPrefix(k, prefix) {
			f.memory.Remove(k)
		}
	}

	if len(keys) == 0 {
		return nil
	}
	for _, k := range keys {
		f.memory.Remove(k)
	}
	return f.store.Delete(ctx, keys...)
}
