// Package testutil provides the shared fixtures: a miniredis-backed store
// and in-memory fakes for the index and warehouse adapters.
package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/crateio/carrier/internal/store"
)

// NewTestStore creates a Store backed by an in-process miniredis.
// Everything is torn down when the test completes.
func NewTestStore(t *testing.T) (*store.Store, *miniredis.Miniredis) {
	t.Helper()
	return NewTestStoreWithPrefix(t, "")
}

// NewTestStoreWithPrefix is NewTestStore with a store key prefix.
func NewTestStoreWithPrefix(t *testing.T, prefix string) (*store.Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.New(rdb, prefix)
	t.Cleanup(func() { st.Close() })

	return st, mr
}

// NewTestFingerprints creates a fingerprint cache over a fresh test store.
func NewTestFingerprints(t *testing.T) (*store.Fingerprints, *store.Store, *miniredis.Miniredis) {
	t.Helper()

	st, mr := NewTestStore(t)
	fp, err := store.NewFingerprints(st, 0)
	if err != nil {
		t.Fatalf("failed to create fingerprint cache: %v", err)
	}
	return fp, st, mr
}
