package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/crateio/carrier/internal/store"
	"github.com/crateio/carrier/internal/testutil"
)

func TestStore_GetSet(t *testing.T) {
	st, _ := testutil.NewTestStore(t)
	ctx := context.Background()

	if _, ok, err := st.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}

	if err := st.Set(ctx, "pypi:since", "1000000000.0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val, ok, err := st.Get(ctx, "pypi:since")
	if err != nil || !ok {
		t.Fatalf("expected value, got ok=%v err=%v", ok, err)
	}
	if val != "1000000000.0" {
		t.Errorf("expected stored value back, got %q", val)
	}
}

func TestStore_Prefix(t *testing.T) {
	st, mr := testutil.NewTestStoreWithPrefix(t, "staging:")
	ctx := context.Background()

	if err := st.Set(ctx, "pypi:since", "1.0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The prefix is applied on the wire...
	if _, err := mr.Get("staging:pypi:since"); err != nil {
		t.Errorf("expected prefixed key in redis: %v", err)
	}

	// ...and stripped from Keys results.
	keys, err := st.Keys(ctx, "pypi:*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 || keys[0] != "pypi:since" {
		t.Errorf("expected unprefixed key listing, got %v", keys)
	}
}

func TestStore_SetExExpires(t *testing.T) {
	st, mr := testutil.NewTestStore(t)
	ctx := context.Background()

	if err := st.SetEx(ctx, "pypi:changelog:abc", time.Minute, "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ok, _ := st.Exists(ctx, "pypi:changelog:abc"); !ok {
		t.Fatal("expected marker present before TTL")
	}

	mr.FastForward(2 * time.Minute)

	if ok, _ := st.Exists(ctx, "pypi:changelog:abc"); ok {
		t.Error("expected marker expired after TTL")
	}
}

func TestStore_DeleteAndKeysGlob(t *testing.T) {
	st, _ := testutil.NewTestStore(t)
	ctx := context.Background()

	st.Set(ctx, store.ProcessKey("foo", "1.0"), "aaa")
	st.Set(ctx, store.ProcessKey("foo", "2.0"), "bbb")
	st.Set(ctx, store.ProcessKey("bar", "1.0"), "ccc")

	keys, err := st.Keys(ctx, store.ProcessPattern("foo"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys for foo, got %v", keys)
	}

	if err := st.Delete(ctx, keys...); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := st.Exists(ctx, store.ProcessKey("foo", "1.0")); ok {
		t.Error("expected foo fingerprints deleted")
	}
	if ok, _ := st.Exists(ctx, store.ProcessKey("bar", "1.0")); !ok {
		t.Error("expected bar fingerprint untouched")
	}
}

func TestSince_RoundTrip(t *testing.T) {
	st, _ := testutil.NewTestStore(t)
	ctx := context.Background()

	if _, ok, err := st.Since(ctx); err != nil || ok {
		t.Fatalf("expected no cursor initially, got ok=%v err=%v", ok, err)
	}

	at := time.Date(2012, 7, 1, 10, 30, 0, 0, time.UTC)
	if err := st.SetSince(ctx, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	since, ok, err := st.Since(ctx)
	if err != nil || !ok {
		t.Fatalf("expected cursor, got ok=%v err=%v", ok, err)
	}
	if int64(since) != at.Unix() {
		t.Errorf("expected %d, got %f", at.Unix(), since)
	}
}

func TestMarkers(t *testing.T) {
	st, mr := testutil.NewTestStore(t)
	ctx := context.Background()

	const digest = "0123456789abcdef0123456789abcdef"

	if seen, _ := st.HasMarker(ctx, digest); seen {
		t.Fatal("expected marker absent initially")
	}
	if err := st.SetMarker(ctx, digest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen, _ := st.HasMarker(ctx, digest); !seen {
		t.Fatal("expected marker present")
	}

	// Markers carry the 30-day dedup TTL.
	ttl := mr.TTL(store.MarkerKey(digest))
	if ttl != store.MarkerTTL {
		t.Errorf("expected TTL %v, got %v", store.MarkerTTL, ttl)
	}
}

func TestFingerprints_TwoTier(t *testing.T) {
	fp, _, mr := testutil.NewTestFingerprints(t)
	ctx := context.Background()

	if err := fp.Set(ctx, "foo", "1.0", "aaaa"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The write went through to redis...
	if val, _ := mr.Get(store.ProcessKey("foo", "1.0")); val != "aaaa" {
		t.Errorf("expected write-through, got %q", val)
	}

	// ...and the memory tier serves reads even if redis loses the key.
	mr.FlushAll()
	got, ok, err := fp.Get(ctx, "foo", "1.0")
	if err != nil || !ok || got != "aaaa" {
		t.Errorf("expected memory tier hit, got %q ok=%v err=%v", got, ok, err)
	}
}

func TestFingerprints_Delete(t *testing.T) {
	fp, _, _ := testutil.NewTestFingerprints(t)
	ctx := context.Background()

	fp.Set(ctx, "foo", "1.0", "aaaa")
	if err := fp.Delete(ctx, "foo", "1.0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, _ := fp.Get(ctx, "foo", "1.0"); ok {
		t.Error("expected fingerprint gone from both tiers")
	}
}

func TestFingerprints_DeleteProject(t *testing.T) {
	fp, st, _ := testutil.NewTestFingerprints(t)
	ctx := context.Background()

	fp.Set(ctx, "foo", "1.0", "aaaa")
	fp.Set(ctx, "foo", "2.0", "bbbb")
	fp.Set(ctx, "bar", "1.0", "cccc")

	if err := fp.DeleteProject(ctx, "foo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok, _ := fp.Get(ctx, "foo", "1.0"); ok {
		t.Error("expected foo 1.0 fingerprint deleted")
	}
	if _, ok, _ := fp.Get(ctx, "foo", "2.0"); ok {
		t.Error("expected foo 2.0 fingerprint deleted")
	}
	if _, ok, _ := fp.Get(ctx, "bar", "1.0"); !ok {
		t.Error("expected bar fingerprint untouched")
	}

	keys, _ := st.Keys(ctx, store.ProcessPattern("foo"))
	if len(keys) != 0 {
		t.Errorf("expected no redis keys left for foo, got %v", keys)
	}
}
