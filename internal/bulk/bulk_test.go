package bulk_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crateio/carrier/internal/bulk"
	"github.com/crateio/carrier/internal/metrics"
	"github.com/crateio/carrier/internal/release"
	syncer "github.com/crateio/carrier/internal/sync"
	"github.com/crateio/carrier/internal/testutil"
)

func TestRun_ImportsEveryPackageAndSetsCursor(t *testing.T) {
	ctx := context.Background()

	index := &testutil.FakeIndex{
		Packages: []string{"foo", "bar"},
		Releases: map[string][]*release.Release{
			"foo": {{Name: "foo", Version: "1.0"}},
			"bar": {{Name: "bar", Version: "0.1"}},
		},
	}
	wh := testutil.NewFakeWarehouse()
	fp, st, _ := testutil.NewTestFingerprints(t)
	processor := syncer.NewProcessor(index, wh, fp, metrics.New())

	before := time.Now().UTC().Truncate(time.Second)
	importer := bulk.New(index, processor, st, 3, time.Millisecond)
	if err := importer.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := wh.Versions["foo/1.0"]; !ok {
		t.Error("expected foo 1.0 imported")
	}
	if _, ok := wh.Versions["bar/0.1"]; !ok {
		t.Error("expected bar 0.1 imported")
	}

	// The cursor baseline is the sweep's start time, so the engine's
	// first tick re-covers anything that changed during the import.
	since, ok, err := st.Since(ctx)
	if err != nil || !ok {
		t.Fatalf("expected cursor written, got ok=%v err=%v", ok, err)
	}
	if int64(since) < before.Unix() || int64(since) > time.Now().Unix() {
		t.Errorf("expected cursor near the sweep start, got %f", since)
	}
}

func TestRun_FailedPackageDoesNotAbortSweep(t *testing.T) {
	ctx := context.Background()

	index := &testutil.FakeIndex{
		Packages: []string{"broken", "fine"},
		Releases: map[string][]*release.Release{
			"fine": {{Name: "fine", Version: "1.0"}},
		},
		Err: map[string]error{"broken": errors.New("release data corrupted")},
	}
	wh := testutil.NewFakeWarehouse()
	fp, st, _ := testutil.NewTestFingerprints(t)
	processor := syncer.NewProcessor(index, wh, fp, metrics.New())

	importer := bulk.New(index, processor, st, 2, time.Millisecond)
	if err := importer.Run(ctx); err != nil {
		t.Fatalf("expected per-package isolation, got %v", err)
	}

	if _, ok := wh.Versions["fine/1.0"]; !ok {
		t.Error("expected the healthy package imported")
	}
	if _, ok, _ := st.Since(ctx); !ok {
		t.Error("expected cursor written despite a failed package")
	}
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()

	index := &testutil.FakeIndex{
		Packages: []string{"flaky"},
		Releases: map[string][]*release.Release{
			"flaky": {{Name: "flaky", Version: "1.0"}},
		},
		// The first attempt fails; the retry succeeds.
		Err:       map[string]error{"flaky": errors.New("connection reset")},
		FailTimes: map[string]int{"flaky": 1},
	}
	wh := testutil.NewFakeWarehouse()
	fp, st, _ := testutil.NewTestFingerprints(t)
	processor := syncer.NewProcessor(index, wh, fp, metrics.New())

	importer := bulk.New(index, processor, st, 3, time.Millisecond)
	if err := importer.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := 0
	for _, c := range index.ReleaseCalls {
		if c == "flaky" {
			calls++
		}
	}
	if calls < 2 {
		t.Errorf("expected the transient failure retried, got %d calls", calls)
	}
	if _, ok := wh.Versions["flaky/1.0"]; !ok {
		t.Error("expected the package imported after the retry")
	}
}
