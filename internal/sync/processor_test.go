package sync_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/crateio/carrier/internal/metrics"
	"github.com/crateio/carrier/internal/pypi"
	"github.com/crateio/carrier/internal/release"
	"github.com/crateio/carrier/internal/store"
	syncer "github.com/crateio/carrier/internal/sync"
	"github.com/crateio/carrier/internal/testutil"
	"github.com/crateio/carrier/internal/warehouse"
)

func newProcessor(t *testing.T, index *testutil.FakeIndex, wh *testutil.FakeWarehouse) (*syncer.Processor, *store.Fingerprints, *store.Store) {
	t.Helper()
	fp, st, _ := testutil.NewTestFingerprints(t)
	return syncer.NewProcessor(index, wh, fp, metrics.New()), fp, st
}

func sampleRelease() *release.Release {
	uploaded := time.Date(2012, 7, 1, 10, 30, 0, 0, time.UTC)
	return release.Normalize(map[string]any{
		"name":        "foo",
		"version":     "1.0",
		"summary":     "test package",
		"classifiers": []any{"B", "A", "A"},
	}, []release.File{{
		Filename:      "foo-1.0.tar.gz",
		Type:          "sdist",
		PythonVersion: "source",
		UploadTime:    uploaded,
		Data:          []byte("tarball bytes"),
	}})
}

func TestUpdate_SyncsNewRelease(t *testing.T) {
	ctx := context.Background()
	r := sampleRelease()

	index := &testutil.FakeIndex{
		Releases: map[string][]*release.Release{"foo": {r}},
	}
	wh := testutil.NewFakeWarehouse()
	p, fp, _ := newProcessor(t, index, wh)

	err := p.Update(ctx, pypi.Change{Name: "foo", Version: "1.0", Action: "new release"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := wh.Projects["foo"]; !ok {
		t.Error("expected project created")
	}
	v, ok := wh.Versions["foo/1.0"]
	if !ok {
		t.Fatal("expected version upserted")
	}
	if !slices.Equal(v.Classifiers, []string{"A", "B"}) {
		t.Errorf("expected deduped sorted classifiers, got %v", v.Classifiers)
	}
	f, ok := wh.Files["foo-1.0.tar.gz"]
	if !ok {
		t.Fatal("expected file upserted")
	}
	if f.Digests.SHA256 == "" {
		t.Error("expected locally computed sha256 on the file record")
	}

	stored, ok, _ := fp.Get(ctx, "foo", "1.0")
	if !ok || stored != release.Fingerprint(r) {
		t.Errorf("expected stored fingerprint to match, got %q ok=%v", stored, ok)
	}
}

func TestUpdate_AllVersionsWhenVersionAbsent(t *testing.T) {
	index := &testutil.FakeIndex{
		Releases: map[string][]*release.Release{"foo": {}},
	}
	wh := testutil.NewFakeWarehouse()
	p, _, _ := newProcessor(t, index, wh)

	if err := p.Update(context.Background(), pypi.Change{Name: "foo", Action: "create"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(index.ReleaseCalls) != 1 || index.ReleaseCalls[0] != "foo" {
		t.Errorf("expected an unversioned enumeration, got %v", index.ReleaseCalls)
	}
}

func TestUpdate_SkipsVersionWithSlash(t *testing.T) {
	ctx := context.Background()
	r := sampleRelease()
	r.Version = "1/0"

	index := &testutil.FakeIndex{
		Releases: map[string][]*release.Release{"foo": {r}},
	}
	wh := testutil.NewFakeWarehouse()
	p, fp, _ := newProcessor(t, index, wh)

	if err := p.Update(ctx, pypi.Change{Name: "foo", Action: "create"}, nil); err != nil {
		t.Fatalf("expected the bad version to be skipped, got %v", err)
	}

	for _, op := range wh.Ops {
		if strings.HasPrefix(op, "upsert-") || strings.HasPrefix(op, "delete-") {
			t.Errorf("expected no warehouse writes, got %v", wh.Ops)
			break
		}
	}
	if _, ok, _ := fp.Get(ctx, "foo", "1/0"); ok {
		t.Error("expected no fingerprint stored for the skipped version")
	}
}

func TestUpdate_SkipsUnchangedRelease(t *testing.T) {
	ctx := context.Background()
	r := sampleRelease()

	index := &testutil.FakeIndex{
		Releases: map[string][]*release.Release{"foo": {r}},
	}
	wh := testutil.NewFakeWarehouse()
	wh.Projects["foo"] = &warehouse.Project{Name: "foo"}

	p, fp, _ := newProcessor(t, index, wh)
	if err := fp.Set(ctx, "foo", "1.0", release.Fingerprint(r)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := p.Update(ctx, pypi.Change{Name: "foo", Version: "1.0", Action: "update summary"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(wh.Ops) != 0 {
		t.Errorf("expected zero warehouse writes for an unchanged release, got %v", wh.Ops)
	}
}

func TestUpdate_DeletesStaleFilesBeforeUpserts(t *testing.T) {
	ctx := context.Background()
	r := sampleRelease() // index now reports only foo-1.0.tar.gz

	index := &testutil.FakeIndex{
		Releases: map[string][]*release.Release{"foo": {r}},
	}
	wh := testutil.NewFakeWarehouse()
	wh.Projects["foo"] = &warehouse.Project{Name: "foo"}
	wh.Versions["foo/1.0"] = &warehouse.Version{Project: "foo", Version: "1.0"}
	wh.Files["foo-1.0.tar.gz"] = &warehouse.File{Project: "foo", Version: "1.0", Filename: "foo-1.0.tar.gz"}
	wh.Files["foo-1.0.win32.exe"] = &warehouse.File{Project: "foo", Version: "1.0", Filename: "foo-1.0.win32.exe"}

	p, _, _ := newProcessor(t, index, wh)
	if err := p.Update(ctx, pypi.Change{Name: "foo", Version: "1.0", Action: "update summary"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deleteIdx, upsertIdx := -1, -1
	for i, op := range wh.Ops {
		if op == "delete-files:foo-1.0.win32.exe" {
			deleteIdx = i
		}
		if op == "upsert-file:foo-1.0.tar.gz" {
			upsertIdx = i
		}
	}
	if deleteIdx == -1 {
		t.Fatalf("expected the stale file deleted, ops: %v", wh.Ops)
	}
	if upsertIdx == -1 {
		t.Fatalf("expected the remaining file upserted, ops: %v", wh.Ops)
	}
	if deleteIdx > upsertIdx {
		t.Errorf("expected deletions before upserts, ops: %v", wh.Ops)
	}
	if _, ok := wh.Files["foo-1.0.win32.exe"]; ok {
		t.Error("expected the stale file gone")
	}
}

func TestDelete_Project(t *testing.T) {
	ctx := context.Background()

	wh := testutil.NewFakeWarehouse()
	wh.Projects["foo"] = &warehouse.Project{Name: "foo"}
	wh.Versions["foo/1.0"] = &warehouse.Version{Project: "foo", Version: "1.0"}

	p, fp, st := newProcessor(t, &testutil.FakeIndex{}, wh)
	fp.Set(ctx, "foo", "1.0", "aaaa")
	fp.Set(ctx, "foo", "2.0", "bbbb")

	err := p.Delete(ctx, pypi.Change{Name: "foo", Action: "remove"}, []string{"remove"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := wh.Projects["foo"]; ok {
		t.Error("expected project deleted")
	}
	keys, _ := st.Keys(ctx, store.ProcessPattern("foo"))
	if len(keys) != 0 {
		t.Errorf("expected all foo fingerprints purged, got %v", keys)
	}
}

func TestDelete_Version(t *testing.T) {
	ctx := context.Background()

	wh := testutil.NewFakeWarehouse()
	wh.Projects["foo"] = &warehouse.Project{Name: "foo"}
	wh.Versions["foo/1.0"] = &warehouse.Version{Project: "foo", Version: "1.0"}

	p, fp, _ := newProcessor(t, &testutil.FakeIndex{}, wh)
	fp.Set(ctx, "foo", "1.0", "aaaa")
	fp.Set(ctx, "foo", "2.0", "bbbb")

	err := p.Delete(ctx, pypi.Change{Name: "foo", Version: "1.0", Action: "remove"}, []string{"remove"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := wh.Versions["foo/1.0"]; ok {
		t.Error("expected version deleted")
	}
	if _, ok, _ := fp.Get(ctx, "foo", "1.0"); ok {
		t.Error("expected the version's fingerprint purged")
	}
	if _, ok, _ := fp.Get(ctx, "foo", "2.0"); !ok {
		t.Error("expected other fingerprints untouched")
	}
}

func TestDelete_SingleFile(t *testing.T) {
	ctx := context.Background()

	wh := testutil.NewFakeWarehouse()
	wh.Files["foo-1.0.tar.gz"] = &warehouse.File{Project: "foo", Version: "1.0", Filename: "foo-1.0.tar.gz"}

	p, fp, _ := newProcessor(t, &testutil.FakeIndex{}, wh)
	fp.Set(ctx, "foo", "1.0", "aaaa")

	err := p.Delete(ctx,
		pypi.Change{Name: "foo", Version: "1.0", Action: "remove file foo-1.0.tar.gz"},
		[]string{"remove file foo-1.0.tar.gz", "foo-1.0.tar.gz"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := wh.Files["foo-1.0.tar.gz"]; ok {
		t.Error("expected file deleted")
	}
	// The release fingerprint stays: it differs naturally on the next
	// update.
	if _, ok, _ := fp.Get(ctx, "foo", "1.0"); !ok {
		t.Error("expected the release fingerprint untouched")
	}
}

func TestDelete_MissingTargetSwallowed(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newProcessor(t, &testutil.FakeIndex{}, testutil.NewFakeWarehouse())

	cases := []struct {
		ch    pypi.Change
		match []string
	}{
		{pypi.Change{Name: "ghost", Action: "remove"}, []string{"remove"}},
		{pypi.Change{Name: "ghost", Version: "1.0", Action: "remove"}, []string{"remove"}},
		{pypi.Change{Name: "ghost", Version: "1.0", Action: "remove file g.tar.gz"}, []string{"remove file g.tar.gz", "g.tar.gz"}},
	}
	for _, c := range cases {
		if err := p.Delete(ctx, c.ch, c.match); err != nil {
			t.Errorf("%q: expected missing target swallowed, got %v", c.ch.Action, err)
		}
	}
}

func TestUpdate_PropagatesIndexErrors(t *testing.T) {
	boom := errors.New("hash mismatch")
	index := &testutil.FakeIndex{
		Err: map[string]error{"foo": boom},
	}
	p, fp, _ := newProcessor(t, index, testutil.NewFakeWarehouse())

	err := p.Update(context.Background(), pypi.Change{Name: "foo", Version: "1.0", Action: "new release"}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the index error propagated, got %v", err)
	}
	if _, ok, _ := fp.Get(context.Background(), "foo", "1.0"); ok {
		t.Error("expected no fingerprint stored after a failed enumeration")
	}
}
