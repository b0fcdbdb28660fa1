package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/crateio/carrier/internal/pypi"
	"github.com/crateio/carrier/internal/release"
	"github.com/crateio/carrier/internal/warehouse"
)

// FakeIndex is a scripted sync.Index.
type FakeIndex struct {
	Packages []string
	Changes  []pypi.Change
	// Releases holds the releases reported per project name.
	Releases map[string][]*release.Release

	// Err aborts EachRelease for the named project. When FailTimes has a
	// positive count for the project, the error clears after that many
	// calls.
	Err       map[string]error
	FailTimes map[string]int

	mu             sync.Mutex
	ChangelogCalls []int64
	ReleaseCalls   []string // "name" or "name==version"
}

func (f *FakeIndex) ListPackages(ctx context.Context) ([]string, error) {
	return f.Packages, nil
}

func (f *FakeIndex) Changelog(ctx context.Context, since int64) ([]pypi.Change, error) {
	f.mu.Lock()
	f.ChangelogCalls = append(f.ChangelogCalls, since)
	f.mu.Unlock()
	return f.Changes, nil
}

func (f *FakeIndex) EachRelease(ctx context.Context, name, version string, fn func(*release.Release) error) error {
	f.mu.Lock()
	call := name
	if version != "" {
		call = name + "==" + version
	}
	f.ReleaseCalls = append(f.ReleaseCalls, call)
	f.mu.Unlock()

	if err := f.Err[name]; err != nil {
		if n, limited := f.FailTimes[name]; limited {
			if n <= 0 {
				delete(f.Err, name)
			} else {
				f.FailTimes[name] = n - 1
				return err
			}
		} else {
			return err
		}
	}

	for _, r := range f.Releases[name] {
		if version != "" && r.Version != version {
			continue
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// FakeWarehouse is an in-memory sync.Warehouse that journals every write so
// tests can assert on call ordering and on the absence of writes.
type FakeWarehouse struct {
	mu       sync.Mutex
	Projects map[string]*warehouse.Project
	Versions map[string]*warehouse.Version // keyed project + "/" + version
	Files    map[string]*warehouse.File    // keyed filename

	// Ops is the journal of mutating object calls, in order.
	Ops []string
	// Notified records every NotifyLastModified timestamp.
	Notified []time.Time
}

// NewFakeWarehouse creates an empty warehouse.
func NewFakeWarehouse() *FakeWarehouse {
	return &FakeWarehouse{
		Projects: map[string]*warehouse.Project{},
		Versions: map[string]*warehouse.Version{},
		Files:    map[string]*warehouse.File{},
	}
}

func versionKey(project, version string) string {
	return project + "/" + version
}

func (w *FakeWarehouse) journal(format string, args ...any) {
	w.Ops = append(w.Ops, fmt.Sprintf(format, args...))
}

func (w *FakeWarehouse) GetOrCreateProject(ctx context.Context, name string) (*warehouse.Project, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.Projects[name]; ok {
		return p, false, nil
	}
	p := &warehouse.Project{Name: name}
	w.Projects[name] = p
	w.journal("create-project:%s", name)
	return p, true, nil
}

func (w *FakeWarehouse) UpsertVersion(ctx context.Context, rec warehouse.Version) (*warehouse.Version, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := versionKey(rec.Project, rec.Version)
	stored := rec
	w.Versions[key] = &stored

	// The full retrieval mode embeds the version's current files.
	out := stored
	for _, f := range w.Files {
		if f.Project == rec.Project && f.Version == rec.Version {
			out.Files = append(out.Files, *f)
		}
	}

	w.journal("upsert-version:%s", key)
	return &out, false, nil
}

func (w *FakeWarehouse) UpsertFile(ctx context.Context, rec warehouse.File) (*warehouse.File, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	created := w.Files[rec.Filename] == nil
	stored := rec
	w.Files[rec.Filename] = &stored
	w.journal("upsert-file:%s", rec.Filename)
	return &stored, created, nil
}

func (w *FakeWarehouse) DeleteFiles(ctx context.Context, filenames []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	missing := true
	for _, name := range filenames {
		if _, ok := w.Files[name]; ok {
			missing = false
		}
		delete(w.Files, name)
	}
	w.journal("delete-files:%s", strings.Join(filenames, ","))

	if missing {
		return &warehouse.NotFoundError{Resource: strings.Join(filenames, ",")}
	}
	return nil
}

func (w *FakeWarehouse) DeleteVersion(ctx context.Context, project, version string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := versionKey(project, version)
	w.journal("delete-version:%s", key)
	if _, ok := w.Versions[key]; !ok {
		return &warehouse.NotFoundError{Resource: key}
	}
	delete(w.Versions, key)
	for name, f := range w.Files {
		if f.Project == project && f.Version == version {
			delete(w.Files, name)
		}
	}
	return nil
}

func (w *FakeWarehouse) NotifyLastModified(ctx context.Context, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Notified = append(w.Notified, at)
	return nil
}

func (w *FakeWarehouse) DeleteProject(ctx context.Context, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.journal("delete-project:%s", name)
	if _, ok := w.Projects[name]; !ok {
		return &warehouse.NotFoundError{Resource: name}
	}
	delete(w.Projects, name)
	for key := range w.Versions {
		if strings.HasPrefix(key, name+"/") {
			delete(w.Versions, key)
		}
	}
	for fname, f := range w.Files {
		if f.Project == name {
			delete(w.Files, fname)
		}
	}
	return nil
}
