package sync

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/crateio/carrier/internal/metrics"
	"github.com/crateio/carrier/internal/pypi"
	"github.com/crateio/carrier/internal/release"
	"github.com/crateio/carrier/internal/store"
	"github.com/crateio/carrier/internal/warehouse"
)

// Index is the slice of the index client the engine consumes.
type Index interface {
	ListPackages(ctx context.Context) ([]string, error)
	Changelog(ctx context.Context, since int64) ([]pypi.Change, error)
	EachRelease(ctx context.Context, name, version string, fn func(*release.Release) error) error
}

// Warehouse is the slice of the warehouse client the engine consumes.
type Warehouse interface {
	GetOrCreateProject(ctx context.Context, name string) (*warehouse.Project, bool, error)
	UpsertVersion(ctx context.Context, rec warehouse.Version) (*warehouse.Version, bool, error)
	UpsertFile(ctx context.Context, rec warehouse.File) (*warehouse.File, bool, error)
	DeleteFiles(ctx context.Context, filenames []string) error
	DeleteVersion(ctx context.Context, project, version string) error
	DeleteProject(ctx context.Context, name string) error
}

// Processor reconciles releases between the index and the warehouse. It is
// safe to run across disjoint project names concurrently: everything it
// touches is keyed by immutable identity and tolerant of last-writer-wins.
type Processor struct {
	index        Index
	warehouse    Warehouse
	fingerprints *store.Fingerprints
	metrics      *metrics.Metrics
}

// NewProcessor wires a Processor.
func NewProcessor(index Index, wh Warehouse, fingerprints *store.Fingerprints, m *metrics.Metrics) *Processor {
	return &Processor{
		index:        index,
		warehouse:    wh,
		fingerprints: fingerprints,
		metrics:      m,
	}
}

// Update handles the "create", "new release", "add ... file ...", and
// "update ..." actions: it refetches the affected releases from the index
// and reconciles each one. When the entry names no version, every version
// the index reports is reconciled.
func (p *Processor) Update(ctx context.Context, ch pypi.Change, _ []string) error {
	project, _, err := p.warehouse.GetOrCreateProject(ctx, ch.Name)
	if err != nil {
		return err
	}

	return p.index.EachRelease(ctx, ch.Name, ch.Version, func(r *release.Release) error {
		return p.syncRelease(ctx, project.Name, r)
	})
}

// syncRelease reconciles one release: fingerprint gate, version upsert,
// file reconciliation, fingerprint write.
func (p *Processor) syncRelease(ctx context.Context, project string, r *release.Release) error {
	if strings.Contains(r.Version, "/") {
		// The warehouse addresses versions by URL path segment.
		log.Error().Str("name", r.Name).Str("version", r.Version).
			Msg("skipping version because it contains a '/'")
		return nil
	}

	fp := release.Fingerprint(r)

	stored, ok, err := p.fingerprints.Get(ctx, r.Name, r.Version)
	if err != nil {
		return err
	}
	if ok && stored == fp {
		log.Info().Str("name", r.Name).Str("version", r.Version).
			Msg("skipping version because it has not changed")
		p.metrics.ReleasesUnchanged.Inc()
		return nil
	}

	log.Info().Str("name", r.Name).Str("version", r.Version).Msg("syncing version")

	version, _, err := p.warehouse.UpsertVersion(ctx, warehouse.VersionRecord(r, project))
	if err != nil {
		return err
	}

	if err := p.syncFiles(ctx, project, version, r); err != nil {
		return err
	}

	if err := p.fingerprints.Set(ctx, r.Name, r.Version, fp); err != nil {
		return err
	}

	p.metrics.ReleasesSynced.Inc()
	for i := range r.Files {
		p.metrics.FilesDownloaded.Inc()
		p.metrics.DownloadBytes.Add(float64(len(r.Files[i].Data)))
	}
	return nil
}

// syncFiles brings the warehouse's file set for a version in line with the
// index's. Stale files are bulk-deleted BEFORE the upserts so that a
// re-uploaded filename is not blocked by the global filename uniqueness
// constraint.
func (p *Processor) syncFiles(ctx context.Context, project string, version *warehouse.Version, r *release.Release) error {
	local := make(map[string]struct{}, len(r.Files))
	for i := range r.Files {
		local[r.Files[i].Filename] = struct{}{}
	}

	var deleted []string
	for i := range version.Files {
		filename := version.Files[i].Filename
		if _, ok := local[filename]; !ok {
			deleted = append(deleted, filename)
		}
	}

	if len(deleted) > 0 {
		for _, filename := range deleted {
			log.Info().Str("name", r.Name).Str("version", r.Version).Str("filename", filename).
				Msg("deleting file")
		}
		if err := p.warehouse.DeleteFiles(ctx, deleted); err != nil {
			return err
		}
	}

	for i := range r.Files {
		rec := warehouse.FileRecord(&r.Files[i], project, version.Version)
		if _, _, err := p.warehouse.UpsertFile(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Delete handles the "remove" and "remove file ..." actions.
func (p *Processor) Delete(ctx context.Context, ch pypi.Change, match []string) error {
	switch {
	case ch.Action == "remove" && ch.Version == "":
		log.Info().Str("name", ch.Name).Msg("deleting project")
		if err := p.warehouse.DeleteProject(ctx, ch.Name); err != nil {
			if !warehouse.IsNotFound(err) {
				return err
			}
			log.Warn().Str("name", ch.Name).Msg("project already gone from warehouse")
		}
		return p.fingerprints.DeleteProject(ctx, ch.Name)

	case ch.Action == "remove":
		log.Info().Str("name", ch.Name).Str("version", ch.Version).Msg("deleting version")
		if err := p.warehouse.DeleteVersion(ctx, ch.Name, ch.Version); err != nil {
			if !warehouse.IsNotFound(err) {
				return err
			}
			log.Warn().Str("name", ch.Name).Str("version", ch.Version).
				Msg("version already gone from warehouse")
		}
		return p.fingerprints.Delete(ctx, ch.Name, ch.Version)

	case strings.HasPrefix(ch.Action, "remove file "):
		// The filename rides in the action text, captured by the dispatch
		// pattern. The parent release's fingerprint is left in place; it
		// differs naturally on the next update.
		filename := match[1]
		log.Info().Str("name", ch.Name).Str("version", ch.Version).Str("filename", filename).
			Msg("deleting file")
		if err := p.warehouse.DeleteFiles(ctx, []string{filename}); err != nil {
			if !warehouse.IsNotFound(err) {
				return err
			}
			log.Warn().Str("filename", filename).Msg("file already gone from warehouse")
		}
		return nil

	default:
		return &UnknownActionError{Action: ch.Action}
	}
}

// UnknownActionError is returned when a delete-routed action has an
// unrecognized shape. The dispatch table makes this unreachable in
// practice.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return "sync: unknown delete action " + strconv.Quote(e.Action)
}
