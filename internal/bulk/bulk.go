// Package bulk is the initial import job: it walks every project the index
// knows about through the same reconciler the engine uses, then writes the
// cursor baseline that lets the engine start ticking.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/crateio/carrier/internal/pypi"
	"github.com/crateio/carrier/internal/store"
	syncer "github.com/crateio/carrier/internal/sync"
)

// Importer runs the bulk import.
type Importer struct {
	index     syncer.Index
	processor *syncer.Processor
	store     *store.Store

	maxAttempts int
	baseDelay   time.Duration
}

// New wires an Importer. maxAttempts and baseDelay shape the per-package
// retry.
func New(index syncer.Index, processor *syncer.Processor, st *store.Store, maxAttempts int, baseDelay time.Duration) *Importer {
	if maxAttempts < 1 {
		maxAttempts = 10
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Importer{
		index:       index,
		processor:   processor,
		store:       st,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

// Run imports every package, one at a time, retrying each with exponential
// backoff. Packages that still fail after the retry budget are logged and
// skipped. The cursor is written last, to the wall-clock captured before
// the sweep, so the engine's first tick re-covers anything that changed
// while the import ran.
func (i *Importer) Run(ctx context.Context) error {
	start := time.Now().UTC().Truncate(time.Second)

	names, err := i.index.ListPackages(ctx)
	if err != nil {
		return fmt.Errorf("bulk: listing packages: %w", err)
	}

	log.Info().Int("packages", len(names)).Msg("starting bulk import")

	var failed int
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := i.importPackage(ctx, name); err != nil {
			failed++
			log.Error().Err(err).Str("name", name).Msg("bulk import of package failed")
		}
	}

	if err := i.store.SetSince(ctx, start); err != nil {
		return fmt.Errorf("bulk: writing cursor: %w", err)
	}

	log.Info().Int("packages", len(names)).Int("failed", failed).
		Msg("finished bulk import")
	return nil
}

// importPackage reconciles one project with retry. The package is the
// smallest unit of work: a transient failure mid-project refetches the
// whole project, which the fingerprint gate makes cheap.
func (i *Importer) importPackage(ctx context.Context, name string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = i.baseDelay
	bo.Multiplier = 2

	op := func() (any, error) {
		err := i.processor.Update(ctx, pypi.Change{Name: name}, nil)
		if err == nil {
			return nil, nil
		}

		var hashErr *pypi.HashMismatchError
		var protoErr *pypi.ProtocolError
		if errors.As(err, &hashErr) || errors.As(err, &protoErr) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(i.maxAttempts)),
	)
	return err
}
